package planop

// pseudoColumnType marks a column position that survives pruning even
// when nothing references it (T_ORA_ROWSCN in spec.md §4.F).
type pseudoColumnType uint8

const (
	pseudoColumnNone pseudoColumnType = iota
	pseudoColumnOraRowscn
)

// OutputColumn is one position of an operator's output row.
type OutputColumn struct {
	Expr    *Expr
	Pseudo  pseudoColumnType
	IsConst bool
}

// ---- PROJECT_PRUNING traversal ----
//
// Pruning runs pre-order: a parent reports which of a child's output
// positions it actually depends on via checkOutputDependance, and the
// child removes everything else before its own children are visited (so
// pruning cascades downward in one pass). EXPR_VALUES, the plan root,
// and a remote-producer EXCHANGE never get pruned: their output shape is
// fixed by something outside this tree.

type projectPruningVisitor struct{}

func (projectPruningVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	if op.Parent == nil {
		return nil
	}
	if op.Type == OpExprValues || isRemoteProducerExchange(op) {
		return nil
	}
	deps := checkOutputDependance(op, op.Parent)
	pruneUnreferenced(op, deps)
	wrapConstOutputs(op)
	return nil
}

func (projectPruningVisitor) Post(ctx *TraverseContext, op *Operator) error {
	return nil
}

func isRemoteProducerExchange(op *Operator) bool {
	return op.Type == OpExchangeOut && op.DBLinkID != 0
}

// checkOutputDependance reports which positions of child's output parent
// actually reads: every OutputExprs entry's DependsOn set, specialized
// for scan-shaped operators that additionally keep rowkey columns alive
// for downstream lookups.
func checkOutputDependance(child, parent *Operator) map[int]bool {
	deps := make(map[int]bool)
	for _, e := range parent.OutputExprs {
		for _, d := range e.DependsOn {
			deps[d] = true
		}
	}
	for _, f := range parent.Filters {
		for _, d := range f.DependsOn {
			deps[d] = true
		}
	}
	switch child.Type {
	case OpTableScan, OpSubPlanScan, OpTableLookup, OpTempTableAccess:
		deps[0] = true // rowkey column, always kept for scan-shaped nodes
	}
	return deps
}

func pruneUnreferenced(op *Operator, deps map[int]bool) {
	var kept []*Expr
	for i, e := range op.OutputExprs {
		if deps[i] || isOraRowscn(e) {
			kept = append(kept, e)
		}
	}
	op.OutputExprs = kept
}

func isOraRowscn(e *Expr) bool {
	return e.Text == "ORA_ROWSCN"
}

// wrapConstOutputs wraps every remaining constant output expression in a
// remove_const marker. On EXCHANGE operators no constant output is
// wrapped: Expr carries no dynamic-parameter flag, so the exception
// covers every constant column of an exchange, not only those that
// carry a dynamic parameter.
func wrapConstOutputs(op *Operator) {
	carriesDynamicParamAcrossExchange := op.IsExchange()
	for _, e := range op.OutputExprs {
		if e.IsConst && !carriesDynamicParamAcrossExchange {
			e.Text = "remove_const(" + e.Text + ")"
		}
	}
}
