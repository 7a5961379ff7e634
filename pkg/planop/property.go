package planop

// ComputeProperty runs the full bottom-up compute_property chain on op,
// assuming every child already has its own properties computed (the
// optimizer calls this once per node as the plan tree is built, not as a
// traversal over an already-complete tree, so this is a plain function
// rather than a Visitor).
func ComputeProperty(op *Operator) {
	computeConstExprs(op)
	computeEqualSet(op)
	computeFDItemSet(op)
	computeTableSet(op)
	computeOneRowInfo(op)
	computePipelineInfo(op)
	computeShardingInfo(op)
	computePlanType(op)
	computeOpOtherInfo(op)
	computeOpOrdering(op)
	computeOpParallelAndServerInfo(op)
	estWidthAndCost(op)
}

// 1. compute_const_exprs: union all children's output-const-exprs; a
// deterministic equality filter fixing a column to a constant also
// contributes that column.
func computeConstExprs(op *Operator) {
	var out []*Expr
	for _, c := range op.Children {
		out = append(out, c.OutputConstExprs...)
	}
	for _, f := range op.Filters {
		if col, ok := equalityToConstColumn(f); ok {
			out = append(out, col)
		}
	}
	op.OutputConstExprs = out
}

func equalityToConstColumn(f *Expr) (*Expr, bool) {
	if !f.IsConst && len(f.DependsOn) == 1 {
		return &Expr{Text: f.Text, DependsOn: f.DependsOn, IsConst: true}, true
	}
	return nil, false
}

// 2. compute_equal_set: no filters -> inherit first child's equal sets;
// otherwise derive new equivalence classes from the filters.
func computeEqualSet(op *Operator) {
	if len(op.Filters) == 0 {
		if len(op.Children) > 0 {
			op.EqualSets = op.Children[0].EqualSets
		}
		return
	}
	op.EqualSets = deriveEqualSets(op.Filters)
}

func deriveEqualSets(filters []*Expr) [][]*Expr {
	var sets [][]*Expr
	for _, f := range filters {
		if len(f.DependsOn) != 2 {
			continue
		}
		sets = append(sets, []*Expr{f})
	}
	return sets
}

// 3. compute_fd_item_set: inherit from first child, empty for leaves.
func computeFDItemSet(op *Operator) {
	if len(op.Children) == 0 {
		op.FDItemSet = nil
		return
	}
	op.FDItemSet = op.Children[0].FDItemSet
}

// 4. compute_table_set: single-child and SUBPLAN_FILTER inherit the
// first child's relation ids (a subplan filter's right side is internal
// and never visible to the outer query); everything else unions.
func computeTableSet(op *Operator) {
	if len(op.Children) == 1 || op.Type == OpSubPlanFilter {
		if len(op.Children) > 0 {
			op.TableSet = op.Children[0].TableSet
		}
		return
	}
	seen := make(map[int]bool)
	var out []int
	for _, c := range op.Children {
		for _, t := range c.TableSet {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	op.TableSet = out
}

// 5. compute_one_row_info: at-most-one-row iff every child is.
func computeOneRowInfo(op *Operator) {
	one := true
	for _, c := range op.Children {
		one = one && c.IsAtMostOneRow
	}
	op.IsAtMostOneRow = one
}

// 6. compute_pipeline_info: pipelined iff not blocking and all children
// are pipelined.
func computePipelineInfo(op *Operator) {
	if op.IsBlocking() {
		op.IsPipelined = false
		return
	}
	pipelined := true
	for _, c := range op.Children {
		pipelined = pipelined && c.IsPipelined
	}
	op.IsPipelined = pipelined
}

// 7. compute_sharding_info: inherit first child's sharding.
func computeShardingInfo(op *Operator) {
	if len(op.Children) == 0 {
		return
	}
	op.Sharding = op.Children[0].Sharding
}

// 8. compute_plan_type: LOCAL/REMOTE/DISTRIBUTED from self; any child
// with an exchange allocated beneath it promotes to DISTRIBUTED;
// UNCERTAIN propagates.
func computePlanType(op *Operator) {
	pt := selfPlanType(op)
	for _, c := range op.Children {
		if c.PlanType == PlanUncertain {
			pt = PlanUncertain
			break
		}
		if c.IsExchange() || c.PlanType == PlanDistributed {
			pt = PlanDistributed
		}
	}
	op.PlanType = pt
}

func selfPlanType(op *Operator) PlanType {
	if op.DBLinkID != 0 {
		return PlanRemote
	}
	return PlanLocal
}

// 9. compute_op_other_info: OR-fold of containment bits across children,
// with per-type exceptions: recursive UNION does not propagate fake-cte
// containment; MERGE_AGGREGATE's group-by sets its own pw-merge bit.
func computeOpOtherInfo(op *Operator) {
	var info OtherInfo
	for _, c := range op.Children {
		if op.Type != OpUnionRecursive {
			info.ContainsFakeCTE = info.ContainsFakeCTE || c.OtherInfo.ContainsFakeCTE
		}
		info.ContainsDASOp = info.ContainsDASOp || c.OtherInfo.ContainsDASOp
		info.ContainsPWMergeOp = info.ContainsPWMergeOp || c.OtherInfo.ContainsPWMergeOp
		info.ContainsMatchAllFakeCTE = info.ContainsMatchAllFakeCTE || c.OtherInfo.ContainsMatchAllFakeCTE
	}
	if op.Type == OpMergeAggregate {
		info.ContainsPWMergeOp = true
	}
	op.OtherInfo = info
}

// 10. compute_op_ordering: inherit first child's sort-key list and
// locality flags. SORT establishes its own order rather than inheriting
// one, so it is the one operator type this step leaves alone.
func computeOpOrdering(op *Operator) {
	if op.Type == OpSort {
		return
	}
	if len(op.Children) == 0 {
		return
	}
	op.Ordering = op.Children[0].Ordering
}

// 11. compute_op_parallel_and_server_info: parallel degree is the first
// non-EXCHANGE child's parallelism; every EXCHANGE-IN child is refined
// to that chosen degree.
func computeOpParallelAndServerInfo(op *Operator) {
	dop := 1
	for _, c := range op.Children {
		if !c.IsExchange() {
			dop = c.ParallelDegree
			break
		}
	}
	op.ParallelDegree = dop
	for _, c := range op.Children {
		if c.Type == OpExchangeIn {
			c.ParallelDegree = dop
		}
	}
}

// 12. est_width and est_cost delegate to an external cost model driven
// by table statistics; this package owns only the property plumbing, so
// CostModel is a narrow seam the optimizer (out of scope) implements.
type CostModel interface {
	EstWidth(op *Operator) float64
	EstCost(op *Operator) float64
}

var activeCostModel CostModel = defaultCostModel{}

// SetCostModel installs the cost model est_width/est_cost delegate to.
// Tests and the optimizer package call this once at startup.
func SetCostModel(m CostModel) {
	if m == nil {
		m = defaultCostModel{}
	}
	activeCostModel = m
}

func estWidthAndCost(op *Operator) {
	op.EstWidth = activeCostModel.EstWidth(op)
	op.EstCost = activeCostModel.EstCost(op)
}

// defaultCostModel is a row-count-free placeholder: width sums children,
// cost counts nodes. Good enough for tests; real costing is external.
type defaultCostModel struct{}

func (defaultCostModel) EstWidth(op *Operator) float64 {
	var w float64
	for _, c := range op.Children {
		w += c.EstWidth
	}
	if w == 0 {
		w = float64(len(op.OutputExprs))
	}
	return w
}

func (defaultCostModel) EstCost(op *Operator) float64 {
	cost := 1.0
	for _, c := range op.Children {
		cost += c.EstCost
	}
	return cost
}
