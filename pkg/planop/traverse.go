package planop

import (
	"fmt"

	"github.com/nautical-db/tablet/pkg/metrics"
)

// TraversalName identifies one of the closed set of named traversals
// do_plan_tree_traverse can run. Each has its own pre/post semantics;
// see the table in spec.md §4.F.
type TraversalName string

const (
	TraversalPXPipeBlocking        TraversalName = "PX_PIPE_BLOCKING"
	TraversalAllocGI               TraversalName = "ALLOC_GI"
	TraversalAllocExpr             TraversalName = "ALLOC_EXPR"
	TraversalOperatorNumbering     TraversalName = "OPERATOR_NUMBERING"
	TraversalExchangeNumbering     TraversalName = "EXCHANGE_NUMBERING"
	TraversalProjectPruning        TraversalName = "PROJECT_PRUNING"
	TraversalGenLocationConstraint TraversalName = "GEN_LOCATION_CONSTRAINT"
	TraversalPXEstimateSize        TraversalName = "PX_ESTIMATE_SIZE"
	TraversalAllocStartupExpr      TraversalName = "ALLOC_STARTUP_EXPR"
	TraversalAllocLink             TraversalName = "ALLOC_LINK"
	TraversalExplainCollectWidth   TraversalName = "EXPLAIN_COLLECT_WIDTH"
	TraversalExplainWriteBuffer    TraversalName = "EXPLAIN_WRITE_BUFFER"
)

// Visitor is implemented once per named traversal. Pre is called on the
// way down before recursing into children; Post is called on the way
// back up after every child has been fully visited. Either may be a
// no-op; the traversal table in spec.md §4.F marks several as "—".
type Visitor interface {
	Pre(ctx *TraverseContext, op *Operator) error
	Post(ctx *TraverseContext, op *Operator) error
}

// TraverseContext carries the mutable state a traversal thread needs
// beyond what lives on each Operator: the expression allocation table,
// generated numbering counters, and the location-constraint groups being
// built up. A fresh context is created per traversal run.
type TraverseContext struct {
	Name TraversalName

	ExprCtx *AllocExprContext

	NextOperatorID int
	NextBranchID   int
	NextPXID       int

	LocationConstraints []LocationConstraint
	StrictGroups        [][]int
	NonStrictGroups     [][]int

	explainDepth int
	explainRows  []explainRow
}

// NewTraverseContext creates an empty context for running name.
func NewTraverseContext(name TraversalName) *TraverseContext {
	return &TraverseContext{Name: name, ExprCtx: NewAllocExprContext()}
}

// DoPlanTreeTraverse runs the named traversal over op and its subtree:
// pre(op), then each child left to right, then post(op). It records a
// Prometheus observation for the whole run keyed by traversal name.
func DoPlanTreeTraverse(op *Operator, ctx *TraverseContext, v Visitor) error {
	timer := metrics.NewTimer()
	err := doPlanTreeTraverse(op, ctx, v)
	metrics.PlanTraversalsTotal.WithLabelValues(string(ctx.Name)).Inc()
	timer.ObserveDurationVec(metrics.PlanTraversalDuration, string(ctx.Name))
	return err
}

func doPlanTreeTraverse(op *Operator, ctx *TraverseContext, v Visitor) error {
	if op == nil {
		return nil
	}
	if err := v.Pre(ctx, op); err != nil {
		return fmt.Errorf("planop: %s: pre(%s): %w", ctx.Name, op, err)
	}
	for _, child := range op.Children {
		if err := doPlanTreeTraverse(child, ctx, v); err != nil {
			return err
		}
	}
	if err := v.Post(ctx, op); err != nil {
		return fmt.Errorf("planop: %s: post(%s): %w", ctx.Name, op, err)
	}
	return nil
}

// RunTraversal looks up the visitor for name and drives the full
// traversal starting at root, returning the context so callers can
// inspect whatever side tables the traversal built (expression table,
// location constraints, explain rows).
func RunTraversal(name TraversalName, root *Operator) (*TraverseContext, error) {
	v, ok := traversalTable[name]
	if !ok {
		return nil, fmt.Errorf("planop: unknown traversal %q", name)
	}
	ctx := NewTraverseContext(name)
	if err := DoPlanTreeTraverse(root, ctx, v); err != nil {
		return nil, err
	}
	return ctx, nil
}

var traversalTable = map[TraversalName]Visitor{
	TraversalPXPipeBlocking:        pxPipeBlockingVisitor{},
	TraversalAllocGI:               allocGIVisitor{},
	TraversalAllocExpr:             allocExprVisitor{},
	TraversalOperatorNumbering:     operatorNumberingVisitor{},
	TraversalExchangeNumbering:     exchangeNumberingVisitor{},
	TraversalProjectPruning:        projectPruningVisitor{},
	TraversalGenLocationConstraint: genLocationConstraintVisitor{},
	TraversalPXEstimateSize:        pxEstimateSizeVisitor{},
	TraversalAllocStartupExpr:      allocStartupExprVisitor{},
	TraversalAllocLink:             allocLinkVisitor{},
	TraversalExplainCollectWidth:   explainCollectWidthVisitor{},
	TraversalExplainWriteBuffer:    explainWriteBufferVisitor{},
}

// ---- PX_PIPE_BLOCKING ----

type pxPipeBlockingVisitor struct{}

func (pxPipeBlockingVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	for _, c := range op.Children {
		c.IsExch = c.IsExch || op.IsExch
	}
	return nil
}

func (pxPipeBlockingVisitor) Post(ctx *TraverseContext, op *Operator) error {
	multiDFOFanIn := 0
	for _, c := range op.Children {
		if c.IsExch {
			multiDFOFanIn++
		}
	}
	if multiDFOFanIn > 1 {
		insertMaterialAbove(op)
	}
	return nil
}

func insertMaterialAbove(op *Operator) {
	for i, c := range op.Children {
		if !c.IsExch {
			continue
		}
		mat := NewOperator(OpMaterial)
		mat.AddChild(c)
		mat.Parent = op
		op.Children[i] = mat
	}
}

// ---- ALLOC_GI ----

type allocGIVisitor struct{}

func (allocGIVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	if len(op.Children) > 1 {
		op.MultiChildOpCount++
	}
	if op.Type == OpTableScan && op.MultiChildOpCount > 0 {
		op.HasGranuleIter = true
	}
	return nil
}

func (allocGIVisitor) Post(ctx *TraverseContext, op *Operator) error {
	if len(op.Children) > 1 {
		op.MultiChildOpCount--
	}
	if op.Type == OpTableScan && op.MultiChildOpCount == 0 && !op.HasGranuleIter {
		op.HasGranuleIter = true
		op.IsPartitionWise = partitionWiseEligible(op)
		op.Affinize = op.IsPartitionWise
	}
	return nil
}

func partitionWiseEligible(op *Operator) bool {
	return len(op.StrictPWJConstraint) > 0
}

// ---- OPERATOR_NUMBERING ----

// operatorNumberingVisitor assigns operator id, depth and branch id in
// Pre, so ids follow pre-order; Post assigns nothing, and no post-order
// id is recorded.
type operatorNumberingVisitor struct{}

func (operatorNumberingVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	op.ID = ctx.NextOperatorID
	ctx.NextOperatorID++
	if op.Parent != nil {
		op.Depth = op.Parent.Depth + 1
	}
	if len(op.Children) > 1 {
		ctx.NextBranchID++
	}
	op.BranchID = ctx.NextBranchID
	return nil
}

func (operatorNumberingVisitor) Post(ctx *TraverseContext, op *Operator) error {
	return nil
}

// ---- EXCHANGE_NUMBERING ----

type exchangeNumberingVisitor struct{}

func (exchangeNumberingVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	if op.Type == OpExchangeIn && op.Rescanable {
		ctx.NextPXID++
		op.PXID = ctx.NextPXID
	}
	return nil
}

func (exchangeNumberingVisitor) Post(ctx *TraverseContext, op *Operator) error {
	if op.Type != OpExchangeOut {
		return nil
	}
	op.PXID = ctx.NextPXID
	op.DFOID = op.ID
	if op.ParallelDegree <= 0 {
		op.ParallelDegree = 1
	}
	return nil
}

// ---- PX_ESTIMATE_SIZE ----

type pxEstimateSizeVisitor struct{}

func (pxEstimateSizeVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	if op.Parent == nil {
		return nil
	}
	for _, c := range op.Children {
		if c.HasGranuleIter {
			c.EstWidth = op.EstWidth
		}
	}
	return nil
}

func (pxEstimateSizeVisitor) Post(ctx *TraverseContext, op *Operator) error {
	if op.IsExchange() {
		op.EstWidth = 0
		return nil
	}
	for i, c := range op.Children {
		if op.Type == OpHashJoin && i == 1 {
			continue
		}
		op.EstWidth += c.EstWidth
	}
	return nil
}

// ---- ALLOC_STARTUP_EXPR ----

type allocStartupExprVisitor struct{}

func (allocStartupExprVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	return nil
}

func (allocStartupExprVisitor) Post(ctx *TraverseContext, op *Operator) error {
	if op.Parent == nil {
		return nil
	}
	var keep []*Expr
	for _, f := range op.Filters {
		if dependsOnRownumOrDynamicParam(f) {
			keep = append(keep, f)
			continue
		}
		op.Parent.Filters = append(op.Parent.Filters, f)
	}
	op.Filters = keep
	return nil
}

func dependsOnRownumOrDynamicParam(e *Expr) bool {
	for _, d := range e.DependsOn {
		if d < 0 {
			return true
		}
	}
	return false
}

// ---- ALLOC_LINK ----

type allocLinkVisitor struct{}

func (allocLinkVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	return nil
}

func (allocLinkVisitor) Post(ctx *TraverseContext, op *Operator) error {
	if len(op.Children) == 0 {
		return nil
	}
	link := op.Children[0].DBLinkID
	if link == 0 {
		return nil
	}
	for _, c := range op.Children[1:] {
		if c.DBLinkID != link {
			return wrapRemoteChildrenInLink(op)
		}
	}
	op.DBLinkID = link
	return nil
}

func wrapRemoteChildrenInLink(op *Operator) error {
	for i, c := range op.Children {
		if c.DBLinkID == 0 {
			continue
		}
		linkNode := NewOperator(OpLink)
		linkNode.DBLinkID = c.DBLinkID
		linkNode.AddChild(c)
		linkNode.Parent = op
		op.Children[i] = linkNode
	}
	return nil
}

// ---- EXPLAIN_COLLECT_WIDTH / EXPLAIN_WRITE_BUFFER are defined in explain.go ----
