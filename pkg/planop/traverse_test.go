package planop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildJoinTree constructs PROJECT(a, b) -> JOIN(a = a') -> [SORT(a) ->
// SCAN(T1), SCAN(T2)], the tree from spec.md example 5.
func buildJoinTree() (root, project, join, sort, scanT1, scanT2 *Operator) {
	scanT1 = NewOperator(OpTableScan)
	scanT1.TableID = 1
	scanT1.Ordering = OrderingInfo{}

	sort = NewOperator(OpSort)
	sort.AddChild(scanT1)
	sort.Ordering = OrderingInfo{SortKeys: []string{"a"}, IsLocalOrder: true}

	scanT2 = NewOperator(OpTableScan)
	scanT2.TableID = 2

	join = NewOperator(OpJoin)
	join.AddChild(sort)
	join.AddChild(scanT2)
	join.Filters = []*Expr{{Text: "a = a'", DependsOn: []int{0, 1}}}

	project = NewOperator(OpProject)
	project.AddChild(join)
	project.OutputExprs = []*Expr{{Text: "a"}, {Text: "b"}}

	return project, project, join, sort, scanT1, scanT2
}

func TestDoPlanTreeTraverseVisitsPreAndPostInOrder(t *testing.T) {
	root, _, join, sort, scanT1, scanT2 := buildJoinTree()
	var events []string
	v := &recordingVisitor{events: &events}

	ctx := NewTraverseContext("TEST")
	require.NoError(t, DoPlanTreeTraverse(root, ctx, v))

	require.Equal(t, []string{
		"pre:" + root.Type.String(),
		"pre:" + join.Type.String(),
		"pre:" + sort.Type.String(),
		"pre:" + scanT1.Type.String(),
		"post:" + scanT1.Type.String(),
		"post:" + sort.Type.String(),
		"pre:" + scanT2.Type.String(),
		"post:" + scanT2.Type.String(),
		"post:" + join.Type.String(),
		"post:" + root.Type.String(),
	}, events)
}

type recordingVisitor struct {
	events *[]string
}

func (r *recordingVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	*r.events = append(*r.events, "pre:"+op.Type.String())
	return nil
}

func (r *recordingVisitor) Post(ctx *TraverseContext, op *Operator) error {
	*r.events = append(*r.events, "post:"+op.Type.String())
	return nil
}

func TestOperatorNumberingAssignsDepthAndBranch(t *testing.T) {
	root, project, join, sort, scanT1, scanT2 := buildJoinTree()
	_ = project
	ctx, err := RunTraversal(TraversalOperatorNumbering, root)
	require.NoError(t, err)
	assert.NotNil(t, ctx)

	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, 1, join.Depth)
	assert.Equal(t, 2, sort.Depth)
	assert.Equal(t, 3, scanT1.Depth)
	assert.Equal(t, 2, scanT2.Depth)
	assert.True(t, join.BranchID >= scanT1.BranchID)
}

func TestComputePropertyOrderingInheritsFirstChild(t *testing.T) {
	_, project, join, sort, scanT1, scanT2 := buildJoinTree()
	ComputeProperty(scanT1)
	ComputeProperty(sort)
	ComputeProperty(scanT2)
	ComputeProperty(join)
	ComputeProperty(project)

	require.Equal(t, []string{"a"}, project.Ordering.SortKeys)
}

func TestComputePropertyConstExprsPushedDownFilter(t *testing.T) {
	_, project, join, sort, scanT1, scanT2 := buildJoinTree()
	scanT1.Filters = []*Expr{{Text: "T1.a = 5", DependsOn: []int{0}}}

	ComputeProperty(scanT1)
	ComputeProperty(sort)
	ComputeProperty(scanT2)
	ComputeProperty(join)
	ComputeProperty(project)

	assert.NotEmpty(t, sort.OutputConstExprs)
}

func TestComputePlanTypePromotesToDistributedAcrossExchange(t *testing.T) {
	scan := NewOperator(OpTableScan)
	exch := NewOperator(OpExchangeIn)
	exch.AddChild(scan)
	top := NewOperator(OpProject)
	top.AddChild(exch)

	ComputeProperty(scan)
	ComputeProperty(exch)
	ComputeProperty(top)

	assert.Equal(t, PlanDistributed, top.PlanType)
}

func TestPXPipeBlockingInsertsMaterialOnMultiDFOFanIn(t *testing.T) {
	left := NewOperator(OpExchangeIn)
	left.IsExch = true
	right := NewOperator(OpExchangeIn)
	right.IsExch = true
	join := NewOperator(OpHashJoin)
	join.AddChild(left)
	join.AddChild(right)

	_, err := RunTraversal(TraversalPXPipeBlocking, join)
	require.NoError(t, err)

	for _, c := range join.Children {
		assert.Equal(t, OpMaterial, c.Type)
	}
}

func TestAllocExprProducesAtRootForSimpleExpr(t *testing.T) {
	scan := NewOperator(OpTableScan)
	e := &Expr{Text: "a"}
	scan.OpExprs = []*Expr{e}
	project := NewOperator(OpProject)
	project.AddChild(scan)

	ctx, err := RunTraversal(TraversalAllocExpr, project)
	require.NoError(t, err)
	assert.Empty(t, ctx.ExprCtx.Unproduced())
}

func TestGenLocationConstraintUnionsOnSetOperator(t *testing.T) {
	left := NewOperator(OpTableScan)
	left.TableID = 1
	right := NewOperator(OpTableScan)
	right.TableID = 2
	set := NewOperator(OpSet)
	set.AddChild(left)
	set.AddChild(right)

	ctx, err := RunTraversal(TraversalGenLocationConstraint, set)
	require.NoError(t, err)
	assert.Len(t, ctx.LocationConstraints, 2)
	assert.NotEmpty(t, set.NonStrictPWJConstraint)
}

func TestProjectPruningRemovesUnreferencedColumns(t *testing.T) {
	scan := NewOperator(OpTableScan)
	scan.OutputExprs = []*Expr{{Text: "a"}, {Text: "unused"}}
	project := NewOperator(OpProject)
	project.AddChild(scan)
	project.OutputExprs = []*Expr{{Text: "a", DependsOn: []int{0}}}

	_, err := RunTraversal(TraversalProjectPruning, project)
	require.NoError(t, err)
	assert.Len(t, scan.OutputExprs, 1)
	assert.Equal(t, "a", scan.OutputExprs[0].Text)
}

func TestExplainProducesIndentedTree(t *testing.T) {
	root, _, _, _, _, _ := buildJoinTree()
	_, err := RunTraversal(TraversalOperatorNumbering, root)
	require.NoError(t, err)

	out, err := Explain(root, ExplainPlain)
	require.NoError(t, err)
	assert.Contains(t, out, "PROJECT")
	assert.Contains(t, out, "JOIN")
	assert.Contains(t, out, "TABLE_SCAN")
}
