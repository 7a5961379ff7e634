package planop

// AllocExprContext tracks the producer/consumer bookkeeping for every
// non-constant expression registered during an ALLOC_EXPR traversal. An
// expression is "produced" once every sub-expression it depends on has
// itself been produced; once produced it is propagated into the
// output_exprs of every intermediate operator between its producer and
// its consumer.
type AllocExprContext struct {
	registered []*Expr
	produced   map[*Expr]bool
}

// NewAllocExprContext returns an empty expression allocation table.
func NewAllocExprContext() *AllocExprContext {
	return &AllocExprContext{produced: make(map[*Expr]bool)}
}

// Register adds e to the table with the given consumer and, unless e
// already has a producer id, sets its producer to -1 until MarkProduced
// records the real one. No provisional producer is derived from the
// consumer's descendants.
func (c *AllocExprContext) Register(e *Expr, consumerID int) {
	e.ConsumerID = consumerID
	if e.ProducerID == 0 {
		e.ProducerID = -1
	}
	c.registered = append(c.registered, e)
}

// MarkProduced records that e's value is now materialized at
// producerOpID and propagates it along the path to its consumer.
func (c *AllocExprContext) MarkProduced(e *Expr, producerOpID int, pathToConsumer []*Operator) {
	e.ProducerID = producerOpID
	c.produced[e] = true
	for _, op := range pathToConsumer {
		if op.ID == producerOpID || op.ID == e.ConsumerID {
			continue
		}
		op.OutputExprs = append(op.OutputExprs, e)
	}
}

// IsProduced reports whether e has been produced yet.
func (c *AllocExprContext) IsProduced(e *Expr) bool {
	return c.produced[e]
}

// Unproduced returns every registered expression not yet produced. A
// non-empty result at the root means the plan must be rejected: some
// expression was never materialized by any descendant.
func (c *AllocExprContext) Unproduced() []*Expr {
	var out []*Expr
	for _, e := range c.registered {
		if !c.produced[e] {
			out = append(out, e)
		}
	}
	return out
}

// ---- ALLOC_EXPR traversal ----

type allocExprVisitor struct{}

func (allocExprVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	for _, e := range op.OpExprs {
		ctx.ExprCtx.Register(e, op.ID)
	}
	return nil
}

func (allocExprVisitor) Post(ctx *TraverseContext, op *Operator) error {
	for _, e := range op.OpExprs {
		if ctx.ExprCtx.IsProduced(e) {
			continue
		}
		if !allSubExprsProduced(ctx, e, op) {
			continue
		}
		ctx.ExprCtx.MarkProduced(e, op.ID, ancestorPath(op))
	}
	if op.Parent != nil {
		for _, e := range op.OutputExprs {
			if !containsExpr(op.Parent.OutputExprs, e) {
				op.Parent.OutputExprs = append(op.Parent.OutputExprs, e)
			}
		}
	}
	return nil
}

func allSubExprsProduced(ctx *TraverseContext, e *Expr, op *Operator) bool {
	if len(op.Children) == 0 {
		return true
	}
	for _, c := range op.Children {
		for _, ce := range c.OpExprs {
			if ce != e && !ctx.ExprCtx.IsProduced(ce) {
				return false
			}
		}
	}
	return true
}

func ancestorPath(op *Operator) []*Operator {
	var path []*Operator
	for p := op; p != nil; p = p.Parent {
		path = append(path, p)
	}
	return path
}

func containsExpr(list []*Expr, e *Expr) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
