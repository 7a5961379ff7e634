package planop

import (
	"fmt"
	"strings"
)

// explainRow is one printable line built by EXPLAIN_COLLECT_WIDTH /
// EXPLAIN_WRITE_BUFFER, in pre-order.
type explainRow struct {
	indent int
	width  int
	text   string
}

// ---- EXPLAIN_COLLECT_WIDTH ----

type explainCollectWidthVisitor struct{}

func (explainCollectWidthVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	op.ExplainIndent = ctx.explainDepth
	ctx.explainDepth++
	op.ExplainWidth = len(op.Type.String()) + op.ExplainIndent*2
	for _, e := range op.OutputExprs {
		op.ExplainWidth += len(e.Text) + 2
	}
	return nil
}

func (explainCollectWidthVisitor) Post(ctx *TraverseContext, op *Operator) error {
	ctx.explainDepth--
	return nil
}

// ---- EXPLAIN_WRITE_BUFFER[_OUTPUT|_OUTLINE] ----

// ExplainFormat selects which flavor of row text EXPLAIN_WRITE_BUFFER
// produces.
type ExplainFormat uint8

const (
	ExplainPlain ExplainFormat = iota
	ExplainOutput
	ExplainOutline
)

type explainWriteBufferVisitor struct {
	format ExplainFormat
}

func (v explainWriteBufferVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	ctx.explainRows = append(ctx.explainRows, explainRow{
		indent: ctx.explainDepth,
		width:  op.ExplainWidth,
		text:   formatExplainRow(op, v.format),
	})
	ctx.explainDepth++
	return nil
}

func (explainWriteBufferVisitor) Post(ctx *TraverseContext, op *Operator) error {
	ctx.explainDepth--
	return nil
}

func formatExplainRow(op *Operator, format ExplainFormat) string {
	name := op.Type.String()
	switch format {
	case ExplainOutput:
		cols := make([]string, 0, len(op.OutputExprs))
		for _, e := range op.OutputExprs {
			cols = append(cols, e.Text)
		}
		if len(cols) > 0 {
			return fmt.Sprintf("%s(output=[%s])", name, strings.Join(cols, ", "))
		}
		return name
	case ExplainOutline:
		return fmt.Sprintf("%s(dop=%d)", name, op.ParallelDegree)
	default:
		return name
	}
}

// Explain renders root's plan tree as an indented, human-readable dump:
// one line per operator, children nested two spaces deeper than their
// parent. It runs EXPLAIN_COLLECT_WIDTH first so column widths are
// available to EXPLAIN_WRITE_BUFFER, matching the two-pass structure the
// traversal table documents.
func Explain(root *Operator, format ExplainFormat) (string, error) {
	if _, err := RunTraversal(TraversalExplainCollectWidth, root); err != nil {
		return "", err
	}
	ctx := NewTraverseContext(TraversalExplainWriteBuffer)
	v := explainWriteBufferVisitor{format: format}
	if err := DoPlanTreeTraverse(root, ctx, v); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, row := range ctx.explainRows {
		b.WriteString(strings.Repeat("  ", row.indent))
		b.WriteString(row.text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
