package planop

// LocationConstraint records where a base-table access or index
// maintenance operator's rows physically live: which table, which
// reference of that table within the statement, the physical location
// type, and its partition info. Constraints are registered into a
// service-wide array; operators reference entries by index in
// StrictPWJConstraint / NonStrictPWJConstraint.
type LocationConstraint struct {
	TableID         int
	RefID           int
	PhyLocationType string
	PartitionInfo   string
	Flags           int
}

// ---- GEN_LOCATION_CONSTRAINT traversal ----

type genLocationConstraintVisitor struct{}

func (genLocationConstraintVisitor) Pre(ctx *TraverseContext, op *Operator) error {
	return nil
}

func (genLocationConstraintVisitor) Post(ctx *TraverseContext, op *Operator) error {
	switch op.Type {
	case OpTableScan, OpInsert:
		idx := len(ctx.LocationConstraints)
		ctx.LocationConstraints = append(ctx.LocationConstraints, LocationConstraint{
			TableID: op.TableID,
			RefID:   op.ID,
		})
		op.StrictPWJConstraint = []int{idx}
		op.NonStrictPWJConstraint = []int{idx}
		return nil
	}

	switch len(op.Children) {
	case 0:
		return nil
	case 1:
		op.StrictPWJConstraint = op.Children[0].StrictPWJConstraint
		op.NonStrictPWJConstraint = op.Children[0].NonStrictPWJConstraint
		return nil
	}

	if op.Type == OpSet || op.Type == OpUnionRecursive {
		var nonStrict []int
		contributors := 0
		for _, c := range op.Children {
			if len(c.NonStrictPWJConstraint) > 0 {
				contributors++
			}
			nonStrict = append(nonStrict, c.NonStrictPWJConstraint...)
		}
		if contributors > 1 {
			ctx.NonStrictGroups = append(ctx.NonStrictGroups, nonStrict)
			op.NonStrictPWJConstraint = []int{len(ctx.NonStrictGroups) - 1 + groupIndexOffset}
		} else {
			op.NonStrictPWJConstraint = nonStrict
		}
		return nil
	}

	var strict []int
	contributors := 0
	for _, c := range op.Children {
		if len(c.StrictPWJConstraint) > 0 {
			contributors++
		}
		strict = append(strict, c.StrictPWJConstraint...)
	}
	if contributors > 1 {
		ctx.StrictGroups = append(ctx.StrictGroups, strict)
		op.StrictPWJConstraint = []int{len(ctx.StrictGroups) - 1 + groupIndexOffset}
	} else {
		op.StrictPWJConstraint = strict
	}
	return nil
}

// groupIndexOffset separates per-operator direct constraint indices from
// combined-group indices registered when more than one child contributes.
// Both live in the same int-index space an optimizer context would hand
// out; offsetting keeps the two distinguishable within this package
// without a second lookup table.
const groupIndexOffset = 1 << 30
