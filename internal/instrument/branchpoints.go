package instrument

import (
	"github.com/zjy-dev/bytecover/internal/bytecode"
	"github.com/zjy-dev/bytecover/internal/reachability"
)

// BranchPoint is one outcome of a conditional branch or switch.
type BranchPoint struct {
	Line      int    // -1 when no sequence point precedes the branch
	Document  string // empty when Line is -1
	Offset    int    // offset of the branching instruction
	EndOffset int    // offset where this outcome continues
	Path      int    // 0 is the fall-through
	Ordinal   int    // position across the whole method
}

// GetBranchPoints extracts the branch points of body, skipping branches that
// lie in an unreachable range. Offsets are those of the unmodified body.
func GetBranchPoints(body *bytecode.Body, unreachable []reachability.Range) []BranchPoint {
	var points []BranchPoint
	handles := body.Instructions()
	ordinal := 0

	for i, h := range handles {
		ins := body.At(h)
		if ins.OpCode.Flow != bytecode.FlowCondBranch {
			continue
		}
		if reachability.Contains(unreachable, ins.Offset) {
			continue
		}
		if i+1 >= len(handles) {
			continue
		}

		var targets []bytecode.Handle
		if ins.OpCode.Operand == bytecode.OperandSwitch {
			targets = ins.Targets
		} else {
			targets = []bytecode.Handle{ins.Target}
		}

		fallThrough := body.At(handles[i+1]).Offset
		ends := []int{fallThrough}
		seen := map[int]bool{fallThrough: true}
		for _, t := range targets {
			off := body.At(t).Offset
			if seen[off] {
				continue
			}
			seen[off] = true
			ends = append(ends, off)
		}
		if len(ends) < 2 {
			continue
		}

		line, doc := closestSequencePoint(body, handles, i)
		for path, end := range ends {
			points = append(points, BranchPoint{
				Line:      line,
				Document:  doc,
				Offset:    ins.Offset,
				EndOffset: end,
				Path:      path,
				Ordinal:   ordinal,
			})
			ordinal++
		}
	}
	return points
}

func closestSequencePoint(body *bytecode.Body, handles []bytecode.Handle, from int) (int, string) {
	for i := from; i >= 0; i-- {
		if sp, ok := body.SequencePoint(handles[i]); ok && !sp.Hidden {
			return sp.StartLine, sp.Document
		}
	}
	return -1, ""
}
