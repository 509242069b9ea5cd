// Package reachability finds bytecode that can never execute because it
// follows a call to a method marked as never returning.
package reachability

import (
	"sort"

	"github.com/zjy-dev/bytecover/internal/bytecode"
	"github.com/zjy-dev/bytecover/internal/logger"
)

// Range is an inclusive span of instruction offsets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Analyzer classifies instructions of a module's methods as reachable or not.
// The set of never-returning methods is resolved once, at construction.
type Analyzer struct {
	doesNotReturn map[string]bool
	log           logger.Leveled
}

// NewAnalyzer scans every call site of m and records the callees that carry
// one of the given attributes.
func NewAnalyzer(m *bytecode.Module, resolver bytecode.Resolver, attributes []string, log logger.Leveled) *Analyzer {
	a := &Analyzer{doesNotReturn: make(map[string]bool), log: log}
	if len(attributes) == 0 {
		return a
	}

	checked := make(map[string]bool)
	for _, t := range m.Types {
		for _, md := range t.Methods {
			if !md.HasBody() {
				continue
			}
			for _, h := range md.Body.Instructions() {
				ins := md.Body.At(h)
				if !isCall(ins) {
					continue
				}
				key := ins.Method.String()
				if checked[key] {
					continue
				}
				checked[key] = true

				target, err := resolver.Resolve(ins.Method)
				if err != nil {
					log.Warnf("Unable to resolve %s, assuming it returns: %v", key, err)
					continue
				}
				for _, attr := range attributes {
					if target.HasAttribute(attr) {
						a.doesNotReturn[ins.Method.FullName()] = true
						break
					}
				}
			}
		}
	}
	if len(a.doesNotReturn) > 0 {
		log.Debugf("Found %d never-returning methods in %s", len(a.doesNotReturn), m.Name)
	}
	return a
}

// DoesNotReturn reports whether a call to ref terminates the caller.
func (a *Analyzer) DoesNotReturn(ref *bytecode.MethodRef) bool {
	return ref != nil && a.doesNotReturn[ref.FullName()]
}

func isCall(ins *bytecode.Instruction) bool {
	return (ins.OpCode == bytecode.Call || ins.OpCode == bytecode.Callvirt) && ins.Method != nil
}

type block struct {
	first, last      int   // instruction indices, inclusive
	successors       []int // block indices
	unreachableAfter int   // index of the first never-returning call, or -1
	headReachable    bool
}

// FindUnreachable returns the sorted, inclusive offset ranges of body that
// cannot execute.
func (a *Analyzer) FindUnreachable(body *bytecode.Body) []Range {
	if body == nil || body.Len() == 0 || len(a.doesNotReturn) == 0 {
		return nil
	}

	handles := body.Instructions()
	index := make(map[bytecode.Handle]int, len(handles))
	for i, h := range handles {
		index[h] = i
	}

	blocks, blockAt := a.buildBlocks(body, handles, index)

	var stack []int
	stack = append(stack, 0)
	for _, eh := range body.Handlers {
		for _, h := range []bytecode.Handle{eh.HandlerStart, eh.FilterStart} {
			if h != bytecode.NoHandle {
				stack = append(stack, blockAt[index[h]])
			}
		}
	}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if blocks[b].headReachable {
			continue
		}
		blocks[b].headReachable = true
		if blocks[b].unreachableAfter < 0 {
			stack = append(stack, blocks[b].successors...)
		}
	}

	var ranges []Range
	for _, b := range blocks {
		switch {
		case !b.headReachable:
			ranges = append(ranges, Range{
				Start: body.At(handles[b.first]).Offset,
				End:   body.At(handles[b.last]).Offset,
			})
		case b.unreachableAfter >= 0 && b.unreachableAfter < b.last:
			ranges = append(ranges, Range{
				Start: body.At(handles[b.unreachableAfter+1]).Offset,
				End:   body.At(handles[b.last]).Offset,
			})
		}
	}
	return ranges
}

// buildBlocks partitions the instruction stream into basic blocks. blockAt
// maps the index of each block's first instruction to the block index.
func (a *Analyzer) buildBlocks(body *bytecode.Body, handles []bytecode.Handle, index map[bytecode.Handle]int) ([]*block, map[int]int) {
	n := len(handles)
	leaders := map[int]bool{0: true}
	mark := func(h bytecode.Handle) {
		if h != bytecode.NoHandle {
			leaders[index[h]] = true
		}
	}

	for i, h := range handles {
		ins := body.At(h)
		switch ins.OpCode.Operand {
		case bytecode.OperandBranch, bytecode.OperandShortBranch:
			mark(ins.Target)
		case bytecode.OperandSwitch:
			for _, t := range ins.Targets {
				mark(t)
			}
		}
		if (ins.OpCode.IsBranch() || ins.OpCode.EndsBlock()) && i+1 < n {
			leaders[i+1] = true
		}
	}
	for _, eh := range body.Handlers {
		mark(eh.TryStart)
		mark(eh.TryEnd)
		mark(eh.HandlerStart)
		mark(eh.HandlerEnd)
		mark(eh.FilterStart)
	}

	starts := make([]int, 0, len(leaders))
	for i := range leaders {
		starts = append(starts, i)
	}
	sort.Ints(starts)

	blockAt := make(map[int]int, len(starts))
	blocks := make([]*block, len(starts))
	for bi, start := range starts {
		last := n - 1
		if bi+1 < len(starts) {
			last = starts[bi+1] - 1
		}
		blocks[bi] = &block{first: start, last: last, unreachableAfter: -1}
		blockAt[start] = bi
	}

	for bi, b := range blocks {
		for i := b.first; i <= b.last; i++ {
			ins := body.At(handles[i])
			if isCall(ins) && a.DoesNotReturn(ins.Method) {
				b.unreachableAfter = i
				break
			}
		}

		tail := body.At(handles[b.last])
		fallsThrough := bi+1 < len(blocks)
		switch tail.OpCode.Flow {
		case bytecode.FlowReturn, bytecode.FlowThrow:
			fallsThrough = false
		case bytecode.FlowBranch:
			fallsThrough = false
			b.successors = append(b.successors, blockAt[index[tail.Target]])
		case bytecode.FlowCondBranch:
			if tail.OpCode.Operand == bytecode.OperandSwitch {
				for _, t := range tail.Targets {
					b.successors = append(b.successors, blockAt[index[t]])
				}
			} else {
				b.successors = append(b.successors, blockAt[index[tail.Target]])
			}
		}
		if fallsThrough {
			b.successors = append(b.successors, bi+1)
		}
	}
	return blocks, blockAt
}

// Contains reports whether offset falls inside one of the sorted ranges.
func Contains(ranges []Range, offset int) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].End >= offset })
	return i < len(ranges) && ranges[i].Start <= offset
}
