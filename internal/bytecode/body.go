package bytecode

import "fmt"

// Handle addresses an instruction inside a Body. Handles stay valid for the
// lifetime of the body no matter how many instructions are inserted.
type Handle int

// NoHandle is the "end of method" boundary, and the empty branch target.
const NoHandle Handle = -1

// Instruction is one instruction of a method body. Only the operand field
// matching OpCode.Operand is meaningful.
type Instruction struct {
	Offset  int
	OpCode  *OpCode
	Int     int      // OperandInt8, OperandInt32, OperandVar
	Str     string   // OperandString, OperandType
	Target  Handle   // OperandBranch, OperandShortBranch
	Targets []Handle // OperandSwitch
	Method  *MethodRef
	Field   *FieldRef
}

// Size returns the encoded size of the instruction.
func (i *Instruction) Size() int {
	if i.OpCode.Operand == OperandSwitch {
		return 1 + 4 + 4*len(i.Targets)
	}
	return i.OpCode.Size
}

// HandlerKind distinguishes exception handler clauses.
type HandlerKind int

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFinally
	HandlerFault
)

var handlerKindNames = map[HandlerKind]string{
	HandlerCatch:   "catch",
	HandlerFilter:  "filter",
	HandlerFinally: "finally",
	HandlerFault:   "fault",
}

func (k HandlerKind) String() string { return handlerKindNames[k] }

// ExceptionHandler is a protected region with its handler. End boundaries are
// exclusive; NoHandle means the end of the method.
type ExceptionHandler struct {
	Kind         HandlerKind
	CatchType    string
	TryStart     Handle
	TryEnd       Handle
	HandlerStart Handle
	HandlerEnd   Handle
	FilterStart  Handle
}

func (e *ExceptionHandler) boundaries() []*Handle {
	return []*Handle{&e.TryStart, &e.TryEnd, &e.HandlerStart, &e.HandlerEnd, &e.FilterStart}
}

// SequencePoint maps an instruction to a source line range.
type SequencePoint struct {
	Document  string
	StartLine int
	EndLine   int
	Hidden    bool
}

// Body is an arena of instructions in program order.
type Body struct {
	arena    []Instruction
	order    []Handle
	points   map[Handle]SequencePoint
	Handlers []*ExceptionHandler
}

// NewBody returns an empty body.
func NewBody() *Body {
	return &Body{points: make(map[Handle]SequencePoint)}
}

func (b *Body) alloc(ins Instruction) Handle {
	if ins.OpCode != nil && !ins.OpCode.IsBranch() {
		ins.Target = NoHandle
	} else if ins.OpCode != nil && ins.OpCode.Operand == OperandSwitch {
		ins.Target = NoHandle
	}
	b.arena = append(b.arena, ins)
	return Handle(len(b.arena) - 1)
}

// Append adds ins at the end of the body.
func (b *Body) Append(ins Instruction) Handle {
	h := b.alloc(ins)
	b.order = append(b.order, h)
	return h
}

// At returns the instruction behind h.
func (b *Body) At(h Handle) *Instruction {
	return &b.arena[h]
}

// Len returns the number of instructions in program order.
func (b *Body) Len() int { return len(b.order) }

// Instructions returns a snapshot of the handles in program order.
func (b *Body) Instructions() []Handle {
	return append([]Handle(nil), b.order...)
}

// IndexOf returns the program-order position of h, or -1.
func (b *Body) IndexOf(h Handle) int {
	for i, x := range b.order {
		if x == h {
			return i
		}
	}
	return -1
}

// Next returns the instruction following h, or NoHandle at the end.
func (b *Body) Next(h Handle) Handle {
	i := b.IndexOf(h)
	if i < 0 || i+1 >= len(b.order) {
		return NoHandle
	}
	return b.order[i+1]
}

// HandleAt returns the instruction currently at offset.
func (b *Body) HandleAt(offset int) (Handle, bool) {
	for _, h := range b.order {
		if b.arena[h].Offset == offset {
			return h, true
		}
	}
	return NoHandle, false
}

// InsertBefore inserts instructions immediately before h and returns the
// handle of the first inserted one. Nothing is rewired; see Rewire.
func (b *Body) InsertBefore(h Handle, ins ...Instruction) Handle {
	if len(ins) == 0 {
		return h
	}
	pos := b.IndexOf(h)
	if pos < 0 {
		panic(fmt.Sprintf("bytecode: handle %d is not part of the body", h))
	}
	handles := make([]Handle, len(ins))
	for i, in := range ins {
		handles[i] = b.alloc(in)
	}
	order := make([]Handle, 0, len(b.order)+len(handles))
	order = append(order, b.order[:pos]...)
	order = append(order, handles...)
	order = append(order, b.order[pos:]...)
	b.order = order
	return handles[0]
}

// Rewire repoints every branch operand and exception handler boundary that
// refers to old so that it refers to new instead.
func (b *Body) Rewire(old, new Handle) {
	if old == new {
		return
	}
	for _, h := range b.order {
		ins := &b.arena[h]
		switch ins.OpCode.Operand {
		case OperandBranch, OperandShortBranch:
			if ins.Target == old {
				ins.Target = new
			}
		case OperandSwitch:
			for i, t := range ins.Targets {
				if t == old {
					ins.Targets[i] = new
				}
			}
		}
	}
	for _, eh := range b.Handlers {
		for _, p := range eh.boundaries() {
			if *p == old {
				*p = new
			}
		}
	}
}

// SetSequencePoint attaches sp to h.
func (b *Body) SetSequencePoint(h Handle, sp SequencePoint) {
	if b.points == nil {
		b.points = make(map[Handle]SequencePoint)
	}
	b.points[h] = sp
}

// SequencePoint returns the sequence point attached to h.
func (b *Body) SequencePoint(h Handle) (SequencePoint, bool) {
	sp, ok := b.points[h]
	return sp, ok
}

// SequencePoints returns all sequence points in program order.
func (b *Body) SequencePoints() []SequencePoint {
	var out []SequencePoint
	for _, h := range b.order {
		if sp, ok := b.points[h]; ok {
			out = append(out, sp)
		}
	}
	return out
}

// HasVisibleSequencePoints reports whether any non-hidden sequence point exists.
func (b *Body) HasVisibleSequencePoints() bool {
	for _, sp := range b.points {
		if !sp.Hidden {
			return true
		}
	}
	return false
}

// ComputeOffsets lays the instructions out from offset zero.
func (b *Body) ComputeOffsets() {
	off := 0
	for _, h := range b.order {
		ins := &b.arena[h]
		ins.Offset = off
		off += ins.Size()
	}
}

// SimplifyMacros expands short branch and constant forms so that inserted
// code cannot push a displacement out of range.
func (b *Body) SimplifyMacros() {
	for _, h := range b.order {
		ins := &b.arena[h]
		if long, ok := longForm[ins.OpCode]; ok {
			ins.OpCode = long
		} else if ins.OpCode == LdcI4S {
			ins.OpCode = LdcI4
		}
	}
}

// OptimizeMacros shrinks constants and branches back to their short forms
// where the operand fits, and recomputes offsets.
func (b *Body) OptimizeMacros() {
	for _, h := range b.order {
		ins := &b.arena[h]
		if ins.OpCode == LdcI4 && ins.Int >= -128 && ins.Int <= 127 {
			ins.OpCode = LdcI4S
		}
	}
	b.ComputeOffsets()

	for _, h := range b.order {
		ins := &b.arena[h]
		if short, ok := shortForm[ins.OpCode]; ok && b.fitsShort(ins) {
			ins.OpCode = short
		}
	}

	for {
		b.ComputeOffsets()
		changed := false
		for _, h := range b.order {
			ins := &b.arena[h]
			if ins.OpCode.Operand == OperandShortBranch && !b.fitsShort(ins) {
				ins.OpCode = longForm[ins.OpCode]
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (b *Body) fitsShort(ins *Instruction) bool {
	if ins.Target == NoHandle {
		return false
	}
	d := b.arena[ins.Target].Offset - (ins.Offset + 2)
	return d >= -128 && d <= 127
}
