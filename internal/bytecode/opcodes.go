package bytecode

// OperandKind describes what an instruction operand refers to.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandInt8
	OperandInt32
	OperandVar
	OperandString
	OperandType
	OperandField
	OperandMethod
	OperandShortBranch
	OperandBranch
	OperandSwitch
)

// FlowControl classifies how an instruction transfers control.
type FlowControl int

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
	FlowThrow
)

// OpCode is a single entry of the instruction set.
type OpCode struct {
	Name    string
	Size    int // encoded size including the operand; switch adds 4 per target
	Operand OperandKind
	Flow    FlowControl
}

// IsBranch reports whether the opcode carries one or more branch targets.
func (o *OpCode) IsBranch() bool {
	return o.Operand == OperandBranch || o.Operand == OperandShortBranch || o.Operand == OperandSwitch
}

// EndsBlock reports whether no instruction can fall through from o.
func (o *OpCode) EndsBlock() bool {
	return o.Flow == FlowBranch || o.Flow == FlowReturn || o.Flow == FlowThrow
}

func op(name string, size int, operand OperandKind, flow FlowControl) *OpCode {
	return &OpCode{Name: name, Size: size, Operand: operand, Flow: flow}
}

var (
	Nop        = op("nop", 1, OperandNone, FlowNext)
	Ldnull     = op("ldnull", 1, OperandNone, FlowNext)
	Ldarg0     = op("ldarg.0", 1, OperandNone, FlowNext)
	Ldarg1     = op("ldarg.1", 1, OperandNone, FlowNext)
	Ldarg2     = op("ldarg.2", 1, OperandNone, FlowNext)
	Ldarg3     = op("ldarg.3", 1, OperandNone, FlowNext)
	LdargS     = op("ldarg.s", 2, OperandVar, FlowNext)
	Ldloc0     = op("ldloc.0", 1, OperandNone, FlowNext)
	Ldloc1     = op("ldloc.1", 1, OperandNone, FlowNext)
	Ldloc2     = op("ldloc.2", 1, OperandNone, FlowNext)
	Ldloc3     = op("ldloc.3", 1, OperandNone, FlowNext)
	LdlocS     = op("ldloc.s", 2, OperandVar, FlowNext)
	Stloc0     = op("stloc.0", 1, OperandNone, FlowNext)
	Stloc1     = op("stloc.1", 1, OperandNone, FlowNext)
	Stloc2     = op("stloc.2", 1, OperandNone, FlowNext)
	Stloc3     = op("stloc.3", 1, OperandNone, FlowNext)
	StlocS     = op("stloc.s", 2, OperandVar, FlowNext)
	LdcI4M1    = op("ldc.i4.m1", 1, OperandNone, FlowNext)
	LdcI40     = op("ldc.i4.0", 1, OperandNone, FlowNext)
	LdcI41     = op("ldc.i4.1", 1, OperandNone, FlowNext)
	LdcI42     = op("ldc.i4.2", 1, OperandNone, FlowNext)
	LdcI43     = op("ldc.i4.3", 1, OperandNone, FlowNext)
	LdcI4S     = op("ldc.i4.s", 2, OperandInt8, FlowNext)
	LdcI4      = op("ldc.i4", 5, OperandInt32, FlowNext)
	Ldstr      = op("ldstr", 5, OperandString, FlowNext)
	Dup        = op("dup", 1, OperandNone, FlowNext)
	Pop        = op("pop", 1, OperandNone, FlowNext)
	Add        = op("add", 1, OperandNone, FlowNext)
	Sub        = op("sub", 1, OperandNone, FlowNext)
	Mul        = op("mul", 1, OperandNone, FlowNext)
	Div        = op("div", 1, OperandNone, FlowNext)
	Rem        = op("rem", 1, OperandNone, FlowNext)
	And        = op("and", 1, OperandNone, FlowNext)
	Or         = op("or", 1, OperandNone, FlowNext)
	Xor        = op("xor", 1, OperandNone, FlowNext)
	Neg        = op("neg", 1, OperandNone, FlowNext)
	Not        = op("not", 1, OperandNone, FlowNext)
	ConvI4     = op("conv.i4", 1, OperandNone, FlowNext)
	Ceq        = op("ceq", 2, OperandNone, FlowNext)
	Cgt        = op("cgt", 2, OperandNone, FlowNext)
	Clt        = op("clt", 2, OperandNone, FlowNext)
	Ldlen      = op("ldlen", 1, OperandNone, FlowNext)
	LdelemI4   = op("ldelem.i4", 1, OperandNone, FlowNext)
	StelemI4   = op("stelem.i4", 1, OperandNone, FlowNext)
	Ldelema    = op("ldelema", 5, OperandType, FlowNext)
	Newarr     = op("newarr", 5, OperandType, FlowNext)
	Box        = op("box", 5, OperandType, FlowNext)
	Castclass  = op("castclass", 5, OperandType, FlowNext)
	Isinst     = op("isinst", 5, OperandType, FlowNext)
	Ldfld      = op("ldfld", 5, OperandField, FlowNext)
	Stfld      = op("stfld", 5, OperandField, FlowNext)
	Ldsfld     = op("ldsfld", 5, OperandField, FlowNext)
	Stsfld     = op("stsfld", 5, OperandField, FlowNext)
	Ldsflda    = op("ldsflda", 5, OperandField, FlowNext)
	Call       = op("call", 5, OperandMethod, FlowCall)
	Callvirt   = op("callvirt", 5, OperandMethod, FlowCall)
	Newobj     = op("newobj", 5, OperandMethod, FlowCall)
	Ldftn      = op("ldftn", 6, OperandMethod, FlowNext)
	Ret        = op("ret", 1, OperandNone, FlowReturn)
	Throw      = op("throw", 1, OperandNone, FlowThrow)
	Rethrow    = op("rethrow", 2, OperandNone, FlowThrow)
	Endfinally = op("endfinally", 1, OperandNone, FlowReturn)
	Endfilter  = op("endfilter", 2, OperandNone, FlowReturn)
	BrS        = op("br.s", 2, OperandShortBranch, FlowBranch)
	Br         = op("br", 5, OperandBranch, FlowBranch)
	LeaveS     = op("leave.s", 2, OperandShortBranch, FlowBranch)
	Leave      = op("leave", 5, OperandBranch, FlowBranch)
	BrfalseS   = op("brfalse.s", 2, OperandShortBranch, FlowCondBranch)
	Brfalse    = op("brfalse", 5, OperandBranch, FlowCondBranch)
	BrtrueS    = op("brtrue.s", 2, OperandShortBranch, FlowCondBranch)
	Brtrue     = op("brtrue", 5, OperandBranch, FlowCondBranch)
	BeqS       = op("beq.s", 2, OperandShortBranch, FlowCondBranch)
	Beq        = op("beq", 5, OperandBranch, FlowCondBranch)
	BgeS       = op("bge.s", 2, OperandShortBranch, FlowCondBranch)
	Bge        = op("bge", 5, OperandBranch, FlowCondBranch)
	BgtS       = op("bgt.s", 2, OperandShortBranch, FlowCondBranch)
	Bgt        = op("bgt", 5, OperandBranch, FlowCondBranch)
	BleS       = op("ble.s", 2, OperandShortBranch, FlowCondBranch)
	Ble        = op("ble", 5, OperandBranch, FlowCondBranch)
	BltS       = op("blt.s", 2, OperandShortBranch, FlowCondBranch)
	Blt        = op("blt", 5, OperandBranch, FlowCondBranch)
	BneUnS     = op("bne.un.s", 2, OperandShortBranch, FlowCondBranch)
	BneUn      = op("bne.un", 5, OperandBranch, FlowCondBranch)
	Switch     = op("switch", 5, OperandSwitch, FlowCondBranch)
)

var opcodes = map[string]*OpCode{}

// short form -> long form, and back
var (
	longForm  = map[*OpCode]*OpCode{}
	shortForm = map[*OpCode]*OpCode{}
)

func init() {
	all := []*OpCode{
		Nop, Ldnull, Ldarg0, Ldarg1, Ldarg2, Ldarg3, LdargS,
		Ldloc0, Ldloc1, Ldloc2, Ldloc3, LdlocS, Stloc0, Stloc1, Stloc2, Stloc3, StlocS,
		LdcI4M1, LdcI40, LdcI41, LdcI42, LdcI43, LdcI4S, LdcI4, Ldstr,
		Dup, Pop, Add, Sub, Mul, Div, Rem, And, Or, Xor, Neg, Not, ConvI4,
		Ceq, Cgt, Clt, Ldlen, LdelemI4, StelemI4, Ldelema, Newarr, Box, Castclass, Isinst,
		Ldfld, Stfld, Ldsfld, Stsfld, Ldsflda, Call, Callvirt, Newobj, Ldftn,
		Ret, Throw, Rethrow, Endfinally, Endfilter,
		BrS, Br, LeaveS, Leave, BrfalseS, Brfalse, BrtrueS, Brtrue,
		BeqS, Beq, BgeS, Bge, BgtS, Bgt, BleS, Ble, BltS, Blt, BneUnS, BneUn, Switch,
	}
	for _, o := range all {
		opcodes[o.Name] = o
	}

	pairs := [][2]*OpCode{
		{BrS, Br}, {LeaveS, Leave}, {BrfalseS, Brfalse}, {BrtrueS, Brtrue},
		{BeqS, Beq}, {BgeS, Bge}, {BgtS, Bgt}, {BleS, Ble}, {BltS, Blt}, {BneUnS, BneUn},
	}
	for _, p := range pairs {
		longForm[p[0]] = p[1]
		shortForm[p[1]] = p[0]
	}
}

// LookupOpCode returns the opcode with the given mnemonic.
func LookupOpCode(name string) (*OpCode, bool) {
	o, ok := opcodes[name]
	return o, ok
}
