package instrument

import (
	"fmt"
	"strings"

	"github.com/zjy-dev/bytecover/internal/bytecode"
)

const (
	trackerNamespace = "Bytecover.Tracker"
	runtimeScope     = "Bytecover.Runtime.bcl"
	threadingScope   = "System.Threading.bcl"
)

// TrackerTypeName returns the name of the tracker type injected into module.
func TrackerTypeName(module, identifier string) string {
	return fmt.Sprintf("%s.%s_%s", trackerNamespace, moduleName(module), identifier)
}

// IsTrackerType reports whether t was injected by a previous instrumentation.
func IsTrackerType(t *bytecode.TypeDef) bool {
	return strings.HasPrefix(t.FullName, trackerNamespace+".")
}

// trackerType is the synthetic per-module type holding the counters. The
// counter array length in .cctor is patched once all methods are rewritten.
type trackerType struct {
	typ             *bytecode.TypeDef
	cctor           *bytecode.MethodDef
	size            bytecode.Handle
	recordHit       *bytecode.MethodRef
	recordSingleHit *bytecode.MethodRef
}

func newTrackerType(module, identifier, hitsFilePath string, singleHit bool) *trackerType {
	name := TrackerTypeName(module, identifier)
	hitsArray := &bytecode.FieldRef{Type: "System.Int32[]", DeclaringType: name, Name: "HitsArray"}
	hitsPath := &bytecode.FieldRef{Type: "System.String", DeclaringType: name, Name: "HitsFilePath"}
	single := &bytecode.FieldRef{Type: "System.Boolean", DeclaringType: name, Name: "SingleHit"}

	t := &bytecode.TypeDef{
		FullName:   name,
		Attributes: []string{"System.Runtime.CompilerServices.CompilerGeneratedAttribute"},
		Fields: []*bytecode.FieldDef{
			{Name: hitsArray.Name, Type: hitsArray.Type, Static: true},
			{Name: hitsPath.Name, Type: hitsPath.Type, Static: true},
			{Name: single.Name, Type: single.Type, Static: true},
		},
	}
	tt := &trackerType{typ: t}

	unload := tt.addMethod("UnloadModule", []string{"System.Object", "System.EventArgs"},
		bytecode.Instruction{OpCode: bytecode.Ldsfld, Field: hitsPath},
		bytecode.Instruction{OpCode: bytecode.Ldsfld, Field: hitsArray},
		bytecode.Instruction{OpCode: bytecode.Ldsfld, Field: single},
		bytecode.Instruction{OpCode: bytecode.Call, Method: &bytecode.MethodRef{
			Scope: runtimeScope, ReturnType: "System.Void", DeclaringType: "Bytecover.Runtime.HitsFile", Name: "Flush",
			Params: []string{"System.String", "System.Int32[]", "System.Boolean"},
		}},
		bytecode.Instruction{OpCode: bytecode.Ret},
	)

	singleHitFlag := 0
	if singleHit {
		singleHitFlag = 1
	}
	tt.cctor = tt.addMethod(".cctor", nil,
		bytecode.Instruction{OpCode: bytecode.LdcI4, Int: 0},
		bytecode.Instruction{OpCode: bytecode.Newarr, Str: "System.Int32"},
		bytecode.Instruction{OpCode: bytecode.Stsfld, Field: hitsArray},
		bytecode.Instruction{OpCode: bytecode.Ldstr, Str: hitsFilePath},
		bytecode.Instruction{OpCode: bytecode.Stsfld, Field: hitsPath},
		bytecode.Instruction{OpCode: bytecode.LdcI4, Int: singleHitFlag},
		bytecode.Instruction{OpCode: bytecode.Stsfld, Field: single},
		bytecode.Instruction{OpCode: bytecode.Ldnull},
		bytecode.Instruction{OpCode: bytecode.Ldftn, Method: unload.Ref()},
		bytecode.Instruction{OpCode: bytecode.Newobj, Method: &bytecode.MethodRef{
			ReturnType: "System.Void", DeclaringType: "System.EventHandler", Name: ".ctor",
			Params: []string{"System.Object", "System.IntPtr"},
		}},
		bytecode.Instruction{OpCode: bytecode.Call, Method: &bytecode.MethodRef{
			Scope: runtimeScope, ReturnType: "System.Void", DeclaringType: "Bytecover.Runtime.Unload", Name: "Register",
			Params: []string{"System.EventHandler"},
		}},
		bytecode.Instruction{OpCode: bytecode.Ret},
	)
	tt.size = tt.cctor.Body.Instructions()[0]

	record := tt.addMethod("RecordHit", []string{"System.Int32"},
		bytecode.Instruction{OpCode: bytecode.Ldsfld, Field: hitsArray},
		bytecode.Instruction{OpCode: bytecode.Ldarg0},
		bytecode.Instruction{OpCode: bytecode.Ldelema, Str: "System.Int32"},
		bytecode.Instruction{OpCode: bytecode.Call, Method: &bytecode.MethodRef{
			Scope: threadingScope, ReturnType: "System.Int32", DeclaringType: "System.Threading.Interlocked", Name: "Increment",
			Params: []string{"System.Int32&"},
		}},
		bytecode.Instruction{OpCode: bytecode.Pop},
		bytecode.Instruction{OpCode: bytecode.Ret},
	)
	tt.recordHit = record.Ref()

	recordSingle := tt.addMethod("RecordSingleHit", []string{"System.Int32"},
		bytecode.Instruction{OpCode: bytecode.Ldsfld, Field: hitsArray},
		bytecode.Instruction{OpCode: bytecode.Ldarg0},
		bytecode.Instruction{OpCode: bytecode.Ldelema, Str: "System.Int32"},
		bytecode.Instruction{OpCode: bytecode.LdcI41},
		bytecode.Instruction{OpCode: bytecode.LdcI40},
		bytecode.Instruction{OpCode: bytecode.Call, Method: &bytecode.MethodRef{
			Scope: threadingScope, ReturnType: "System.Int32", DeclaringType: "System.Threading.Interlocked", Name: "CompareExchange",
			Params: []string{"System.Int32&", "System.Int32", "System.Int32"},
		}},
		bytecode.Instruction{OpCode: bytecode.Pop},
		bytecode.Instruction{OpCode: bytecode.Ret},
	)
	tt.recordSingleHit = recordSingle.Ref()

	return tt
}

func (tt *trackerType) addMethod(name string, params []string, code ...bytecode.Instruction) *bytecode.MethodDef {
	body := bytecode.NewBody()
	for _, ins := range code {
		body.Append(ins)
	}
	body.ComputeOffsets()
	md := &bytecode.MethodDef{
		Name:          name,
		ReturnType:    "System.Void",
		Params:        params,
		Static:        true,
		DeclaringType: tt.typ,
		Body:          body,
	}
	tt.typ.Methods = append(tt.typ.Methods, md)
	return md
}

// setSize patches the counter array length.
func (tt *trackerType) setSize(n int) {
	tt.cctor.Body.At(tt.size).Int = n
	tt.cctor.Body.OptimizeMacros()
}

func (tt *trackerType) recordMethod(singleHit bool) *bytecode.MethodRef {
	if singleHit {
		return tt.recordSingleHit
	}
	return tt.recordHit
}
