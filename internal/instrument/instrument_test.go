package instrument

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/bytecover/internal/bytecode"
	"github.com/zjy-dev/bytecover/internal/logger"
)

const calcListing = `.module Calc.bcl
.class Demo.Calc
  .method static System.Int32 Abs(System.Int32)
    .line 10,10 '/src/Calc.cs'
    IL_0000: ldarg.0
    IL_0001: ldc.i4.0
    IL_0002: bge.s IL_0007
    .line 11,11 '/src/Calc.cs'
    IL_0004: ldarg.0
    IL_0005: neg
    IL_0006: ret
    .line 12,12 '/src/Calc.cs'
    IL_0007: ldarg.0
    IL_0008: ret
  .method static System.Void Guarded()
    .line 20,20 '/src/Calc.cs'
    IL_0000: nop
    IL_0001: leave.s IL_0004
    .line 21,21 '/src/Calc.cs'
    IL_0003: pop
    .line 22,22 '/src/Calc.cs'
    IL_0004: ret
    .try IL_0000 to IL_0003 catch System.Exception handler IL_0003 to IL_0004
  .method static System.Void Fail()
    .custom System.Diagnostics.CodeAnalysis.DoesNotReturnAttribute
    .line 30,30 '/src/Calc.cs'
    IL_0000: ldnull
    IL_0001: throw
  .method static System.Void Run()
    .line 40,40 '/src/Calc.cs'
    IL_0000: call System.Void Demo.Calc::Fail()
    .line 41,41 '/src/Calc.cs'
    IL_0005: nop
    .line 42,43 '/src/Calc.cs'
    IL_0006: ret
  .method static System.Void Skipped()
    .custom ExcludeFromCodeCoverageAttribute
    .line 50,50 '/src/Calc.cs'
    IL_0000: ret
.class Demo.Calc/<>c
  .custom System.Runtime.CompilerServices.CompilerGeneratedAttribute
  .method System.Boolean <Run>b__0_0(System.Int32)
    .line 60,60 '/src/Calc.cs'
    IL_0000: ldarg.1
    IL_0001: brtrue.s IL_0005
    IL_0003: ldc.i4.0
    IL_0004: ret
    IL_0005: ldc.i4.1
    IL_0006: ret
.class Demo.Hidden
  .custom ExcludeFromCoverage
.class Demo.Hidden/Nested
  .method static System.Void Work()
    .line 70,70 '/src/Hidden.cs'
    IL_0000: ret
.class Demo.Generated
  .method static System.Void Work()
    .line 80,80 '/src/Calc.g.cs'
    IL_0000: ret
`

const emptyListing = `.module Empty.bcl
.class Demo.Empty
  .method static System.Void Work()
    IL_0000: ret
`

func newFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/Calc.bcl", []byte(calcListing), 0644))
	require.NoError(t, afero.WriteFile(fs, "/app/Other.bcl", []byte(calcListing), 0644))
	require.NoError(t, afero.WriteFile(fs, "/app/Empty.bcl", []byte(emptyListing), 0644))
	return fs
}

func instrumentCalc(t *testing.T, params *Parameters) (afero.Fs, *Result) {
	t.Helper()
	fs := newFs(t)
	inst := NewInstrumenter(fs, "/app/Calc.bcl", "abc", "/tmp", params, logger.New("error", &bytes.Buffer{}))
	require.True(t, inst.CanInstrument())
	result, err := inst.Instrument()
	require.NoError(t, err)
	return fs, result
}

func findMethod(t *testing.T, m *bytecode.Module, typeName, name string) *bytecode.MethodDef {
	t.Helper()
	typ := m.GetType(typeName)
	require.NotNil(t, typ, typeName)
	for _, md := range typ.Methods {
		if md.Name == name {
			return md
		}
	}
	t.Fatalf("method %s not found", name)
	return nil
}

func TestInstrument_SingleIf(t *testing.T) {
	_, result := instrumentCalc(t, &Parameters{ExcludedSourceFiles: []string{"*.g.cs"}})

	doc := result.Documents["/src/Calc.cs"]
	require.NotNil(t, doc)
	assert.Equal(t, "/tmp/Calc_abc", result.HitsFilePath)

	// line 10, then line 11 with branch path 0, then line 12 with branch path 1
	want := []HitCandidate{
		{DocIndex: doc.Index, Start: 10, End: 10},
		{DocIndex: doc.Index, Start: 11, End: 11},
		{IsBranch: true, DocIndex: doc.Index, Start: 10, End: 0},
		{DocIndex: doc.Index, Start: 12, End: 12},
		{IsBranch: true, DocIndex: doc.Index, Start: 10, End: 1},
	}
	for i, w := range want {
		assert.Equal(t, w, *result.HitCandidates[i], "candidate %d", i)
	}

	b0 := doc.Branches[BranchKey{Line: 10, Ordinal: 0}]
	require.NotNil(t, b0)
	assert.Equal(t, 0, b0.Path)
	assert.Equal(t, 2, b0.Offset)
	assert.Equal(t, 4, b0.EndOffset)
	b1 := doc.Branches[BranchKey{Line: 10, Ordinal: 1}]
	require.NotNil(t, b1)
	assert.Equal(t, 7, b1.EndOffset)
	assert.Equal(t, "System.Int32 Demo.Calc::Abs(System.Int32)", b1.Method)
	assert.Equal(t, "Demo.Calc", b1.Class)
}

func TestInstrument_RewiresBranchTargets(t *testing.T) {
	fs, _ := instrumentCalc(t, nil)

	m, err := bytecode.Load(fs, "/app/Calc.bcl")
	require.NoError(t, err)
	body := findMethod(t, m, "Demo.Calc", "Abs").Body

	var branch *bytecode.Instruction
	for _, h := range body.Instructions() {
		if ins := body.At(h); ins.OpCode.Flow == bytecode.FlowCondBranch {
			branch = ins
		}
	}
	require.NotNil(t, branch)
	assert.Equal(t, bytecode.BgeS, branch.OpCode)

	// the jump lands on the branch counter, which precedes the line counter
	target := body.At(branch.Target)
	assert.Equal(t, bytecode.LdcI4S, target.OpCode)
	assert.Equal(t, 4, target.Int)
	call := body.At(body.Next(branch.Target))
	assert.Equal(t, "RecordHit", call.Method.Name)
	assert.Equal(t, TrackerTypeName("Calc.bcl", "abc"), call.Method.DeclaringType)
	lineCounter := body.At(body.Next(body.Next(branch.Target)))
	assert.Equal(t, 3, lineCounter.Int)
}

func TestInstrument_RewiresHandlerBoundaries(t *testing.T) {
	fs, _ := instrumentCalc(t, nil)

	m, err := bytecode.Load(fs, "/app/Calc.bcl")
	require.NoError(t, err)
	body := findMethod(t, m, "Demo.Calc", "Guarded").Body
	require.Len(t, body.Handlers, 1)
	eh := body.Handlers[0]

	assert.Equal(t, body.Instructions()[0], eh.TryStart)
	assert.Equal(t, bytecode.LdcI4S, body.At(eh.TryStart).OpCode)
	assert.Equal(t, bytecode.LdcI4S, body.At(eh.HandlerStart).OpCode)
	assert.Equal(t, eh.TryEnd, eh.HandlerStart)
	assert.Equal(t, bytecode.LdcI4S, body.At(eh.HandlerEnd).OpCode)
}

func TestInstrument_NeverReturns(t *testing.T) {
	_, result := instrumentCalc(t, nil)
	doc := result.Documents["/src/Calc.cs"]
	require.NotNil(t, doc)

	assert.Contains(t, doc.Lines, 40)
	assert.NotContains(t, doc.Lines, 41)
	assert.NotContains(t, doc.Lines, 42)
	assert.NotContains(t, doc.Lines, 43)
}

func TestInstrument_Exclusions(t *testing.T) {
	_, result := instrumentCalc(t, &Parameters{ExcludedSourceFiles: []string{"*.g.cs"}})

	doc := result.Documents["/src/Calc.cs"]
	require.NotNil(t, doc)
	assert.NotContains(t, doc.Lines, 50, "method attribute")
	assert.NotContains(t, result.Documents, "/src/Hidden.cs", "outermost type attribute")
	assert.NotContains(t, result.Documents, "/src/Calc.g.cs", "excluded source file")
}

func TestInstrument_TypeFilters(t *testing.T) {
	_, result := instrumentCalc(t, &Parameters{ExcludeFilters: []string{"[Calc]Demo.Calc*", "[*]Demo.Hidden*"}})
	assert.Equal(t, []string{"/src/Calc.g.cs"}, keys(result.Documents))

	_, result = instrumentCalc(t, &Parameters{IncludeFilters: []string{"[Calc]Demo.Generated"}})
	assert.Equal(t, []string{"/src/Calc.g.cs"}, keys(result.Documents))
}

func keys(m map[string]*Document) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestInstrument_CompilerGeneratedBranches(t *testing.T) {
	_, result := instrumentCalc(t, nil)
	assert.Equal(t, []string{"System.Boolean Demo.Calc/<>c::<Run>b__0_0(System.Int32)"}, result.BranchesInCompiledGeneratedClass)
}

func TestInstrument_TrackerType(t *testing.T) {
	fs, result := instrumentCalc(t, &Parameters{SingleHit: true})

	m, err := bytecode.Load(fs, "/app/Calc.bcl")
	require.NoError(t, err)
	tracker := m.GetType(TrackerTypeName("Calc.bcl", "abc"))
	require.NotNil(t, tracker)
	assert.True(t, IsTrackerType(tracker))
	for _, f := range []string{"HitsArray", "HitsFilePath", "SingleHit"} {
		assert.NotNil(t, tracker.FindField(f), f)
	}

	cctor := findMethod(t, m, tracker.FullName, ".cctor")
	size := cctor.Body.At(cctor.Body.Instructions()[0])
	assert.Equal(t, len(result.HitCandidates), size.Int)

	abs := findMethod(t, m, "Demo.Calc", "Abs").Body
	call := abs.At(abs.Instructions()[1])
	assert.Equal(t, "RecordSingleHit", call.Method.Name)

	// a second pass refuses the already instrumented module
	inst := NewInstrumenter(fs, "/app/Calc.bcl", "def", "/tmp", nil, logger.New("error", &bytes.Buffer{}))
	assert.False(t, inst.CanInstrument())
}

func TestResult_JSONRoundTrip(t *testing.T) {
	_, result := instrumentCalc(t, nil)
	result.HitCandidates[0].AccountedByNested = map[int]bool{12: true}

	data, err := json.Marshal(result)
	require.NoError(t, err)
	var decoded Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, result, &decoded)

	pr := &PrepareResult{
		Identifier:           "abc",
		ModuleOrAppDirectory: "/app",
		TempDirectory:        "/tmp",
		Parameters:           Parameters{ExcludeFilters: []string{"[*]X"}, SingleHit: true, MergeWith: "/out/coverage.json"},
		Results:              []*Result{result},
	}
	fs := afero.NewMemMapFs()
	require.NoError(t, SavePrepareResult(fs, "/out/prepare.json", pr))
	loaded, err := LoadPrepareResult(fs, "/out/prepare.json")
	require.NoError(t, err)
	assert.Equal(t, pr, loaded)
}

func TestBranchKey_Text(t *testing.T) {
	text, err := BranchKey{Line: 12, Ordinal: 3}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "12:3", string(text))

	var k BranchKey
	require.NoError(t, k.UnmarshalText([]byte("7:0")))
	assert.Equal(t, BranchKey{Line: 7, Ordinal: 0}, k)
	assert.Error(t, k.UnmarshalText([]byte("7")))
	assert.Error(t, k.UnmarshalText([]byte("x:1")))
}

func TestPrepareModules(t *testing.T) {
	fs := newFs(t)
	var buf bytes.Buffer
	cov, err := NewCoverage(fs, "/app", "/tmp", &Parameters{ExcludeFilters: []string{"[Other]*", "not-a-filter"}}, logger.New("debug", &buf))
	require.NoError(t, err)
	assert.Len(t, cov.Identifier(), 32)

	pr, err := cov.PrepareModules()
	require.NoError(t, err)
	require.Len(t, pr.Results, 1)
	assert.Equal(t, "Calc.bcl", pr.Results[0].Module)
	assert.Equal(t, []string{"[Other]*"}, pr.Parameters.ExcludeFilters)
	assert.Contains(t, buf.String(), "not-a-filter")

	backup := BackupPath("/tmp", "/app/Calc.bcl", cov.Identifier())
	original, err := afero.ReadFile(fs, backup)
	require.NoError(t, err)
	assert.Equal(t, calcListing, string(original))

	other, err := afero.ReadFile(fs, "/app/Other.bcl")
	require.NoError(t, err)
	assert.Equal(t, calcListing, string(other), "excluded module is left untouched")

	require.NoError(t, RestoreModule(fs, "/app/Calc.bcl", backup))
	restored, err := afero.ReadFile(fs, "/app/Calc.bcl")
	require.NoError(t, err)
	assert.Equal(t, calcListing, string(restored))
	exists, _ := afero.Exists(fs, backup)
	assert.False(t, exists)
}

// failingWriteFs rejects the first writes to one path.
type failingWriteFs struct {
	afero.Fs
	path     string
	failures int
}

func (f *failingWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == f.path && flag&os.O_WRONLY != 0 && f.failures > 0 {
		f.failures--
		return nil, errors.New("disk full")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestPrepareModules_FailureRestoresModule(t *testing.T) {
	fs := &failingWriteFs{Fs: newFs(t), path: "/app/Calc.bcl", failures: 1}
	var buf bytes.Buffer
	cov, err := NewCoverage(fs, "/app", "/tmp", &Parameters{IncludeFilters: []string{"[Calc]*"}}, logger.New("warn", &buf))
	require.NoError(t, err)

	pr, err := cov.PrepareModules()
	require.NoError(t, err)
	assert.Empty(t, pr.Results)
	assert.Contains(t, buf.String(), "Unable to instrument module")

	data, err := afero.ReadFile(fs, "/app/Calc.bcl")
	require.NoError(t, err)
	assert.Equal(t, calcListing, string(data))
}

func TestPrepareModules_MalformedModuleSkipped(t *testing.T) {
	const badListing = `.module Bad.bcl
.class Demo.Bad
  .method static System.Void M(System.Boolean)
    .line 5,5 '/src/Bad.cs'
    IL_0000: ldarg.0
    IL_0001: brtrue.s end
    IL_0003: ret
`
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/Bad.bcl", []byte(badListing), 0644))
	var buf bytes.Buffer
	cov, err := NewCoverage(fs, "/app", "/tmp", nil, logger.New("warn", &buf))
	require.NoError(t, err)

	var pr *PrepareResult
	require.NotPanics(t, func() {
		pr, err = cov.PrepareModules()
	})
	require.NoError(t, err)
	assert.Empty(t, pr.Results)
	assert.Contains(t, buf.String(), "Unable to instrument module")

	data, err := afero.ReadFile(fs, "/app/Bad.bcl")
	require.NoError(t, err)
	assert.Equal(t, badListing, string(data))
	exists, _ := afero.Exists(fs, BackupPath("/tmp", "/app/Bad.bcl", cov.Identifier()))
	assert.False(t, exists)
}
