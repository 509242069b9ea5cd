package instrument

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/zjy-dev/bytecover/internal/bytecode"
	"github.com/zjy-dev/bytecover/internal/logger"
	"github.com/zjy-dev/bytecover/internal/reachability"
)

// Instrumenter rewrites one module in place.
type Instrumenter struct {
	fs           afero.Fs
	modulePath   string
	identifier   string
	hitsFilePath string
	params       *Parameters
	excluded     *SourceFileFilter
	log          logger.Leveled

	result  *Result
	tracker *trackerType
}

// NewInstrumenter creates an instrumenter for the module at modulePath. The
// hits file will be written under tempDir.
func NewInstrumenter(fs afero.Fs, modulePath, identifier, tempDir string, params *Parameters, log logger.Leveled) *Instrumenter {
	if params == nil {
		params = &Parameters{}
	}
	return &Instrumenter{
		fs:           fs,
		modulePath:   modulePath,
		identifier:   identifier,
		hitsFilePath: HitsFilePath(tempDir, modulePath, identifier),
		params:       params,
		excluded:     NewSourceFileFilter(params.ExcludedSourceFiles),
		log:          log,
	}
}

// HitsFilePath returns where the tracker of modulePath writes its counters.
func HitsFilePath(tempDir, modulePath, identifier string) string {
	return filepath.Join(tempDir, moduleName(modulePath)+"_"+identifier)
}

// CanInstrument reports whether the module loads, has not been instrumented
// already and carries at least one source-mapped instruction.
func (i *Instrumenter) CanInstrument() bool {
	m, err := bytecode.Load(i.fs, i.modulePath)
	if err != nil {
		i.log.Warnf("Unable to instrument module: %s, %v", i.modulePath, err)
		return false
	}
	for _, t := range m.Types {
		if IsTrackerType(t) {
			i.log.Warnf("Module %s is already instrumented", i.modulePath)
			return false
		}
	}
	for _, t := range m.Types {
		for _, md := range t.Methods {
			if md.HasBody() && md.Body.HasVisibleSequencePoints() {
				return true
			}
		}
	}
	i.log.Debugf("Unable to instrument module: %s, no sequence points found", i.modulePath)
	return false
}

// Instrument rewrites the module, saves it over the original file and
// returns the coverage skeleton.
func (i *Instrumenter) Instrument() (*Result, error) {
	m, err := bytecode.Load(i.fs, i.modulePath)
	if err != nil {
		return nil, err
	}

	i.result = &Result{
		Module:       m.Name,
		ModulePath:   i.modulePath,
		HitsFilePath: i.hitsFilePath,
		SourceLink:   m.SourceLink,
		Documents:    make(map[string]*Document),
	}
	i.tracker = newTrackerType(m.Name, i.identifier, i.hitsFilePath, i.params.SingleHit)

	analyzer := reachability.NewAnalyzer(m, bytecode.NewDirectoryResolver(i.fs, m), i.params.doesNotReturnAttributes(), i.log)

	types := append([]*bytecode.TypeDef(nil), m.Types...)
	for _, t := range types {
		if !i.shouldInstrumentType(m, t) {
			continue
		}
		for _, md := range t.Methods {
			if i.isExcludedByAttribute(md.Attributes) {
				i.log.Debugf("Skipping excluded method %s", md.FullName())
				continue
			}
			if !md.HasBody() || !md.Body.HasVisibleSequencePoints() {
				continue
			}
			i.instrumentMethod(md, analyzer)
		}
	}

	i.tracker.setSize(len(i.result.HitCandidates))
	m.AddType(i.tracker.typ)

	if err := bytecode.Save(i.fs, i.modulePath, m); err != nil {
		return nil, err
	}
	i.log.Debugf("Instrumented module %s: %d hit candidates in %d documents",
		m.Name, len(i.result.HitCandidates), len(i.result.Documents))
	return i.result, nil
}

func (i *Instrumenter) shouldInstrumentType(m *bytecode.Module, t *bytecode.TypeDef) bool {
	if IsTrackerType(t) {
		return false
	}
	if IsTypeExcluded(m.Name, t.FullName, i.params.ExcludeFilters) || !IsTypeIncluded(m.Name, t.FullName, i.params.IncludeFilters) {
		return false
	}
	if i.isExcludedByAttribute(t.Attributes) || i.isExcludedByAttribute(t.Outermost().Attributes) {
		i.log.Debugf("Skipping excluded type %s", t.FullName)
		return false
	}
	return true
}

func (i *Instrumenter) isExcludedByAttribute(attrs []string) bool {
	probe := &bytecode.TypeDef{Attributes: attrs}
	for _, a := range i.params.excludeAttributes() {
		if probe.HasAttribute(a) {
			return true
		}
	}
	return false
}

func (i *Instrumenter) instrumentMethod(md *bytecode.MethodDef, analyzer *reachability.Analyzer) {
	body := md.Body
	unreachable := analyzer.FindUnreachable(body)
	branchPoints := GetBranchPoints(body, unreachable)

	body.SimplifyMacros()

	for _, h := range body.Instructions() {
		offset := body.At(h).Offset
		if reachability.Contains(unreachable, offset) {
			continue
		}

		first := h
		if sp, ok := body.SequencePoint(h); ok && !sp.Hidden && !i.excluded.IsExcluded(sp.Document) {
			first = i.insertRecord(body, first, i.addLineCandidate(md, sp))
		}

		for _, bp := range branchPoints {
			if bp.EndOffset != offset {
				continue
			}
			if bp.Line == -1 || bp.Document == "" || i.excluded.IsExcluded(bp.Document) {
				continue
			}
			first = i.insertRecord(body, first, i.addBranchCandidate(md, bp))
		}
	}

	body.OptimizeMacros()
}

// insertRecord places the counter call in front of first and moves every
// reference to first onto the inserted code.
func (i *Instrumenter) insertRecord(body *bytecode.Body, first bytecode.Handle, index int) bytecode.Handle {
	inserted := body.InsertBefore(first,
		bytecode.Instruction{OpCode: bytecode.LdcI4, Int: index},
		bytecode.Instruction{OpCode: bytecode.Call, Method: i.tracker.recordMethod(i.params.SingleHit)},
	)
	body.Rewire(first, inserted)
	return inserted
}

func (i *Instrumenter) addLineCandidate(md *bytecode.MethodDef, sp bytecode.SequencePoint) int {
	doc := i.result.document(sp.Document)
	for line := sp.StartLine; line <= sp.EndLine; line++ {
		if _, ok := doc.Lines[line]; !ok {
			doc.Lines[line] = &Line{Number: line, Class: md.DeclaringType.FullName, Method: md.FullName()}
		}
	}
	i.result.HitCandidates = append(i.result.HitCandidates, &HitCandidate{
		DocIndex: doc.Index,
		Start:    sp.StartLine,
		End:      sp.EndLine,
	})
	return len(i.result.HitCandidates) - 1
}

func (i *Instrumenter) addBranchCandidate(md *bytecode.MethodDef, bp BranchPoint) int {
	doc := i.result.document(bp.Document)
	key := BranchKey{Line: bp.Line, Ordinal: bp.Ordinal}
	if _, ok := doc.Branches[key]; !ok {
		doc.Branches[key] = &Branch{
			Number:    bp.Line,
			Class:     md.DeclaringType.FullName,
			Method:    md.FullName(),
			Offset:    bp.Offset,
			EndOffset: bp.EndOffset,
			Path:      bp.Path,
			Ordinal:   bp.Ordinal,
		}
	}

	if IsCompilerGenerated(md.DeclaringType) {
		name := md.FullName()
		found := false
		for _, existing := range i.result.BranchesInCompiledGeneratedClass {
			if existing == name {
				found = true
				break
			}
		}
		if !found {
			i.result.BranchesInCompiledGeneratedClass = append(i.result.BranchesInCompiledGeneratedClass, name)
		}
	}

	i.result.HitCandidates = append(i.result.HitCandidates, &HitCandidate{
		IsBranch: true,
		DocIndex: doc.Index,
		Start:    bp.Line,
		End:      bp.Ordinal,
	})
	return len(i.result.HitCandidates) - 1
}

// IsCompilerGenerated reports whether t is a compiler-synthesized closure
// container.
func IsCompilerGenerated(t *bytecode.TypeDef) bool {
	return IsClosureClass(t.FullName) || t.HasAttribute("CompilerGenerated")
}

// IsClosureClass reports whether the class name marks a lambda container.
func IsClosureClass(name string) bool {
	return strings.Contains(name, "<>c")
}
