package bytecode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ErrSyntax is wrapped by every listing parse error.
var ErrSyntax = errors.New("listing syntax error")

// Regular expressions for parsing listings
var (
	// .class Ns.Outer/Inner
	reClass = regexp.MustCompile(`^\.class\s+(\S+)$`)

	// .field [static] Type Name
	reField = regexp.MustCompile(`^\.field\s+(static\s+)?(\S+)\s+(\S+)$`)

	// .method [static] [abstract] [native] Ret Name(P1,P2)
	reMethod = regexp.MustCompile(`^\.method\s+((?:(?:static|abstract|native)\s+)*)(\S+)\s+([^(\s]+)\(([^)]*)\)$`)

	// .line 10,12 '/src/File.cs'  or  .line hidden
	reLine = regexp.MustCompile(`^\.line\s+(\d+),(\d+)\s+'([^']*)'$`)

	// IL_0000: opcode operand
	reInstruction = regexp.MustCompile(`^IL_([0-9a-fA-F]+):\s+(\S+)(?:\s+(.*))?$`)

	// .try IL_a to IL_b catch T|finally|fault|filter IL_f handler IL_c to IL_d
	reTry = regexp.MustCompile(`^\.try\s+(\S+)\s+to\s+(\S+)\s+(catch\s+\S+|finally|fault|filter\s+\S+)\s+handler\s+(\S+)\s+to\s+(\S+)$`)

	// Ret [Scope]Ns.Type::Name(P1,P2)
	reMethodRef = regexp.MustCompile(`^(\S+)\s+(?:\[([^\]]+)\])?([^:\s]+)::([^(]+)\(([^)]*)\)$`)

	// Type Ns.Type::Name
	reFieldRef = regexp.MustCompile(`^(\S+)\s+([^:\s]+)::(\S+)$`)
)

type pendingInstruction struct {
	lineNo  int
	offset  int
	opcode  *OpCode
	operand string
	point   *SequencePoint
}

type pendingHandler struct {
	lineNo int
	fields [5]string // try start, try end, handler start, handler end, filter start
	kind   HandlerKind
	catch  string
}

type parser struct {
	module   *Module
	typ      *TypeDef
	method   *MethodDef
	insts    []pendingInstruction
	handlers []pendingHandler
	point    *SequencePoint
}

func syntaxError(lineNo int, format string, args ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, lineNo, fmt.Sprintf(format, args...))
}

// Parse reads a module listing.
func Parse(r io.Reader) (*Module, error) {
	p := &parser{module: &Module{}}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if err := p.parseLine(lineNo, line); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}
	if err := p.finishMethod(); err != nil {
		return nil, err
	}
	return p.module, nil
}

func (p *parser) parseLine(lineNo int, line string) error {
	switch {
	case strings.HasPrefix(line, ".module "):
		p.module.Name = strings.TrimSpace(strings.TrimPrefix(line, ".module "))
		return nil

	case strings.HasPrefix(line, ".sourcelink "):
		p.module.SourceLink = strings.TrimSpace(strings.TrimPrefix(line, ".sourcelink "))
		return nil

	case strings.HasPrefix(line, ".class"):
		if err := p.finishMethod(); err != nil {
			return err
		}
		m := reClass.FindStringSubmatch(line)
		if m == nil {
			return syntaxError(lineNo, "malformed class %q", line)
		}
		t := &TypeDef{FullName: m[1]}
		if i := strings.LastIndex(m[1], "/"); i >= 0 {
			outer := p.module.GetType(m[1][:i])
			if outer == nil {
				return syntaxError(lineNo, "nested type %s declared before its outer type", m[1])
			}
			t.DeclaringType = outer
		}
		p.module.AddType(t)
		p.typ = t
		return nil

	case strings.HasPrefix(line, ".custom "):
		name := strings.TrimSpace(strings.TrimPrefix(line, ".custom "))
		switch {
		case p.method != nil:
			p.method.Attributes = append(p.method.Attributes, name)
		case p.typ != nil:
			p.typ.Attributes = append(p.typ.Attributes, name)
		default:
			return syntaxError(lineNo, ".custom outside of a class")
		}
		return nil

	case strings.HasPrefix(line, ".field"):
		if p.typ == nil {
			return syntaxError(lineNo, ".field outside of a class")
		}
		m := reField.FindStringSubmatch(line)
		if m == nil {
			return syntaxError(lineNo, "malformed field %q", line)
		}
		p.typ.Fields = append(p.typ.Fields, &FieldDef{Static: m[1] != "", Type: m[2], Name: m[3]})
		return nil

	case strings.HasPrefix(line, ".method"):
		if err := p.finishMethod(); err != nil {
			return err
		}
		if p.typ == nil {
			return syntaxError(lineNo, ".method outside of a class")
		}
		m := reMethod.FindStringSubmatch(line)
		if m == nil {
			return syntaxError(lineNo, "malformed method %q", line)
		}
		md := &MethodDef{
			ReturnType:    m[2],
			Name:          m[3],
			Params:        splitList(m[4]),
			DeclaringType: p.typ,
		}
		for _, mod := range strings.Fields(m[1]) {
			switch mod {
			case "static":
				md.Static = true
			case "abstract":
				md.Abstract = true
			case "native":
				md.Native = true
			}
		}
		if !md.Abstract && !md.Native {
			md.Body = NewBody()
		}
		p.typ.Methods = append(p.typ.Methods, md)
		p.method = md
		return nil

	case strings.HasPrefix(line, ".line"):
		if p.method == nil {
			return syntaxError(lineNo, ".line outside of a method")
		}
		if strings.TrimSpace(strings.TrimPrefix(line, ".line")) == "hidden" {
			p.point = &SequencePoint{Hidden: true}
			return nil
		}
		m := reLine.FindStringSubmatch(line)
		if m == nil {
			return syntaxError(lineNo, "malformed sequence point %q", line)
		}
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		p.point = &SequencePoint{Document: m[3], StartLine: start, EndLine: end}
		return nil

	case strings.HasPrefix(line, ".try"):
		if p.method == nil {
			return syntaxError(lineNo, ".try outside of a method")
		}
		m := reTry.FindStringSubmatch(line)
		if m == nil {
			return syntaxError(lineNo, "malformed exception handler %q", line)
		}
		ph := pendingHandler{lineNo: lineNo}
		ph.fields[0], ph.fields[1], ph.fields[2], ph.fields[3] = m[1], m[2], m[4], m[5]
		clause := strings.Fields(m[3])
		switch clause[0] {
		case "catch":
			ph.kind = HandlerCatch
			ph.catch = clause[1]
		case "filter":
			ph.kind = HandlerFilter
			ph.fields[4] = clause[1]
		case "finally":
			ph.kind = HandlerFinally
		case "fault":
			ph.kind = HandlerFault
		}
		p.handlers = append(p.handlers, ph)
		return nil

	case strings.HasPrefix(line, "IL_"):
		if p.method == nil || p.method.Body == nil {
			return syntaxError(lineNo, "instruction outside of a method body")
		}
		m := reInstruction.FindStringSubmatch(line)
		if m == nil {
			return syntaxError(lineNo, "malformed instruction %q", line)
		}
		offset, err := strconv.ParseInt(m[1], 16, 32)
		if err != nil {
			return syntaxError(lineNo, "bad offset %q", m[1])
		}
		opcode, ok := LookupOpCode(m[2])
		if !ok {
			return syntaxError(lineNo, "unknown opcode %q", m[2])
		}
		p.insts = append(p.insts, pendingInstruction{
			lineNo:  lineNo,
			offset:  int(offset),
			opcode:  opcode,
			operand: strings.TrimSpace(m[3]),
			point:   p.point,
		})
		p.point = nil
		return nil
	}

	return syntaxError(lineNo, "unrecognized directive %q", line)
}

// finishMethod resolves the buffered instructions and handlers of the current
// method once all labels are known.
func (p *parser) finishMethod() error {
	md := p.method
	insts, handlers := p.insts, p.handlers
	p.method, p.insts, p.handlers, p.point = nil, nil, nil, nil
	if md == nil || md.Body == nil {
		return nil
	}

	body := md.Body
	labels := make(map[int]Handle, len(insts))
	handles := make([]Handle, len(insts))
	for i, pi := range insts {
		h := body.Append(Instruction{Offset: pi.offset, OpCode: pi.opcode, Target: NoHandle})
		labels[pi.offset] = h
		handles[i] = h
		if pi.point != nil {
			body.SetSequencePoint(h, *pi.point)
		}
	}

	resolve := func(lineNo int, label string) (Handle, error) {
		if label == "end" {
			return NoHandle, nil
		}
		if !strings.HasPrefix(label, "IL_") {
			return NoHandle, syntaxError(lineNo, "bad label %q", label)
		}
		off, err := strconv.ParseInt(label[3:], 16, 32)
		if err != nil {
			return NoHandle, syntaxError(lineNo, "bad label %q", label)
		}
		h, ok := labels[int(off)]
		if !ok {
			return NoHandle, syntaxError(lineNo, "label %s does not name an instruction", label)
		}
		return h, nil
	}

	for i, pi := range insts {
		ins := body.At(handles[i])
		if err := p.parseOperand(ins, pi, resolve); err != nil {
			return err
		}
	}

	for _, ph := range handlers {
		eh := &ExceptionHandler{Kind: ph.kind, CatchType: ph.catch, FilterStart: NoHandle}
		targets := []*Handle{&eh.TryStart, &eh.TryEnd, &eh.HandlerStart, &eh.HandlerEnd, &eh.FilterStart}
		for j, label := range ph.fields {
			if label == "" {
				continue
			}
			h, err := resolve(ph.lineNo, label)
			if err != nil {
				return err
			}
			*targets[j] = h
		}
		body.Handlers = append(body.Handlers, eh)
	}
	return nil
}

func (p *parser) parseOperand(ins *Instruction, pi pendingInstruction, resolve func(int, string) (Handle, error)) error {
	operand := pi.operand
	if pi.opcode.Operand == OperandNone {
		if operand != "" {
			return syntaxError(pi.lineNo, "%s takes no operand", pi.opcode.Name)
		}
		return nil
	}
	if operand == "" {
		return syntaxError(pi.lineNo, "%s requires an operand", pi.opcode.Name)
	}

	switch pi.opcode.Operand {
	case OperandInt8, OperandInt32, OperandVar:
		v, err := strconv.Atoi(operand)
		if err != nil {
			return syntaxError(pi.lineNo, "bad integer operand %q", operand)
		}
		ins.Int = v

	case OperandString:
		s, err := strconv.Unquote(operand)
		if err != nil {
			return syntaxError(pi.lineNo, "bad string operand %q", operand)
		}
		ins.Str = s

	case OperandType:
		ins.Str = operand

	case OperandField:
		m := reFieldRef.FindStringSubmatch(operand)
		if m == nil {
			return syntaxError(pi.lineNo, "bad field reference %q", operand)
		}
		ins.Field = &FieldRef{Type: m[1], DeclaringType: m[2], Name: m[3]}

	case OperandMethod:
		ref, err := ParseMethodRef(operand)
		if err != nil {
			return syntaxError(pi.lineNo, "%v", err)
		}
		ins.Method = ref

	case OperandBranch, OperandShortBranch:
		h, err := branchTarget(pi.lineNo, operand, resolve)
		if err != nil {
			return err
		}
		ins.Target = h

	case OperandSwitch:
		if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
			return syntaxError(pi.lineNo, "bad switch operand %q", operand)
		}
		for _, label := range splitList(operand[1 : len(operand)-1]) {
			h, err := branchTarget(pi.lineNo, label, resolve)
			if err != nil {
				return err
			}
			ins.Targets = append(ins.Targets, h)
		}
	}
	return nil
}

// branchTarget resolves a branch or switch label. "end" only closes handler
// ranges and is not a valid jump target.
func branchTarget(lineNo int, label string, resolve func(int, string) (Handle, error)) (Handle, error) {
	if label == "end" {
		return NoHandle, syntaxError(lineNo, "label end is not a branch target")
	}
	return resolve(lineNo, label)
}

// ParseMethodRef parses "Ret [Scope]Ns.Type::Name(P1,P2)".
func ParseMethodRef(s string) (*MethodRef, error) {
	m := reMethodRef.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, fmt.Errorf("bad method reference %q", s)
	}
	return &MethodRef{
		ReturnType:    m[1],
		Scope:         m[2],
		DeclaringType: m[3],
		Name:          m[4],
		Params:        splitList(m[5]),
	}, nil
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Write renders m as a listing that Parse reads back.
func Write(w io.Writer, m *Module) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, ".module %s\n", m.Name)
	if m.SourceLink != "" {
		fmt.Fprintf(bw, ".sourcelink %s\n", m.SourceLink)
	}
	for _, t := range m.Types {
		fmt.Fprintf(bw, "\n.class %s\n", t.FullName)
		for _, a := range t.Attributes {
			fmt.Fprintf(bw, "  .custom %s\n", a)
		}
		for _, f := range t.Fields {
			static := ""
			if f.Static {
				static = "static "
			}
			fmt.Fprintf(bw, "  .field %s%s %s\n", static, f.Type, f.Name)
		}
		for _, md := range t.Methods {
			writeMethod(bw, md)
		}
	}
	return bw.Flush()
}

func writeMethod(w io.Writer, md *MethodDef) {
	var mods []string
	if md.Static {
		mods = append(mods, "static")
	}
	if md.Abstract {
		mods = append(mods, "abstract")
	}
	if md.Native {
		mods = append(mods, "native")
	}
	prefix := strings.Join(mods, " ")
	if prefix != "" {
		prefix += " "
	}
	fmt.Fprintf(w, "  .method %s%s %s(%s)\n", prefix, md.ReturnType, md.Name, strings.Join(md.Params, ","))
	for _, a := range md.Attributes {
		fmt.Fprintf(w, "    .custom %s\n", a)
	}
	if md.Body == nil {
		return
	}

	body := md.Body
	label := func(h Handle) string {
		if h == NoHandle {
			return "end"
		}
		return fmt.Sprintf("IL_%04x", body.At(h).Offset)
	}

	for _, h := range body.Instructions() {
		if sp, ok := body.SequencePoint(h); ok {
			if sp.Hidden {
				fmt.Fprintf(w, "    .line hidden\n")
			} else {
				fmt.Fprintf(w, "    .line %d,%d '%s'\n", sp.StartLine, sp.EndLine, sp.Document)
			}
		}
		ins := body.At(h)
		operand := ""
		switch ins.OpCode.Operand {
		case OperandInt8, OperandInt32, OperandVar:
			operand = strconv.Itoa(ins.Int)
		case OperandString:
			operand = strconv.Quote(ins.Str)
		case OperandType:
			operand = ins.Str
		case OperandField:
			operand = ins.Field.String()
		case OperandMethod:
			operand = ins.Method.String()
		case OperandBranch, OperandShortBranch:
			operand = label(ins.Target)
		case OperandSwitch:
			labels := make([]string, len(ins.Targets))
			for i, t := range ins.Targets {
				labels[i] = label(t)
			}
			operand = "(" + strings.Join(labels, ", ") + ")"
		}
		if operand == "" {
			fmt.Fprintf(w, "    IL_%04x: %s\n", ins.Offset, ins.OpCode.Name)
		} else {
			fmt.Fprintf(w, "    IL_%04x: %s %s\n", ins.Offset, ins.OpCode.Name, operand)
		}
	}

	for _, eh := range body.Handlers {
		clause := eh.Kind.String()
		switch eh.Kind {
		case HandlerCatch:
			clause += " " + eh.CatchType
		case HandlerFilter:
			clause += " " + label(eh.FilterStart)
		}
		fmt.Fprintf(w, "    .try %s to %s %s handler %s to %s\n",
			label(eh.TryStart), label(eh.TryEnd), clause, label(eh.HandlerStart), label(eh.HandlerEnd))
	}
}

// Load reads the module listing at path.
func Load(fs afero.Fs, path string) (*Module, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", path, err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse module %s: %w", path, err)
	}
	m.Path = path
	if m.Name == "" {
		m.Name = filepath.Base(path)
	}
	return m, nil
}

// Save writes m to path, replacing any existing file.
func Save(fs afero.Fs, path string, m *Module) error {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write module %s: %w", path, err)
	}
	return nil
}
