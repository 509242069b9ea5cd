// Package bytecode is the module editor the instrumenter works against: a
// navigable object graph of types, methods, instruction bodies, exception
// handlers and debug sequence points, plus a textual listing format to read
// and write whole modules.
package bytecode

import (
	"fmt"
	"strings"
)

// Module is one loadable unit of bytecode.
type Module struct {
	Name       string // file name, e.g. "Sample.bcl"
	Path       string // location the module was loaded from
	SourceLink string // raw source-link JSON, empty if absent
	Types      []*TypeDef
}

// TypeDef is a type declared by the module. Nested types appear in
// Module.Types too and point at their DeclaringType.
type TypeDef struct {
	FullName      string // "Ns.Outer/Inner" for nested types
	DeclaringType *TypeDef
	Attributes    []string
	Fields        []*FieldDef
	Methods       []*MethodDef
	Module        *Module
}

// FieldDef is a field declared by a type.
type FieldDef struct {
	Name   string
	Type   string
	Static bool
}

// MethodDef is a method or constructor declared by a type.
type MethodDef struct {
	Name          string
	ReturnType    string
	Params        []string
	Attributes    []string
	Static        bool
	Abstract      bool
	Native        bool
	DeclaringType *TypeDef
	Body          *Body
}

// MethodRef references a method, possibly in another module.
type MethodRef struct {
	Scope         string // module file name; empty means the referencing module
	ReturnType    string
	DeclaringType string
	Name          string
	Params        []string
}

// FieldRef references a field.
type FieldRef struct {
	Type          string
	DeclaringType string
	Name          string
}

// Outermost returns the outermost declaring type of t (t itself if not nested).
func (t *TypeDef) Outermost() *TypeDef {
	for t.DeclaringType != nil {
		t = t.DeclaringType
	}
	return t
}

// Name returns the simple name of the type without namespace or outer types.
func (t *TypeDef) Name() string {
	name := t.FullName
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// HasAttribute reports whether the type carries the named custom attribute.
func (t *TypeDef) HasAttribute(name string) bool {
	return hasAttribute(t.Attributes, name)
}

// FindMethod returns the method with the given full name.
func (t *TypeDef) FindMethod(fullName string) *MethodDef {
	for _, m := range t.Methods {
		if m.FullName() == fullName {
			return m
		}
	}
	return nil
}

// FindField returns the field with the given name.
func (t *TypeDef) FindField(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FullName returns "Ret Ns.Type::Name(P1,P2)".
func (m *MethodDef) FullName() string {
	typeName := ""
	if m.DeclaringType != nil {
		typeName = m.DeclaringType.FullName
	}
	return formatMethodName(m.ReturnType, typeName, m.Name, m.Params)
}

// HasBody reports whether the method carries bytecode.
func (m *MethodDef) HasBody() bool {
	return !m.Abstract && !m.Native && m.Body != nil
}

// IsConstructor reports whether m is an instance or static constructor.
func (m *MethodDef) IsConstructor() bool {
	return m.Name == ".ctor" || m.Name == ".cctor"
}

// HasAttribute reports whether the method carries the named custom attribute.
func (m *MethodDef) HasAttribute(name string) bool {
	return hasAttribute(m.Attributes, name)
}

// Ref builds a same-module reference to m.
func (m *MethodDef) Ref() *MethodRef {
	return &MethodRef{
		ReturnType:    m.ReturnType,
		DeclaringType: m.DeclaringType.FullName,
		Name:          m.Name,
		Params:        append([]string(nil), m.Params...),
	}
}

// FullName returns the reference's method identity without the scope.
func (r *MethodRef) FullName() string {
	return formatMethodName(r.ReturnType, r.DeclaringType, r.Name, r.Params)
}

// String renders the reference the way it appears in a listing.
func (r *MethodRef) String() string {
	if r.Scope == "" {
		return r.FullName()
	}
	return formatMethodName(r.ReturnType, "["+r.Scope+"]"+r.DeclaringType, r.Name, r.Params)
}

// String renders the reference the way it appears in a listing.
func (r *FieldRef) String() string {
	return fmt.Sprintf("%s %s::%s", r.Type, r.DeclaringType, r.Name)
}

func formatMethodName(ret, typeName, name string, params []string) string {
	return fmt.Sprintf("%s %s::%s(%s)", ret, typeName, name, strings.Join(params, ","))
}

// GetType returns the type with the given full name.
func (m *Module) GetType(fullName string) *TypeDef {
	for _, t := range m.Types {
		if t.FullName == fullName {
			return t
		}
	}
	return nil
}

// AddType appends t to the module and links it back.
func (m *Module) AddType(t *TypeDef) {
	t.Module = m
	m.Types = append(m.Types, t)
}

// Documents returns the distinct document paths referenced by sequence
// points, in first-seen order.
func (m *Module) Documents() []string {
	seen := make(map[string]bool)
	var docs []string
	for _, t := range m.Types {
		for _, md := range t.Methods {
			if md.Body == nil {
				continue
			}
			for _, sp := range md.Body.SequencePoints() {
				if sp.Hidden || seen[sp.Document] {
					continue
				}
				seen[sp.Document] = true
				docs = append(docs, sp.Document)
			}
		}
	}
	return docs
}

// hasAttribute matches attribute names with or without the "Attribute" suffix.
// Namespaces are ignored on both sides.
func hasAttribute(attrs []string, name string) bool {
	want := attributeShortName(name)
	for _, a := range attrs {
		if attributeShortName(a) == want {
			return true
		}
	}
	return false
}

func attributeShortName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "Attribute")
}
