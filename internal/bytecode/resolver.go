package bytecode

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// ErrUnresolved is returned when a method reference cannot be bound to a
// definition.
var ErrUnresolved = errors.New("unresolved method reference")

// Resolver binds method references to their definitions.
type Resolver interface {
	Resolve(ref *MethodRef) (*MethodDef, error)
}

// DirectoryResolver resolves references against the referencing module and
// against sibling module files in the same directory.
type DirectoryResolver struct {
	fs     afero.Fs
	module *Module
	dir    string

	mu    sync.Mutex
	cache map[string]*Module
}

// NewDirectoryResolver creates a resolver rooted at m's directory.
func NewDirectoryResolver(fs afero.Fs, m *Module) *DirectoryResolver {
	return &DirectoryResolver{
		fs:     fs,
		module: m,
		dir:    filepath.Dir(m.Path),
		cache:  make(map[string]*Module),
	}
}

// Resolve implements Resolver.
func (r *DirectoryResolver) Resolve(ref *MethodRef) (*MethodDef, error) {
	target := r.module
	if ref.Scope != "" && ref.Scope != r.module.Name {
		m, err := r.load(ref.Scope)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnresolved, ref, err)
		}
		target = m
	}

	t := target.GetType(ref.DeclaringType)
	if t == nil {
		return nil, fmt.Errorf("%w: %s: type not found", ErrUnresolved, ref)
	}
	md := t.FindMethod(ref.FullName())
	if md == nil {
		return nil, fmt.Errorf("%w: %s: method not found", ErrUnresolved, ref)
	}
	return md, nil
}

func (r *DirectoryResolver) load(scope string) (*Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.cache[scope]; ok {
		return m, nil
	}
	m, err := Load(r.fs, filepath.Join(r.dir, scope))
	if err != nil {
		return nil, err
	}
	r.cache[scope] = m
	return m, nil
}
