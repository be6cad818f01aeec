package grid

import "github.com/your-org/consolegrid/internal/domain"

// Definition describes a grid. Each console session gets its own Adapter
// built from it, so paging state is never shared between sessions.
type Definition struct {
	Name    string
	Backend domain.GridBackend
	Options []Option
}

// NewDefinition bundles a backend with the options every adapter of the grid gets
func NewDefinition(name string, backend domain.GridBackend, opts ...Option) Definition {
	return Definition{Name: name, Backend: backend, Options: opts}
}

// NewAdapter builds a fresh adapter with no paging state
func (d Definition) NewAdapter() *Adapter {
	return NewAdapter(d.Name, d.Backend, d.Options...)
}
