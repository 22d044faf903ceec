// Package stack attaches one network-stack variant to every node of a
// topology. The native stack is always available; kernel stacks loaded from
// shared libraries are compiled in with the kernelstack build tag.
package stack

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/signalsfoundry/dumbbell-simulator/core"
)

var (
	// ErrStackUnavailable is returned when the requested variant has no
	// registered factory in this build.
	ErrStackUnavailable = errors.New("network stack unavailable")
	// ErrUnknownVariant is returned for names that are not a stack variant.
	ErrUnknownVariant = errors.New("unknown network stack variant")
	// ErrStackInstall wraps an installer failure on a single node.
	ErrStackInstall = errors.New("network stack install failed")
	// ErrStackSelected is returned when Select is called twice on one selector.
	ErrStackSelected = errors.New("network stack already selected")
)

// Variant names a network-stack implementation.
type Variant string

const (
	VariantNative  Variant = "ns3"
	VariantLinux   Variant = "linux"
	VariantFreeBSD Variant = "freebsd"
)

// ParseVariant maps a command-line stack name to a Variant. Unsupported
// names are unavailable stacks as well as unknown variants.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantNative, VariantLinux, VariantFreeBSD:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %w: %q", ErrStackUnavailable, ErrUnknownVariant, s)
	}
}

// Installer attaches and releases one stack variant on nodes.
type Installer interface {
	Install(node *core.Node) error
	Teardown(node *core.Node) error
}

// Factory builds the installer for a variant. Library is the shared object
// a kernel stack is loaded from; it is empty for the native stack.
type Factory struct {
	Variant Variant
	Library string
	New     func() (Installer, error)
}

// Registry maps variants to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Variant]Factory
}

// NewRegistry returns a registry holding exactly the given factories.
func NewRegistry(factories ...Factory) (*Registry, error) {
	r := &Registry{factories: make(map[Variant]Factory, len(factories))}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns the native stack plus whatever kernel stacks this
// binary was built with.
func DefaultRegistry() *Registry {
	r := &Registry{factories: make(map[Variant]Factory, 3)}
	r.factories[VariantNative] = NativeFactory()
	for _, f := range kernelFactories() {
		r.factories[f.Variant] = f
	}
	return r
}

// Register adds or replaces the factory for f.Variant.
func (r *Registry) Register(f Factory) error {
	if f.Variant == "" || f.New == nil {
		return fmt.Errorf("stack: incomplete factory for variant %q", f.Variant)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Variant] = f
	return nil
}

// Lookup returns the factory for v or ErrStackUnavailable naming the
// variants that are available.
func (r *Registry) Lookup(v Variant) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[v]
	if !ok {
		return Factory{}, fmt.Errorf("%w: %q is not built into this binary (available: %v)",
			ErrStackUnavailable, v, r.variantsLocked())
	}
	return f, nil
}

// Variants lists the registered variants in name order.
func (r *Registry) Variants() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.variantsLocked()
}

func (r *Registry) variantsLocked() []Variant {
	out := make([]Variant, 0, len(r.factories))
	for v := range r.factories {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
