package stack

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
)

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) SelectorOption {
	return func(s *Selector) {
		if log != nil {
			s.log = log
		}
	}
}

// Selector installs one stack variant uniformly across a topology.
type Selector struct {
	mu        sync.Mutex
	registry  *Registry
	log       logging.Logger
	factory   *Factory
	installer Installer
	installed []*core.Node
}

// NewSelector creates a selector resolving variants through reg. A nil
// registry means DefaultRegistry.
func NewSelector(reg *Registry, opts ...SelectorOption) *Selector {
	if reg == nil {
		reg = DefaultRegistry()
	}
	s := &Selector{registry: reg, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select installs variant v on every node of topo in creation order. The
// variant is resolved before any node is touched. If an install fails the
// nodes already installed are torn down again, so either every node carries
// the stack or none does.
func (s *Selector) Select(ctx context.Context, topo *core.Topology, v Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.factory != nil {
		return fmt.Errorf("%w: %s", ErrStackSelected, s.factory.Variant)
	}

	f, err := s.registry.Lookup(v)
	if err != nil {
		s.log.Error(ctx, "stack variant unavailable", logging.String("variant", string(v)), logging.Err(err))
		return err
	}
	inst, err := f.New()
	if err != nil {
		return fmt.Errorf("stack %s: %w", v, err)
	}

	nodes := topo.Nodes()
	installed := make([]*core.Node, 0, len(nodes))
	for _, n := range nodes {
		if err := inst.Install(n); err != nil {
			rollbackErr := teardownAll(inst, installed)
			s.log.Error(ctx, "stack install failed, rolled back",
				logging.String("variant", string(v)),
				logging.String("node", n.Name),
				logging.Int("rolled_back", len(installed)),
				logging.Err(err),
			)
			return errors.Join(fmt.Errorf("%w: %s on %s: %w", ErrStackInstall, v, n.Name, err), rollbackErr)
		}
		installed = append(installed, n)
	}

	s.factory = &f
	s.installer = inst
	s.installed = installed
	s.log.Info(ctx, "network stack selected",
		logging.String("variant", string(v)),
		logging.String("library", f.Library),
		logging.Int("nodes", len(installed)),
	)
	return nil
}

// Variant returns the selected variant, or "" before a successful Select.
func (s *Selector) Variant() Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factory == nil {
		return ""
	}
	return s.factory.Variant
}

// Teardown releases the stack from every node it was installed on.
func (s *Selector) Teardown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.installer == nil {
		return nil
	}
	err := teardownAll(s.installer, s.installed)
	s.log.Debug(ctx, "network stack released", logging.Int("nodes", len(s.installed)))
	s.installer = nil
	s.installed = nil
	s.factory = nil
	return err
}

// teardownAll releases nodes in reverse install order.
func teardownAll(inst Installer, nodes []*core.Node) error {
	var errs []error
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := inst.Teardown(nodes[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
