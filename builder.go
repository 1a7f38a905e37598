package colony

import (
	"fmt"
)

// Builder configures a Manager before initialization.
// Use NewBuilder() to create a builder and chain configuration methods.
type Builder struct {
	world     *World
	options   []Option
	bundles   []func(*Manager) *Bundle
	resources []any
}

// NewBuilder creates a new builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// World sets the world the manager simulates.
func (b *Builder) World(w *World) *Builder {
	b.world = w
	return b
}

// Options adds manager options.
func (b *Builder) Options(opts ...Option) *Builder {
	b.options = append(b.options, opts...)
	return b
}

// Bundle adds a bundle to the builder.
func (b *Builder) Bundle(callback func(*Manager) *Bundle) *Builder {
	b.bundles = append(b.bundles, callback)
	return b
}

// Resource adds a global resource available to all bundles.
func (b *Builder) Resource(res any) *Builder {
	b.resources = append(b.resources, res)
	return b
}

// Init creates the manager, registers resources and loops, and runs post-init hooks.
// The scheduler is not started: call Start for real-time ticking or Step to drive it.
func (b *Builder) Init() *Manager {
	m, err := b.init(NewManager(b.world, b.options...))
	if err != nil {
		panic("colony: failed to build systems: " + err.Error())
	}
	return m
}

func (b *Builder) init(m *Manager) (*Manager, error) {
	var hooks []func(*Manager)

	for _, f := range b.bundles {
		bund := f(m)
		m.bundles = append(m.bundles, bund)
		hooks = append(hooks, bund.postInitHooks...)
	}

	for _, res := range b.resources {
		m.addResource(res)
	}
	for _, bundle := range m.bundles {
		for _, res := range bundle.resources {
			m.addResource(res)
		}
	}

	for _, bundle := range m.bundles {
		if err := bundle.build(m.scheduler); err != nil {
			return nil, fmt.Errorf("bundle %s: %w", bundle.Name(), err)
		}
	}

	for _, hook := range hooks {
		hook(m)
	}
	return m, nil
}
