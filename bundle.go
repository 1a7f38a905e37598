package colony

import (
	"reflect"
	"time"
)

// Bundle groups related loop systems and resources together.
type Bundle struct {
	name string

	// loops holds loop system registrations
	loops []loopRegistration

	// resources holds bundle-level resources (registered with the manager)
	resources []any

	postInitHooks []func(*Manager)

	// loopMeta holds computed metadata for loops
	loopMeta []*SystemMeta
}

// loopRegistration holds a loop system registration.
type loopRegistration struct {
	system   Runnable
	interval time.Duration
	stage    Stage
}

// NewBundle creates a new bundle with the given name.
func NewBundle(name string) *Bundle {
	return &Bundle{name: name}
}

// Name returns the bundle name.
func (b *Bundle) Name() string {
	return b.name
}

// Resource registers a bundle-level resource.
// Resources are available to every system through colony:"res" fields.
func (b *Bundle) Resource(res any) *Bundle {
	b.resources = append(b.resources, res)
	return b
}

// PostInit registers a hook run once the manager is initialized.
func (b *Bundle) PostInit(hook func(*Manager)) *Bundle {
	b.postInitHooks = append(b.postInitHooks, hook)
	return b
}

// Build returns a callback function that returns this bundle.
// This allows for cleaner inline bundle initialization:
//
//	bund := colony.NewBundle("crafting").
//	    Loop(&colony.CraftDispatch{}, 0, colony.Before).
//	    Build()
//
//	mngr := colony.NewBuilder().
//	    Bundle(bund).
//	    Init()
func (b *Bundle) Build() func(*Manager) *Bundle {
	return func(*Manager) *Bundle {
		return b
	}
}

// Loop registers a loop system that runs at fixed intervals of simulated time.
// Interval of 0 means the loop runs every tick.
func (b *Bundle) Loop(sys Runnable, interval time.Duration, stage Stage) *Bundle {
	b.loops = append(b.loops, loopRegistration{
		system:   sys,
		interval: interval,
		stage:    stage,
	})
	return b
}

// build analyzes all systems and hands the loops to the scheduler.
func (b *Bundle) build(s *Scheduler) error {
	for _, reg := range b.loops {
		meta, err := analyzeSystem(reflect.TypeOf(reg.system), b)
		if err != nil {
			return err
		}
		meta.Stage = reg.stage
		b.loopMeta = append(b.loopMeta, meta)
		s.addLoop(meta, b, reg.interval, reg.stage)
	}
	return nil
}
