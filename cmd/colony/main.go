// Package main runs a headless colony: a few dwarves crafting from a stockpile for a
// fixed number of ticks, saved to a SQLite slot at the end.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/oriumgames/colony"
	"github.com/oriumgames/colony/sqlite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type config struct {
	TickRate     time.Duration `env:"COLONY_TICK_RATE" envDefault:"50ms"`
	Ticks        int           `env:"COLONY_TICKS" envDefault:"400"`
	Dwarves      int           `env:"COLONY_DWARVES" envDefault:"3"`
	SavePath     string        `env:"COLONY_SAVE_PATH" envDefault:"data/colony.db"`
	SaveSlot     string        `env:"COLONY_SAVE_SLOT" envDefault:"autosave"`
	OTelEndpoint string        `env:"COLONY_OTEL_ENDPOINT"`
	Debug        bool          `env:"COLONY_DEBUG"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: parse env: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("colony: run failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	if cfg.Ticks < 0 || cfg.Dwarves < 0 {
		return errors.New("COLONY_TICKS and COLONY_DWARVES must be >= 0")
	}
	if cfg.TickRate <= 0 {
		return errors.New("COLONY_TICK_RATE must be positive")
	}

	shutdown, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("colony: flush traces", "err", err)
		}
	}()

	store, err := openStore(ctx, cfg.SavePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("colony: close store", "err", err)
		}
	}()

	m, err := load(ctx, store, cfg, logger)
	if err != nil {
		return err
	}
	w := m.World()

	dwarves := colony.Query[colony.CreatureAI](m)
	if len(dwarves) == 0 {
		populate(m, cfg.Dwarves)
		dwarves = colony.Query[colony.CreatureAI](m)
	}
	for i := range len(dwarves) {
		w.Designations.Add(colony.NewCraftDesignation(woodenBowl(), cube.Pos{}))
		if i%2 == 0 {
			w.Designations.Add(colony.NewCraftDesignation(stew(), cube.Pos{}))
		}
	}
	logger.Info("colony: started",
		"tick", m.TickNumber(),
		"dwarves", len(dwarves),
		"designations", w.Designations.Len(),
	)

	ticker := time.NewTicker(cfg.TickRate)
	defer ticker.Stop()
	for range cfg.Ticks {
		select {
		case <-ctx.Done():
			logger.Info("colony: interrupted", "tick", m.TickNumber())
			return save(context.Background(), store, m, cfg.SaveSlot, logger)
		case <-ticker.C:
			m.Step(cfg.TickRate)
		}
	}

	for _, e := range colony.Query[colony.CreatureAI](m) {
		ai := colony.Get[colony.CreatureAI](e)
		logger.Info("colony: dwarf report", "name", e.Name(), "completed", ai.Completed, "failed", ai.Failed)
	}
	return save(ctx, store, m, cfg.SaveSlot, logger)
}

// load restores the colony in the configured slot, or builds a fresh one when the slot
// is empty.
func load(ctx context.Context, store *sqlite.Store, cfg config, logger *slog.Logger) (*colony.Manager, error) {
	b := colony.NewBuilder().
		World(newWorld()).
		Options(
			colony.WithLogger(logger),
			colony.WithTickRate(cfg.TickRate),
			colony.WithTracer(otel.Tracer("colony")),
		).
		Bundle(colony.CraftingBundle().Build())

	data, err := store.LoadSlot(ctx, cfg.SaveSlot)
	switch {
	case errors.Is(err, colony.ErrNotFound):
		m := b.Init()
		furnish(m)
		return m, nil
	case err != nil:
		return nil, err
	}

	m, err := b.Restore(data)
	if err != nil {
		return nil, fmt.Errorf("restore slot %q: %w", cfg.SaveSlot, err)
	}
	// task queues are not saved, so restored dwarves start idle
	for _, e := range colony.Query[colony.Creature](m) {
		if !colony.Has[colony.CreatureAI](e) {
			colony.Add(e, &colony.CreatureAI{})
		}
	}
	m.Flush()
	logger.Info("colony: restored", "slot", cfg.SaveSlot, "save", data.ID, "tick", data.Tick)
	return m, nil
}

func newWorld() *colony.World {
	terrain := colony.NewGridTerrain(cube.Pos{0, 0, 0}, cube.Pos{31, 7, 31})
	terrain.FillLayer(0)
	return colony.NewWorld(terrain, colony.DefaultLibrary())
}

// furnish places the stockpile and the stove of a fresh colony.
func furnish(m *colony.Manager) {
	pile := colony.NewStockpile("main pile", m.World().Library, cube.Pos{4, 1, 4}, cube.Pos{5, 1, 4})
	for _, a := range []colony.ResourceAmount{
		{Type: "Wood", Count: 24},
		{Type: "Grain", Count: 8},
		{Type: "Meat", Count: 8},
	} {
		pile.Add(a)
	}
	pileEntity := colony.NewEntity("main pile", cube.Pos{4, 1, 4}.Vec3Centre())
	colony.Add(pileEntity, pile)
	m.Register(pileEntity, nil)

	stove := colony.NewEntity("stove", cube.Pos{10, 1, 10}.Vec3Centre())
	colony.Add(stove, &colony.Station{Tag: "Stove"})
	m.Register(stove, nil)
	m.Flush()
}

func populate(m *colony.Manager, n int) {
	for i := range n {
		name := fmt.Sprintf("dwarf-%d", i+1)
		e := colony.NewEntity(name, mgl64.Vec3{float64(2 + i), 1.5, 2})
		colony.Add(e, colony.NewCreature(name, colony.DefaultStats))
		colony.Add(e, &colony.CreatureAI{})
		m.Register(e, nil)
	}
	m.Flush()
}

func woodenBowl() *colony.CraftItem {
	return &colony.CraftItem{
		Name:                "Wooden Bowl",
		Type:                colony.CraftResource,
		ResultType:          "Bowl",
		CraftedResultsCount: 1,
		BaseCraftTime:       5,
		RequiredResources:   []colony.ResourceRequest{{Tag: colony.TagWood, Count: 2}},
	}
}

func stew() *colony.CraftItem {
	return &colony.CraftItem{
		Name:                "Meal",
		Type:                colony.CraftResource,
		Behavior:            colony.BehaviorMeal,
		CraftedResultsCount: 1,
		BaseCraftTime:       8,
		CraftLocation:       "Stove",
		RequiredResources:   []colony.ResourceRequest{{Tag: colony.TagFood, Count: 2}},
	}
}

func save(ctx context.Context, store *sqlite.Store, m *colony.Manager, slot string, logger *slog.Logger) error {
	data, err := m.Save()
	if err != nil {
		return fmt.Errorf("save colony: %w", err)
	}
	if err := store.SaveSlot(ctx, slot, data); err != nil {
		return err
	}
	logger.Info("colony: saved", "slot", slot, "save", data.ID, "tick", data.Tick, "entities", len(data.Entities))
	return nil
}

func openStore(ctx context.Context, path string) (*sqlite.Store, error) {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == "" {
		return nil, fmt.Errorf("save path is required")
	}
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(ctx, cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

// setupTracing exports tick spans over OTLP/HTTP. Tracing is off when endpoint is empty.
func setupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName("colony")))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
