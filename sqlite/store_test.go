package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/oriumgames/colony"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "colony.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshot(t *testing.T, dwarves int) *colony.SaveData {
	t.Helper()

	terrain := colony.NewGridTerrain(cube.Pos{0, 0, 0}, cube.Pos{7, 3, 7})
	terrain.FillLayer(0)
	m := colony.NewManager(colony.NewWorld(terrain, colony.DefaultLibrary()))
	for range dwarves {
		e := colony.NewEntity("dwarf", mgl64.Vec3{1, 1, 1})
		colony.Add(e, colony.NewCreature("dwarf", colony.DefaultStats))
		m.Register(e, nil)
	}
	m.Flush()

	data, err := m.Save()
	require.NoError(t, err)
	return data
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestSaveLoadSlotRoundTrip(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	data := snapshot(t, 2)
	require.NoError(t, store.SaveSlot(ctx, "autosave", data))

	got, err := store.LoadSlot(ctx, "autosave")
	require.NoError(t, err)
	assert.Equal(t, data.ID, got.ID)
	assert.Equal(t, data.Root, got.Root)
	assert.Len(t, got.Entities, len(data.Entities))

	m, err := colony.Restore(got, colony.NewWorld(colony.NewGridTerrain(cube.Pos{}, cube.Pos{7, 3, 7}), colony.DefaultLibrary()))
	require.NoError(t, err)
	assert.Equal(t, 2, len(colony.Query[colony.Creature](m)))
}

func TestSaveSlotReplaces(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSlot(ctx, "autosave", snapshot(t, 1)))
	second := snapshot(t, 3)
	require.NoError(t, store.SaveSlot(ctx, "autosave", second))

	infos, err := store.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, second.ID, infos[0].SaveID)
	assert.Equal(t, len(second.Entities), infos[0].Entities)
}

func TestCreateSlotRejectsDuplicate(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSlot(ctx, "fortress", snapshot(t, 1)))
	err := store.CreateSlot(ctx, "fortress", snapshot(t, 1))
	assert.ErrorIs(t, err, ErrSlotExists)
}

func TestLoadSlotMissing(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)

	_, err := store.LoadSlot(context.Background(), "nowhere")
	assert.ErrorIs(t, err, colony.ErrNotFound)
}

func TestDeleteSlot(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSlot(ctx, "autosave", snapshot(t, 1)))
	require.NoError(t, store.DeleteSlot(ctx, "autosave"))
	assert.ErrorIs(t, store.DeleteSlot(ctx, "autosave"), colony.ErrNotFound)

	_, err := store.LoadSlot(ctx, "autosave")
	assert.ErrorIs(t, err, colony.ErrNotFound)
}

func TestListSlotsNewestFirst(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	require.NoError(t, store.SaveSlot(ctx, "old", snapshot(t, 1)))
	clock = clock.Add(time.Minute)
	require.NoError(t, store.SaveSlot(ctx, "new", snapshot(t, 1)))

	infos, err := store.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "new", infos[0].Slot)
	assert.Equal(t, clock, infos[0].SavedAt)
	assert.Equal(t, "old", infos[1].Slot)
}

func TestStoreRejectsCanceledContext(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.SaveSlot(ctx, "autosave", snapshot(t, 1)), context.Canceled)
}

func TestNilStore(t *testing.T) {
	t.Parallel()

	var store *Store
	assert.NoError(t, store.Close())
	assert.Error(t, store.SaveSlot(context.Background(), "autosave", &colony.SaveData{}))
}

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrationsSkipsAlreadyApplied(t *testing.T) {
	t.Parallel()
	db := openInMemoryDB(t)
	ctx := context.Background()

	first := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;")},
		"README.md":      &fstest.MapFile{Data: []byte("not a migration")},
	}
	require.NoError(t, applyMigrations(ctx, db, first))
	// rerunning would fail on the existing table if the file were applied twice
	first["001_create.sql"].Data = []byte("CREATE TABLE items(id TEXT PRIMARY KEY);")
	first["002_more.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE more(id TEXT);")}
	require.NoError(t, applyMigrations(ctx, db, first))

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 2, applied)
}

func TestApplyMigrationsRollsBackFailure(t *testing.T) {
	t.Parallel()
	db := openInMemoryDB(t)

	broken := fstest.MapFS{
		"001_broken.sql": &fstest.MapFile{Data: []byte("CREATE TABLE;")},
	}
	require.Error(t, applyMigrations(context.Background(), db, broken))

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Zero(t, applied)
}

func TestExtractUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"sections", "-- +migrate Up\nA;\n-- +migrate Down\nB;", "\nA;\n"},
		{"up only", "-- +migrate Up\nA;", "\nA;"},
		{"no markers", "A;", "A;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, extractUp(tt.in))
		})
	}
}
