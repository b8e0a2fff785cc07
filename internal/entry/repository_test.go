package entry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/database"
	"github.com/nerrad567/sensecraft-core/internal/session"
	"github.com/nerrad567/sensecraft-core/migrations"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "entries.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepository_CreateGet(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	e := &Entry{ID: "cam-1", Kind: session.KindGimbal, Title: "Porch", Data: []byte(`{"device_id":"cam-1"}`)}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := repo.Get(ctx, "cam-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != session.KindGimbal || got.Title != "Porch" || string(got.Data) != `{"device_id":"cam-1"}` {
		t.Errorf("Get() = %+v", got)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}

	if err := repo.Create(ctx, &Entry{ID: "cam-1", Kind: session.KindGimbal}); !errors.Is(err, ErrEntryExists) {
		t.Errorf("Create(duplicate) error = %v, want ErrEntryExists", err)
	}
	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrEntryNotFound", err)
	}
}

func TestRepository_Validate(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	tests := []struct {
		name string
		e    Entry
	}{
		{"no id", Entry{Kind: session.KindCloud}},
		{"no kind", Entry{ID: "x"}},
		{"bad data", Entry{ID: "x", Kind: session.KindCloud, Data: []byte("{")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(ctx, &tt.e); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Create() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestRepository_EmptyDataStoredAsObject(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &Entry{ID: "w", Kind: session.KindWatcherHTTP}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := repo.Get(ctx, "w")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != "{}" {
		t.Errorf("Data = %q, want {}", got.Data)
	}
}

func TestRepository_Upsert(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }

	if err := repo.Upsert(ctx, &Entry{ID: "a", Kind: session.KindCloud, Title: "one", Data: []byte(`{"v":1}`)}); err != nil {
		t.Fatalf("Upsert() insert error = %v", err)
	}
	repo.now = func() time.Time { return base.Add(time.Hour) }
	if err := repo.Upsert(ctx, &Entry{ID: "a", Kind: session.KindCloud, Title: "two", Data: []byte(`{"v":2}`)}); err != nil {
		t.Fatalf("Upsert() update error = %v", err)
	}

	got, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "two" || string(got.Data) != `{"v":2}` {
		t.Errorf("Get() = %+v", got)
	}
	if !got.CreatedAt.Equal(base) || !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestRepository_UpdateDeleteList(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		if err := repo.Create(ctx, &Entry{ID: id, Kind: session.KindVision}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	if err := repo.UpdateData(ctx, "b", []byte(`{"x":true}`)); err != nil {
		t.Fatalf("UpdateData() error = %v", err)
	}
	if err := repo.UpdateData(ctx, "zz", []byte(`{}`)); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("UpdateData(zz) error = %v, want ErrEntryNotFound", err)
	}
	if err := repo.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "c"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrEntryNotFound", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("List() = %+v", list)
	}
	if string(list[1].Data) != `{"x":true}` {
		t.Errorf("b data = %q", list[1].Data)
	}
}
