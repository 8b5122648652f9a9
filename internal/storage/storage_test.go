package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	logx "stockwatch/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	fileStore, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(dir, "state", "stock_state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	sqliteStore, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(dir, "stock.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	memStore, err := Open(ctx, Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	stores := map[string]Store{"file": fileStore, "sqlite": sqliteStore, "memory": memStore}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoresRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		name, st := name, st
		t.Run(name, func(t *testing.T) {
			if st.Driver() != name {
				t.Fatalf("Driver = %q, want %q", st.Driver(), name)
			}

			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("first Load error: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("first Load = %v, want empty", got)
			}

			want := map[string]bool{"6636020d5c0420e92d79ebdd": true, "b": false, "c": true}
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save error: %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("Load = %v, want %v", got, want)
			}

			// full overwrite: keys missing from the new mapping are gone
			next := map[string]bool{"b": true}
			if err := st.Save(ctx, next); err != nil {
				t.Fatalf("second Save error: %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if !reflect.DeepEqual(got, next) {
				t.Fatalf("Load = %v, want %v", got, next)
			}

			if err := st.Save(ctx, map[string]bool{}); err != nil {
				t.Fatalf("empty Save error: %v", err)
			}
			got, _ = st.Load(ctx)
			if len(got) != 0 {
				t.Fatalf("Load after empty Save = %v", got)
			}
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	in := map[string]bool{"a": true}
	if err := st.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	in["a"] = false
	got, _ := st.Load(ctx)
	if !got["a"] {
		t.Fatal("Save must copy its input")
	}
	got["a"] = false
	again, _ := st.Load(ctx)
	if !again["a"] {
		t.Fatal("Load must return a copy")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stock_state.json")

	first, err := NewFile(path, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Save(ctx, map[string]bool{"a": true}); err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second, err := NewFile(path, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	got, err := second.Load(ctx)
	if err != nil || !got["a"] {
		t.Fatalf("Load = %v, %v; want a=true", got, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stock_state.json")
	if err := os.WriteFile(path, []byte(`{"a": tru`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := NewFile(path, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := NewFile(filepath.Join(t.TempDir(), "s.json"), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save(ctx, map[string]bool{"a": true}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	if err := st.Save(ctx, map[string]bool{"a": false}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save after Close = %v, want ErrClosed", err)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stock.db")

	first, err := NewSQLite(ctx, path, 0, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Save(ctx, map[string]bool{"a": true, "b": false}); err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second, err := NewSQLite(ctx, path, 0, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	got, err := second.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := map[string]bool{"a": true, "b": false}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Load = %v, want %v", got, want)
	}
}

func TestSQLiteSaveCancelledKeepsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "stock.db"), 0, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.Save(ctx, map[string]bool{"a": true}); err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := st.Save(cctx, map[string]bool{"z": false}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
	got, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := map[string]bool{"a": true}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Load = %v, want committed state %v", got, want)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("Open error = %v, want ErrUnknownDriver", err)
	}
	for _, cfg := range []Config{{Driver: "file"}, {Driver: "sqlite"}, {Driver: "redis"}, {Driver: "postgres"}} {
		if _, err := Open(context.Background(), cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v) expected missing-setting error", cfg)
		}
	}
}
