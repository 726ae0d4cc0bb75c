package dstore_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fleethub/fleethub/internal/dstore"
)

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openWidgets(t *testing.T, path string) *dstore.Map[widget] {
	t.Helper()
	m, err := dstore.OpenMap[widget](path, nil)
	if err != nil {
		t.Fatalf("OpenMap() error = %v", err)
	}
	return m
}

func TestMap_MutateAndGet(t *testing.T) {
	m := openWidgets(t, filepath.Join(t.TempDir(), "widgets.json"))

	err := m.Mutate(func(items map[string]widget) error {
		items["w1"] = widget{Name: "first", Count: 3}
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	got, ok := m.Get("w1")
	if !ok {
		t.Fatal("Get() after Mutate: not found")
	}
	if got.Name != "first" || got.Count != 3 {
		t.Errorf("Get() = %+v, want {first 3}", got)
	}
}

func TestMap_FlushAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	m := openWidgets(t, path)

	m.Mutate(func(items map[string]widget) error {
		items["w1"] = widget{Name: "persisted"}
		return nil
	})
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	reopened := openWidgets(t, path)
	got, ok := reopened.Get("w1")
	if !ok {
		t.Fatal("Get() after reopen: not found")
	}
	if got.Name != "persisted" {
		t.Errorf("Get().Name = %q, want %q", got.Name, "persisted")
	}
}

func TestMap_DebouncedFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	m := openWidgets(t, path)

	m.Mutate(func(items map[string]widget) error {
		items["w1"] = widget{Name: "debounced"}
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if data, err := os.ReadFile(path); err == nil && strings.Contains(string(data), "debounced") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced flush never hit disk")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMap_MutateErrorDoesNotApply(t *testing.T) {
	m := openWidgets(t, filepath.Join(t.TempDir(), "widgets.json"))

	wantErr := errors.New("validation failed")
	err := m.Mutate(func(items map[string]widget) error {
		items["w1"] = widget{Name: "should not persist"}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Mutate() error = %v, want %v", err, wantErr)
	}
	if _, ok := m.Get("w1"); ok {
		t.Error("mutation applied despite error return")
	}
}

func TestMap_NormalizeOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.json")
	if err := os.WriteFile(path, []byte(`{"w1":{"name":"","count":-5}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := dstore.OpenMap(path, func(w *widget) {
		if w.Name == "" {
			w.Name = "unnamed"
		}
		if w.Count < 0 {
			w.Count = 0
		}
	})
	if err != nil {
		t.Fatalf("OpenMap() error = %v", err)
	}
	got, _ := m.Get("w1")
	if got.Name != "unnamed" || got.Count != 0 {
		t.Errorf("normalized widget = %+v, want {unnamed 0}", got)
	}
}
