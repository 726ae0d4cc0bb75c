package configstore_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/configstore"
)

func openStore(t *testing.T) *configstore.Store {
	t.Helper()
	s, err := configstore.Open(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSet_Validation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if _, err := s.Set(ctx, "  ", "v", ""); err == nil {
		t.Error("Set() with blank key: error = nil, want Validation")
	}
	if _, err := s.Set(ctx, "K", "v", "password"); err == nil {
		t.Error("Set() with unknown type: error = nil, want Validation")
	}
}

func TestSet_DefaultsToConfigType(t *testing.T) {
	s := openStore(t)
	e, err := s.Set(context.Background(), "REGION", "us-east-1", "")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if e.Type != configstore.TypeConfig {
		t.Errorf("Type = %q, want config", e.Type)
	}
	if e.UpdatedAt == "" {
		t.Error("UpdatedAt not assigned")
	}
}

func TestSet_Upserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	s.Set(ctx, "REGION", "us-east-1", "")
	s.Set(ctx, "REGION", "eu-west-1", "")

	got, err := s.Get(ctx, "REGION", false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Value != "eu-west-1" {
		t.Errorf("Value = %q, want eu-west-1", got.Value)
	}
	all, _ := s.List(ctx, false)
	if len(all) != 1 {
		t.Errorf("List() len = %d, want 1 after upsert", len(all))
	}
}

func TestGet_MasksSecrets(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	s.Set(ctx, "API_TOKEN", "sk-abc123def456", configstore.TypeSecret)
	s.Set(ctx, "SHORT", "abc", configstore.TypeSecret)
	s.Set(ctx, "PLAIN", "visible", configstore.TypeConfig)

	masked, _ := s.Get(ctx, "API_TOKEN", false)
	if masked.Value != "sk-abc***" {
		t.Errorf("masked long secret = %q, want sk-abc***", masked.Value)
	}
	short, _ := s.Get(ctx, "SHORT", false)
	if short.Value != "***" {
		t.Errorf("masked short secret = %q, want ***", short.Value)
	}
	plain, _ := s.Get(ctx, "PLAIN", false)
	if plain.Value != "visible" {
		t.Errorf("config value masked: %q", plain.Value)
	}
	revealed, _ := s.Get(ctx, "API_TOKEN", true)
	if revealed.Value != "sk-abc123def456" {
		t.Errorf("revealed secret = %q", revealed.Value)
	}
}

func TestGet_Missing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Get(context.Background(), "NOPE", false); !apperr.IsNotFound(err) {
		t.Errorf("Get(missing) error = %v, want NotFound", err)
	}
}

func TestList_SortedAndMasked(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	s.Set(ctx, "ZED", "z", "")
	s.Set(ctx, "ALPHA", "supersecretvalue", configstore.TypeSecret)

	out, err := s.List(ctx, false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(out) != 2 || out[0].Key != "ALPHA" || out[1].Key != "ZED" {
		t.Fatalf("List() = %v, want sorted by key", out)
	}
	if out[0].Value != "supers***" {
		t.Errorf("secret in list = %q, want masked", out[0].Value)
	}
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	s.Set(ctx, "DOOMED", "v", "")
	if err := s.Delete(ctx, "DOOMED"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "DOOMED"); !apperr.IsNotFound(err) {
		t.Errorf("Delete(missing) error = %v, want NotFound", err)
	}
}

func TestEnv_RendersUnmasked(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	s.Set(ctx, "B_TOKEN", "sk-abc123def456", configstore.TypeSecret)
	s.Set(ctx, "A_REGION", "us-east-1", "")

	env, err := s.Env(ctx)
	if err != nil {
		t.Fatalf("Env() error = %v", err)
	}
	want := "A_REGION=us-east-1\nB_TOKEN=sk-abc123def456\n"
	if env != want {
		t.Errorf("Env() = %q, want %q", env, want)
	}
	if strings.Contains(env, "***") {
		t.Error("Env() masked a secret")
	}
}
