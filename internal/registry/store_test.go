package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/pkg/models"
)

func openRegistry(t *testing.T, staleAfter time.Duration) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry.json"), staleAfter)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func register(t *testing.T, s *Store, name string, role models.VMRole) models.VM {
	t.Helper()
	vm, err := s.Register(RegisterInput{Name: name, Role: role, Address: "10.0.0.1:22"})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return vm
}

func TestRegister_Validation(t *testing.T) {
	s, _ := openRegistry(t, 5*time.Minute)

	if _, err := s.Register(RegisterInput{Role: models.RoleWorker, Address: "a"}); err == nil {
		t.Error("Register() without name: error = nil, want Validation")
	}
	if _, err := s.Register(RegisterInput{Name: "vm", Role: "pilot", Address: "a"}); err == nil {
		t.Error("Register() with unknown role: error = nil, want Validation")
	}
	if _, err := s.Register(RegisterInput{Name: "vm", Role: models.RoleWorker}); err == nil {
		t.Error("Register() without address: error = nil, want Validation")
	}
}

func TestDiscover_HidesStaleVMs(t *testing.T) {
	s, clock := openRegistry(t, 5*time.Minute)
	vm := register(t, s, "worker-1", models.RoleWorker)

	got, err := s.Discover(models.RoleWorker)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Discover() len = %d, want 1", len(got))
	}

	// Past the stale threshold with no heartbeat: hidden.
	*clock = clock.Add(6 * time.Minute)
	got, _ = s.Discover(models.RoleWorker)
	if len(got) != 0 {
		t.Fatalf("Discover() after staleness = %v, want empty", got)
	}

	// A heartbeat resurrects it immediately.
	if _, err := s.Heartbeat(vm.ID, nil); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	got, _ = s.Discover(models.RoleWorker)
	if len(got) != 1 {
		t.Errorf("Discover() after heartbeat len = %d, want 1", len(got))
	}
}

func TestHeartbeat_MarksRunningAndReplacesServices(t *testing.T) {
	s, _ := openRegistry(t, 5*time.Minute)
	vm := register(t, s, "worker-1", models.RoleWorker)

	paused := models.VMPaused
	if _, err := s.Update(vm.ID, UpdateInput{Status: &paused}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := s.Heartbeat(vm.ID, []string{"ssh", "http"})
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if got.Status != models.VMRunning {
		t.Errorf("Status after heartbeat = %q, want running", got.Status)
	}
	if len(got.Services) != 2 {
		t.Errorf("Services = %v, want replaced list", got.Services)
	}

	if _, err := s.Heartbeat("no-such-vm", nil); !apperr.IsNotFound(err) {
		t.Errorf("Heartbeat(unknown) error = %v, want NotFound", err)
	}
}

func TestList_StatusFilterExcludesStale(t *testing.T) {
	s, clock := openRegistry(t, 5*time.Minute)
	fresh := register(t, s, "fresh", models.RoleWorker)
	register(t, s, "old", models.RoleWorker)

	*clock = clock.Add(6 * time.Minute)
	if _, err := s.Heartbeat(fresh.ID, nil); err != nil {
		t.Fatal(err)
	}

	// Unfiltered listing shows everything, stale included.
	all := s.List(ListFilter{})
	if len(all) != 2 {
		t.Fatalf("List() len = %d, want 2", len(all))
	}

	running := s.List(ListFilter{Status: models.VMRunning})
	if len(running) != 1 || running[0].Name != "fresh" {
		t.Errorf("List(running) = %v, want just fresh", running)
	}
}

func TestDeregister(t *testing.T) {
	s, _ := openRegistry(t, 5*time.Minute)
	vm := register(t, s, "doomed", models.RoleWorker)

	if err := s.Deregister(vm.ID); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if _, err := s.Get(vm.ID); !apperr.IsNotFound(err) {
		t.Errorf("Get(deregistered) error = %v, want NotFound", err)
	}
}

func TestDiscover_UnknownRole(t *testing.T) {
	s, _ := openRegistry(t, 5*time.Minute)
	if _, err := s.Discover("pilot"); err == nil {
		t.Error("Discover(unknown role) error = nil, want Validation")
	}
}
