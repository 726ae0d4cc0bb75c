// Package registry is the VM inventory: registration, liveness via
// heartbeats, and role-based discovery that hides stale machines.
package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/dstore"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Store wraps the durable VM index.
type Store struct {
	m          *dstore.Map[models.VM]
	staleAfter time.Duration

	// now is the clock; tests swap it for a fake.
	now func() time.Time
}

// Open loads the registry document at path. staleAfter is how long a
// running VM may miss heartbeats before discovery hides it.
func Open(path string, staleAfter time.Duration) (*Store, error) {
	m, err := dstore.OpenMap(path, func(vm *models.VM) {
		if vm.Status == "" {
			vm.Status = models.VMRunning
		}
	})
	if err != nil {
		return nil, err
	}
	return &Store{m: m, staleAfter: staleAfter, now: time.Now}, nil
}

// Flush writes the registry to disk immediately.
func (s *Store) Flush() error { return s.m.Flush() }

// RegisterInput is the accepted shape for VM registration.
type RegisterInput struct {
	Name         string            `json:"name"`
	Role         models.VMRole     `json:"role"`
	Address      string            `json:"address"`
	Services     []string          `json:"services"`
	Metadata     map[string]string `json:"metadata"`
	RegisteredBy string            `json:"registeredBy"`
}

// Register stores a new VM as running with a fresh lastSeen.
func (s *Store) Register(in RegisterInput) (models.VM, error) {
	if strings.TrimSpace(in.Name) == "" {
		return models.VM{}, apperr.Validation("name is required")
	}
	if !models.ValidVMRole(in.Role) {
		return models.VM{}, apperr.Validation("unknown role: %s", in.Role)
	}
	if strings.TrimSpace(in.Address) == "" {
		return models.VM{}, apperr.Validation("address is required")
	}

	now := ids.Format(s.now())
	vm := models.VM{
		ID:           ids.New(),
		Name:         in.Name,
		Role:         in.Role,
		Status:       models.VMRunning,
		Address:      in.Address,
		Services:     in.Services,
		Metadata:     in.Metadata,
		RegisteredBy: in.RegisteredBy,
		RegisteredAt: now,
		LastSeen:     now,
	}
	err := s.m.Mutate(func(items map[string]models.VM) error {
		items[vm.ID] = vm
		return nil
	})
	return vm, err
}

// Get returns one VM.
func (s *Store) Get(id string) (models.VM, error) {
	vm, ok := s.m.Get(id)
	if !ok {
		return models.VM{}, apperr.NotFound("vm", id)
	}
	return vm, nil
}

// UpdateInput is the accepted patch shape for a VM.
type UpdateInput struct {
	Name     *string            `json:"name"`
	Role     *models.VMRole     `json:"role"`
	Status   *models.VMStatus   `json:"status"`
	Address  *string            `json:"address"`
	Services []string           `json:"services"`
	Metadata map[string]string  `json:"metadata"`
}

// Update applies a patch to one VM.
func (s *Store) Update(id string, in UpdateInput) (models.VM, error) {
	if in.Role != nil && !models.ValidVMRole(*in.Role) {
		return models.VM{}, apperr.Validation("unknown role: %s", *in.Role)
	}
	if in.Status != nil && !models.ValidVMStatus(*in.Status) {
		return models.VM{}, apperr.Validation("unknown status: %s", *in.Status)
	}
	var updated models.VM
	err := s.m.Mutate(func(items map[string]models.VM) error {
		vm, ok := items[id]
		if !ok {
			return apperr.NotFound("vm", id)
		}
		if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
			vm.Name = *in.Name
		}
		if in.Role != nil {
			vm.Role = *in.Role
		}
		if in.Status != nil {
			vm.Status = *in.Status
		}
		if in.Address != nil && strings.TrimSpace(*in.Address) != "" {
			vm.Address = *in.Address
		}
		if in.Services != nil {
			vm.Services = in.Services
		}
		if in.Metadata != nil {
			vm.Metadata = in.Metadata
		}
		items[id] = vm
		updated = vm
		return nil
	})
	if err != nil {
		return models.VM{}, err
	}
	return updated, nil
}

// Deregister removes one VM.
func (s *Store) Deregister(id string) error {
	return s.m.Mutate(func(items map[string]models.VM) error {
		if _, ok := items[id]; !ok {
			return apperr.NotFound("vm", id)
		}
		delete(items, id)
		return nil
	})
}

// Heartbeat refreshes lastSeen, making a stale VM discoverable again
// immediately. A heartbeat on a paused or stopped VM also marks it running.
// services, when non-nil, replaces the advertised service list.
func (s *Store) Heartbeat(id string, services []string) (models.VM, error) {
	var updated models.VM
	err := s.m.Mutate(func(items map[string]models.VM) error {
		vm, ok := items[id]
		if !ok {
			return apperr.NotFound("vm", id)
		}
		vm.LastSeen = ids.Format(s.now())
		vm.Status = models.VMRunning
		if services != nil {
			vm.Services = services
		}
		items[id] = vm
		updated = vm
		return nil
	})
	if err != nil {
		return models.VM{}, err
	}
	return updated, nil
}

// ListFilter selects VMs for listing.
type ListFilter struct {
	Role   models.VMRole
	Status models.VMStatus
}

// List returns matching VMs sorted by name. Filtering on status=running
// excludes stale VMs; explicit listing without a status filter does not.
func (s *Store) List(f ListFilter) []models.VM {
	var out []models.VM
	cutoff := s.staleCutoff()
	s.m.View(func(items map[string]models.VM) {
		for _, vm := range items {
			if f.Role != "" && vm.Role != f.Role {
				continue
			}
			if f.Status != "" {
				if vm.Status != f.Status {
					continue
				}
				if f.Status == models.VMRunning && s.isStale(vm, cutoff) {
					continue
				}
			}
			out = append(out, vm)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if out == nil {
		out = []models.VM{}
	}
	return out
}

// Discover returns running, non-stale VMs with the given role.
func (s *Store) Discover(role models.VMRole) ([]models.VM, error) {
	if !models.ValidVMRole(role) {
		return nil, apperr.Validation("unknown role: %s", role)
	}
	cutoff := s.staleCutoff()
	var out []models.VM
	s.m.View(func(items map[string]models.VM) {
		for _, vm := range items {
			if vm.Role != role || vm.Status != models.VMRunning {
				continue
			}
			if s.isStale(vm, cutoff) {
				continue
			}
			out = append(out, vm)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if out == nil {
		out = []models.VM{}
	}
	return out, nil
}

func (s *Store) staleCutoff() string {
	return ids.Format(s.now().Add(-s.staleAfter))
}

// isStale compares the ISO lastSeen against the cutoff lexicographically;
// the fixed-width format makes that equivalent to time comparison.
func (s *Store) isStale(vm models.VM, cutoff string) bool {
	return vm.LastSeen < cutoff
}
