// Package commits is the ledger of VM snapshot commits agents report
// after imaging a machine.
package commits

import (
	"strings"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/dstore"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Store is the append-only commit ledger.
type Store struct {
	log *dstore.Log[models.CommitEntry]
}

// Open loads the ledger at path.
func Open(path string) (*Store, error) {
	l, err := dstore.OpenLog[models.CommitEntry](path, 0)
	if err != nil {
		return nil, err
	}
	return &Store{log: l}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.log.Close() }

// RecordInput is the accepted shape for a new commit.
type RecordInput struct {
	CommitID string            `json:"commitId"`
	VMID     string            `json:"vmId"`
	Label    string            `json:"label"`
	Agent    string            `json:"agent"`
	Tags     []string          `json:"tags"`
	Metadata map[string]string `json:"metadata"`
}

// Record validates and appends one commit. Duplicate commitIds conflict.
func (s *Store) Record(in RecordInput) (models.CommitEntry, error) {
	if strings.TrimSpace(in.CommitID) == "" {
		return models.CommitEntry{}, apperr.Validation("commitId is required")
	}
	if strings.TrimSpace(in.VMID) == "" {
		return models.CommitEntry{}, apperr.Validation("vmId is required")
	}
	e := models.CommitEntry{
		ID:        ids.New(),
		CommitID:  in.CommitID,
		VMID:      in.VMID,
		Timestamp: ids.Now(),
		Label:     in.Label,
		Agent:     in.Agent,
		Tags:      in.Tags,
		Metadata:  in.Metadata,
	}
	appended, err := s.log.AppendIf(
		func(prev models.CommitEntry) bool { return prev.CommitID == in.CommitID }, e)
	if err != nil {
		return models.CommitEntry{}, err
	}
	if !appended {
		return models.CommitEntry{}, apperr.Conflict("commit already recorded: %s", in.CommitID)
	}
	return e, nil
}

// Get looks a commit up by either its ledger id or its commitId.
func (s *Store) Get(id string) (models.CommitEntry, error) {
	found := s.log.Filter(func(e models.CommitEntry) bool {
		return e.ID == id || e.CommitID == id
	})
	if len(found) == 0 {
		return models.CommitEntry{}, apperr.NotFound("commit", id)
	}
	return found[0], nil
}

// Filter selects commits for listing.
type Filter struct {
	VMID  string
	Agent string
	Limit int
}

// List returns matching commits, newest first.
func (s *Store) List(f Filter) []models.CommitEntry {
	out := s.log.Filter(func(e models.CommitEntry) bool {
		if f.VMID != "" && e.VMID != f.VMID {
			return false
		}
		if f.Agent != "" && e.Agent != f.Agent {
			return false
		}
		return true
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	if out == nil {
		out = []models.CommitEntry{}
	}
	return out
}

// Delete drops a commit from the ledger by rewriting the file without it.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	_, err := s.log.Rewrite(func(e models.CommitEntry) bool {
		return e.ID != id && e.CommitID != id
	})
	return err
}
