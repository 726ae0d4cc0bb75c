// Package skills is the hub agents pull capabilities from: published
// skills and extensions, per-agent manifests, and a sync planner that
// tells each agent what to install, update, or remove.
package skills

import (
	"sort"
	"strings"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/bus"
	"github.com/fleethub/fleethub/internal/dstore"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Item kinds on the hub.
const (
	KindSkill     = "skill"
	KindExtension = "extension"
)

// ChangeRing bounds the change bus replay buffer.
const ChangeRing = 1000

// Service owns both catalogs, the agent manifests, and the change bus.
type Service struct {
	skills     *dstore.Map[models.Skill]
	extensions *dstore.Map[models.Skill]
	manifests  *dstore.Map[models.AgentManifest]
	changes    *bus.Bus[models.ChangeEvent]
}

// Open loads the three hub documents from their paths.
func Open(skillsPath, extensionsPath, manifestsPath string) (*Service, error) {
	normalize := func(sk *models.Skill) {
		if sk.Tags == nil {
			sk.Tags = []string{}
		}
		if sk.Version < 1 {
			sk.Version = 1
		}
	}
	sk, err := dstore.OpenMap(skillsPath, normalize)
	if err != nil {
		return nil, err
	}
	ext, err := dstore.OpenMap(extensionsPath, normalize)
	if err != nil {
		return nil, err
	}
	man, err := dstore.OpenMap(manifestsPath, func(m *models.AgentManifest) {
		if m.Skills == nil {
			m.Skills = []models.SkillRef{}
		}
		if m.Extensions == nil {
			m.Extensions = []models.SkillRef{}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		skills:     sk,
		extensions: ext,
		manifests:  man,
		changes:    bus.New[models.ChangeEvent](ChangeRing, func(e models.ChangeEvent) string { return e.ID }),
	}, nil
}

// Flush writes all three documents to disk immediately.
func (s *Service) Flush() error {
	for _, m := range []interface{ Flush() error }{s.skills, s.extensions, s.manifests} {
		if err := m.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) catalog(kind string) (*dstore.Map[models.Skill], error) {
	switch kind {
	case KindSkill:
		return s.skills, nil
	case KindExtension:
		return s.extensions, nil
	default:
		return nil, apperr.Validation("unknown item kind: %s", kind)
	}
}

func (s *Service) emit(kind, name string, version int, action string) {
	s.changes.Publish(models.ChangeEvent{
		ID:        ids.New(),
		Type:      kind,
		Name:      name,
		Version:   version,
		Action:    action,
		Timestamp: ids.Now(),
	})
}

// PublishInput is the accepted shape for publishing a skill or extension.
type PublishInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	PublishedBy string   `json:"publishedBy"`
	Tags        []string `json:"tags"`
}

// Publish upserts an item by name. A fresh name starts at version 1;
// republishing an existing name bumps the version and keeps the enabled
// flag as-is.
func (s *Service) Publish(kind string, in PublishInput) (models.Skill, error) {
	cat, err := s.catalog(kind)
	if err != nil {
		return models.Skill{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return models.Skill{}, apperr.Validation("name is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return models.Skill{}, apperr.Validation("content is required")
	}

	now := ids.Now()
	var (
		out    models.Skill
		action string
	)
	err = cat.Mutate(func(items map[string]models.Skill) error {
		if existing, ok := items[in.Name]; ok {
			existing.Version++
			existing.Description = in.Description
			existing.Content = in.Content
			existing.PublishedBy = in.PublishedBy
			existing.UpdatedAt = now
			if in.Tags != nil {
				existing.Tags = in.Tags
			}
			items[in.Name] = existing
			out, action = existing, "update"
			return nil
		}
		sk := models.Skill{
			ID:          ids.New(),
			Name:        in.Name,
			Version:     1,
			Description: in.Description,
			Content:     in.Content,
			PublishedBy: in.PublishedBy,
			PublishedAt: now,
			UpdatedAt:   now,
			Tags:        in.Tags,
			Enabled:     true,
		}
		if sk.Tags == nil {
			sk.Tags = []string{}
		}
		items[in.Name] = sk
		out, action = sk, "publish"
		return nil
	})
	if err != nil {
		return models.Skill{}, err
	}
	s.emit(kind, out.Name, out.Version, action)
	return out, nil
}

// Get returns one item by name.
func (s *Service) Get(kind, name string) (models.Skill, error) {
	cat, err := s.catalog(kind)
	if err != nil {
		return models.Skill{}, err
	}
	sk, ok := cat.Get(name)
	if !ok {
		return models.Skill{}, apperr.NotFound(kind, name)
	}
	return sk, nil
}

// List returns the full catalog for a kind, sorted by name.
func (s *Service) List(kind string) ([]models.Skill, error) {
	cat, err := s.catalog(kind)
	if err != nil {
		return nil, err
	}
	out := []models.Skill{}
	cat.View(func(items map[string]models.Skill) {
		for _, sk := range items {
			out = append(out, sk)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes an item and announces the removal.
func (s *Service) Remove(kind, name string) error {
	cat, err := s.catalog(kind)
	if err != nil {
		return err
	}
	var version int
	err = cat.Mutate(func(items map[string]models.Skill) error {
		sk, ok := items[name]
		if !ok {
			return apperr.NotFound(kind, name)
		}
		version = sk.Version
		delete(items, name)
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(kind, name, version, "remove")
	return nil
}

// SetEnabled flips the enabled flag. Disabled items are planned for
// removal on the next agent sync.
func (s *Service) SetEnabled(kind, name string, enabled bool) (models.Skill, error) {
	cat, err := s.catalog(kind)
	if err != nil {
		return models.Skill{}, err
	}
	var out models.Skill
	err = cat.Mutate(func(items map[string]models.Skill) error {
		sk, ok := items[name]
		if !ok {
			return apperr.NotFound(kind, name)
		}
		sk.Enabled = enabled
		sk.UpdatedAt = ids.Now()
		items[name] = sk
		out = sk
		return nil
	})
	if err != nil {
		return models.Skill{}, err
	}
	action := "enable"
	if !enabled {
		action = "disable"
	}
	s.emit(kind, name, out.Version, action)
	return out, nil
}

// SyncInput is what an agent reports when asking for a plan.
type SyncInput struct {
	AgentID    string            `json:"agentId"`
	VMID       string            `json:"vmId"`
	Skills     []models.SkillRef `json:"skills"`
	Extensions []models.SkillRef `json:"extensions"`
}

// Sync diffs the agent's inventory against both catalogs and returns the
// reconciliation plan. The submitted inventory is recorded as the agent's
// manifest with a fresh lastSync.
func (s *Service) Sync(in SyncInput) ([]models.SyncAction, error) {
	if strings.TrimSpace(in.AgentID) == "" {
		return nil, apperr.Validation("agentId is required")
	}

	plan := append(
		s.plan(KindSkill, s.skills, in.Skills),
		s.plan(KindExtension, s.extensions, in.Extensions)...,
	)

	manifest := models.AgentManifest{
		AgentID:    in.AgentID,
		VMID:       in.VMID,
		Skills:     in.Skills,
		Extensions: in.Extensions,
		LastSync:   ids.Now(),
	}
	if manifest.Skills == nil {
		manifest.Skills = []models.SkillRef{}
	}
	if manifest.Extensions == nil {
		manifest.Extensions = []models.SkillRef{}
	}
	err := s.manifests.Mutate(func(items map[string]models.AgentManifest) error {
		items[in.AgentID] = manifest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// plan walks the hub catalog in name order so the output is stable:
// installs and updates first, then removals in the agent's order.
func (s *Service) plan(kind string, cat *dstore.Map[models.Skill], have []models.SkillRef) []models.SyncAction {
	haveVersion := make(map[string]int, len(have))
	for _, ref := range have {
		haveVersion[ref.Name] = ref.Version
	}

	var hub []models.Skill
	enabled := make(map[string]bool)
	cat.View(func(items map[string]models.Skill) {
		for _, sk := range items {
			hub = append(hub, sk)
			enabled[sk.Name] = sk.Enabled
		}
	})
	sort.Slice(hub, func(i, j int) bool { return hub[i].Name < hub[j].Name })

	actions := []models.SyncAction{}
	for _, sk := range hub {
		if !sk.Enabled {
			continue
		}
		v, ok := haveVersion[sk.Name]
		switch {
		case !ok:
			actions = append(actions, models.SyncAction{Type: kind, Name: sk.Name, Version: sk.Version, Action: "install"})
		case v < sk.Version:
			actions = append(actions, models.SyncAction{Type: kind, Name: sk.Name, Version: sk.Version, Action: "update"})
		}
	}
	for _, ref := range have {
		if on, ok := enabled[ref.Name]; !ok || !on {
			actions = append(actions, models.SyncAction{Type: kind, Name: ref.Name, Version: ref.Version, Action: "remove"})
		}
	}
	return actions
}

// Manifest returns one agent's last-reported inventory.
func (s *Service) Manifest(agentID string) (models.AgentManifest, error) {
	m, ok := s.manifests.Get(agentID)
	if !ok {
		return models.AgentManifest{}, apperr.NotFound("agent manifest", agentID)
	}
	return m, nil
}

// Agents returns every known manifest, most recently synced first.
func (s *Service) Agents() []models.AgentManifest {
	out := []models.AgentManifest{}
	s.manifests.View(func(items map[string]models.AgentManifest) {
		for _, m := range items {
			out = append(out, m)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastSync > out[j].LastSync })
	return out
}

// Subscribe attaches to the change bus, replaying ring events after sinceID.
func (s *Service) Subscribe(sinceID string) ([]models.ChangeEvent, *bus.Subscriber[models.ChangeEvent]) {
	return s.changes.Subscribe(nil, sinceID)
}

// Changes returns the buffered change history, oldest first.
func (s *Service) Changes() []models.ChangeEvent {
	return s.changes.Ring()
}
