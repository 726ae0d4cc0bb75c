// Package models defines the entities shared between the feature stores,
// the HTTP handlers, and API clients. Timestamps are ISO-8601 strings with
// millisecond precision; identifiers are 26-char sortable ULIDs unless a
// field says otherwise.
package models

// ── Board ───────────────────────────────────────────────────

// TaskStatus is the board workflow state.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

// ValidTaskStatus reports whether s is a known board status.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskOpen, TaskInProgress, TaskInReview, TaskBlocked, TaskDone:
		return true
	}
	return false
}

// Task is a board work item.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Assignee     string     `json:"assignee,omitempty"`
	Tags         []string   `json:"tags"`
	Dependencies []string   `json:"dependencies"`
	CreatedBy    string     `json:"createdBy"`
	CreatedAt    string     `json:"createdAt"`
	UpdatedAt    string     `json:"updatedAt"`
	Score        int        `json:"score"`
	Notes        []Note     `json:"notes"`
	Artifacts    []Artifact `json:"artifacts"`
}

// NoteType classifies a task note.
type NoteType string

const (
	NoteFinding  NoteType = "finding"
	NoteBlocker  NoteType = "blocker"
	NoteQuestion NoteType = "question"
	NoteUpdate   NoteType = "update"
)

// ValidNoteType reports whether t is a known note type.
func ValidNoteType(t NoteType) bool {
	switch t {
	case NoteFinding, NoteBlocker, NoteQuestion, NoteUpdate:
		return true
	}
	return false
}

// Note is a timestamped comment on a task.
type Note struct {
	ID        string   `json:"id"`
	Author    string   `json:"author"`
	Content   string   `json:"content"`
	Type      NoteType `json:"type"`
	CreatedAt string   `json:"createdAt"`
}

// ArtifactType classifies a task artifact link.
type ArtifactType string

const (
	ArtifactBranch ArtifactType = "branch"
	ArtifactReport ArtifactType = "report"
	ArtifactDeploy ArtifactType = "deploy"
	ArtifactDiff   ArtifactType = "diff"
	ArtifactFile   ArtifactType = "file"
	ArtifactURL    ArtifactType = "url"
)

// ValidArtifactType reports whether t is a known artifact type.
func ValidArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactBranch, ArtifactReport, ArtifactDeploy, ArtifactDiff, ArtifactFile, ArtifactURL:
		return true
	}
	return false
}

// Artifact is an external reference attached to a task.
type Artifact struct {
	Type    ArtifactType `json:"type"`
	URL     string       `json:"url"`
	Label   string       `json:"label"`
	AddedAt string       `json:"addedAt"`
	AddedBy string       `json:"addedBy,omitempty"`
}

// ── Reports ─────────────────────────────────────────────────

// Report is an author-submitted long-form Markdown document.
type Report struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

// ShareLink grants public read access to one report.
type ShareLink struct {
	LinkID    string `json:"linkId" db:"link_id"`
	ReportID  string `json:"reportId" db:"report_id"`
	CreatedBy string `json:"createdBy" db:"created_by"`
	CreatedAt string `json:"createdAt" db:"created_at"`
	ExpiresAt string `json:"expiresAt,omitempty" db:"expires_at"`
	Revoked   int    `json:"revoked" db:"revoked"`
	Label     string `json:"label,omitempty" db:"label"`
}

// AccessEntry records one visit to a share link.
type AccessEntry struct {
	LinkID    string `json:"linkId" db:"link_id"`
	IP        string `json:"ip,omitempty" db:"ip"`
	UserAgent string `json:"userAgent,omitempty" db:"user_agent"`
	Referrer  string `json:"referrer,omitempty" db:"referrer"`
	Timestamp string `json:"timestamp" db:"timestamp"`
}

// ── Registry ────────────────────────────────────────────────

// VMRole is the fleet role of a registered VM.
type VMRole string

const (
	RoleInfra      VMRole = "infra"
	RoleLieutenant VMRole = "lieutenant"
	RoleWorker     VMRole = "worker"
	RoleGolden     VMRole = "golden"
	RoleCustom     VMRole = "custom"
)

// ValidVMRole reports whether r is a known role.
func ValidVMRole(r VMRole) bool {
	switch r {
	case RoleInfra, RoleLieutenant, RoleWorker, RoleGolden, RoleCustom:
		return true
	}
	return false
}

// VMStatus is the lifecycle state of a registered VM.
type VMStatus string

const (
	VMRunning VMStatus = "running"
	VMPaused  VMStatus = "paused"
	VMStopped VMStatus = "stopped"
)

// ValidVMStatus reports whether s is a known VM status.
func ValidVMStatus(s VMStatus) bool {
	switch s {
	case VMRunning, VMPaused, VMStopped:
		return true
	}
	return false
}

// VM is a registered fleet machine.
type VM struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Role         VMRole            `json:"role"`
	Status       VMStatus          `json:"status"`
	Address      string            `json:"address"`
	Services     []string          `json:"services,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RegisteredBy string            `json:"registeredBy"`
	RegisteredAt string            `json:"registeredAt"`
	LastSeen     string            `json:"lastSeen"`
}

// ── Commits ─────────────────────────────────────────────────

// CommitEntry records one VM snapshot. Unique by CommitID.
type CommitEntry struct {
	ID        string            `json:"id"`
	CommitID  string            `json:"commitId"`
	VMID      string            `json:"vmId"`
	Timestamp string            `json:"timestamp"`
	Label     string            `json:"label,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ── Skills ──────────────────────────────────────────────────

// Skill is a published skill or extension; Name is the primary key and
// republishing bumps Version.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     int      `json:"version"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	PublishedBy string   `json:"publishedBy"`
	PublishedAt string   `json:"publishedAt"`
	UpdatedAt   string   `json:"updatedAt"`
	Tags        []string `json:"tags"`
	Enabled     bool     `json:"enabled"`
}

// SkillRef is a name/version pair in an agent manifest.
type SkillRef struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// AgentManifest is the inventory an agent last reported.
type AgentManifest struct {
	AgentID    string     `json:"agentId"`
	VMID       string     `json:"vmId,omitempty"`
	Skills     []SkillRef `json:"skills"`
	Extensions []SkillRef `json:"extensions"`
	LastSync   string     `json:"lastSync"`
}

// SyncAction tells an agent how to reconcile one item with the hub.
type SyncAction struct {
	Type    string `json:"type"` // "skill" or "extension"
	Name    string `json:"name"`
	Version int    `json:"version"`
	Action  string `json:"action"` // install, update, remove
}

// ChangeEvent is one entry on the skill-hub change bus.
type ChangeEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "skill" or "extension"
	Name      string `json:"name"`
	Version   int    `json:"version"`
	Action    string `json:"action"` // publish, update, remove, enable, disable
	Timestamp string `json:"timestamp"`
}

// ── Feed ────────────────────────────────────────────────────

// FeedEvent is one entry on the fleet activity feed.
type FeedEvent struct {
	ID        string            `json:"id"`
	Agent     string            `json:"agent"`
	Type      string            `json:"type"`
	Summary   string            `json:"summary"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// ── Journal / worklog ───────────────────────────────────────

// JournalEntry is a free-text journal or worklog line.
type JournalEntry struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Text      string   `json:"text"`
	Author    string   `json:"author,omitempty"`
	Agent     string   `json:"agent,omitempty"`
	Mood      string   `json:"mood,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// ── Config ──────────────────────────────────────────────────

// ConfigEntry is one key-value pair. Secrets are masked on read unless
// explicitly revealed or exported for agent environment injection.
type ConfigEntry struct {
	Key       string `json:"key" db:"key"`
	Value     string `json:"value" db:"value"`
	Type      string `json:"type" db:"type"` // "config" or "secret"
	UpdatedAt string `json:"updatedAt" db:"updated_at"`
}

// ── Usage ───────────────────────────────────────────────────

// TokenUsage is per-session token accounting.
type TokenUsage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cacheRead"`
	CacheWrite int64 `json:"cacheWrite"`
	Total      int64 `json:"total"`
}

// CostUsage is per-session cost accounting in USD.
type CostUsage struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// SessionRecord is one agent session's accounting row. Upsert is by
// SessionID; ID is the stable row identity.
type SessionRecord struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	Agent       string         `json:"agent"`
	ParentAgent string         `json:"parentAgent,omitempty"`
	Model       string         `json:"model"`
	Tokens      TokenUsage     `json:"tokens"`
	Cost        CostUsage      `json:"cost"`
	Turns       int            `json:"turns"`
	ToolCalls   map[string]int `json:"toolCalls"`
	StartedAt   string         `json:"startedAt"`
	EndedAt     string         `json:"endedAt"`
	RecordedAt  string         `json:"recordedAt"`
}

// VMRecord is one VM lifecycle accounting row, updated on destroy.
type VMRecord struct {
	ID          string `json:"id" db:"id"`
	VMID        string `json:"vmId" db:"vm_id"`
	Role        string `json:"role" db:"role"`
	Agent       string `json:"agent" db:"agent"`
	CommitID    string `json:"commitId,omitempty" db:"commit_id"`
	CreatedAt   string `json:"createdAt" db:"created_at"`
	DestroyedAt string `json:"destroyedAt,omitempty" db:"destroyed_at"`
	RecordedAt  string `json:"recordedAt" db:"recorded_at"`
}

// UsageSummary is the time-ranged rollup returned by the usage endpoint.
type UsageSummary struct {
	Range    string       `json:"range"`
	Tokens   int64        `json:"tokens"`
	Cost     float64      `json:"cost"`
	Sessions int          `json:"sessions"`
	VMs      int          `json:"vms"`
	ByAgent  []AgentUsage `json:"byAgent"`
}

// AgentUsage is one agent's slice of the usage summary, ordered by
// descending cost.
type AgentUsage struct {
	Agent    string  `json:"agent"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
	Sessions int     `json:"sessions"`
}

// ── API keys ────────────────────────────────────────────────

// APIKey is the public shape of a stored key. The raw key is returned
// exactly once, at creation, and never persisted.
type APIKey struct {
	ID        string   `json:"id" db:"id"`
	Name      string   `json:"name" db:"name"`
	KeyPrefix string   `json:"keyPrefix" db:"key_prefix"`
	CreatedAt string   `json:"createdAt" db:"created_at"`
	RevokedAt string   `json:"revokedAt,omitempty" db:"revoked_at"`
	Scopes    []string `json:"scopes"`
}
