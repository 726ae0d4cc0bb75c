package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleethub/fleethub/pkg/models"
)

func openUsage(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usage.duckdb"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestRecordSession_Validation(t *testing.T) {
	s, _ := openUsage(t)
	ctx := context.Background()
	if _, err := s.RecordSession(ctx, SessionInput{Agent: "a"}); err == nil {
		t.Error("RecordSession() without sessionId: error = nil, want Validation")
	}
	if _, err := s.RecordSession(ctx, SessionInput{SessionID: "s1"}); err == nil {
		t.Error("RecordSession() without agent: error = nil, want Validation")
	}
	if _, err := s.RecordSession(ctx, SessionInput{SessionID: "s1", Agent: "a", Turns: -1}); err == nil {
		t.Error("RecordSession() with negative turns: error = nil, want Validation")
	}
}

func TestRecordSession_DefaultsStartedAt(t *testing.T) {
	s, _ := openUsage(t)
	rec, err := s.RecordSession(context.Background(), SessionInput{SessionID: "s1", Agent: "a"})
	if err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}
	if rec.StartedAt != rec.RecordedAt {
		t.Errorf("StartedAt = %q, want the recording time %q", rec.StartedAt, rec.RecordedAt)
	}
	if rec.ID == "" {
		t.Error("ID not assigned")
	}
}

func TestUpsertSession_KeepsIdentity(t *testing.T) {
	s, clock := openUsage(t)
	ctx := context.Background()

	first, err := s.UpsertSession(ctx, "s1", SessionInput{
		Agent:  "agent-1",
		Tokens: models.TokenUsage{Total: 100},
		Cost:   models.CostUsage{Total: 0.5},
		Turns:  1,
	})
	if err != nil {
		t.Fatalf("first UpsertSession() error = %v", err)
	}

	*clock = clock.Add(time.Minute)
	second, err := s.UpsertSession(ctx, "s1", SessionInput{
		Agent:  "agent-1",
		Tokens: models.TokenUsage{Total: 250},
		Cost:   models.CostUsage{Total: 1.25},
		Turns:  3,
	})
	if err != nil {
		t.Fatalf("second UpsertSession() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("upsert changed row id: %q -> %q", first.ID, second.ID)
	}
	if second.StartedAt != first.StartedAt {
		t.Errorf("upsert changed startedAt: %q -> %q", first.StartedAt, second.StartedAt)
	}
	if second.Tokens.Total != 250 || second.Turns != 3 {
		t.Errorf("upsert did not take new values: %+v", second)
	}

	all, err := s.ListSessions(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("ListSessions() len = %d, want 1 (update, not insert)", len(all))
	}
}

func TestUpsertSession_InsertsWhenUnknown(t *testing.T) {
	s, _ := openUsage(t)
	rec, err := s.UpsertSession(context.Background(), "fresh", SessionInput{Agent: "agent-1"})
	if err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	if rec.SessionID != "fresh" || rec.ID == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRecordVM_DestroyUpdatesExisting(t *testing.T) {
	s, clock := openUsage(t)
	ctx := context.Background()

	created, err := s.RecordVM(ctx, VMInput{VMID: "vm-1", Role: "worker", Agent: "agent-1"})
	if err != nil {
		t.Fatalf("RecordVM() error = %v", err)
	}
	if created.CreatedAt == "" {
		t.Error("CreatedAt not defaulted")
	}

	*clock = clock.Add(time.Hour)
	destroyed, err := s.RecordVM(ctx, VMInput{VMID: "vm-1", DestroyedAt: "2026-08-24T13:00:00.000Z"})
	if err != nil {
		t.Fatalf("RecordVM(destroy) error = %v", err)
	}
	if destroyed.ID != created.ID {
		t.Errorf("destroy inserted a new row: %q != %q", destroyed.ID, created.ID)
	}
	if destroyed.DestroyedAt == "" || destroyed.Role != "worker" {
		t.Errorf("destroy record = %+v", destroyed)
	}

	vms, err := s.ListVMs(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(vms) != 1 {
		t.Errorf("ListVMs() len = %d, want 1", len(vms))
	}
}

func TestRecordVM_DestroyWithoutPriorRowInserts(t *testing.T) {
	s, _ := openUsage(t)
	rec, err := s.RecordVM(context.Background(), VMInput{VMID: "ghost", DestroyedAt: "2026-08-24T13:00:00.000Z"})
	if err != nil {
		t.Fatalf("RecordVM() error = %v", err)
	}
	if rec.ID == "" || rec.DestroyedAt == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestSummary_RangeCutoff(t *testing.T) {
	s, clock := openUsage(t)
	ctx := context.Background()

	// One old session, outside a 24h window.
	if _, err := s.RecordSession(ctx, SessionInput{
		SessionID: "old", Agent: "agent-1",
		Tokens: models.TokenUsage{Total: 1000}, Cost: models.CostUsage{Total: 9.999},
	}); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(48 * time.Hour)
	if _, err := s.RecordSession(ctx, SessionInput{
		SessionID: "new", Agent: "agent-1",
		Tokens: models.TokenUsage{Total: 200}, Cost: models.CostUsage{Total: 1.239},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordVM(ctx, VMInput{VMID: "vm-1"}); err != nil {
		t.Fatal(err)
	}

	windowed, err := s.Summary(ctx, "24h")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if windowed.Sessions != 1 || windowed.Tokens != 200 {
		t.Errorf("24h summary = %+v, want only the recent session", windowed)
	}
	if windowed.Cost != 1.24 {
		t.Errorf("Cost = %v, want rounded 1.24", windowed.Cost)
	}
	if windowed.VMs != 1 {
		t.Errorf("VMs = %d, want 1", windowed.VMs)
	}

	all, err := s.Summary(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if all.Sessions != 2 || all.Tokens != 1200 {
		t.Errorf("all-history summary = %+v", all)
	}
	if len(all.ByAgent) != 1 || all.ByAgent[0].Agent != "agent-1" || all.ByAgent[0].Sessions != 2 {
		t.Errorf("ByAgent = %+v", all.ByAgent)
	}
}

func TestListSessions_AgentFilterNewestFirst(t *testing.T) {
	s, clock := openUsage(t)
	ctx := context.Background()

	s.RecordSession(ctx, SessionInput{SessionID: "s1", Agent: "agent-1"})
	*clock = clock.Add(time.Minute)
	s.RecordSession(ctx, SessionInput{SessionID: "s2", Agent: "agent-2"})
	*clock = clock.Add(time.Minute)
	s.RecordSession(ctx, SessionInput{SessionID: "s3", Agent: "agent-1"})

	got, err := s.ListSessions(ctx, ListFilter{Agent: "agent-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SessionID != "s3" {
		t.Errorf("ListSessions() = %+v, want [s3 s1]", got)
	}
}

func TestListVMs_DedupesByVMID(t *testing.T) {
	s, clock := openUsage(t)
	ctx := context.Background()

	s.RecordVM(ctx, VMInput{VMID: "vm-1", Role: "worker", CreatedAt: "2026-08-20T00:00:00.000Z"})
	*clock = clock.Add(time.Minute)
	// A second raw row for the same vm_id (no destroyedAt, so it inserts).
	s.RecordVM(ctx, VMInput{VMID: "vm-1", Role: "reviewer", CreatedAt: "2026-08-21T00:00:00.000Z"})
	*clock = clock.Add(time.Minute)
	s.RecordVM(ctx, VMInput{VMID: "vm-2", Role: "worker"})

	got, err := s.ListVMs(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ListVMs() len = %d, want 2 after dedupe", len(got))
	}
	for _, rec := range got {
		if rec.VMID == "vm-1" && rec.Role != "reviewer" {
			t.Errorf("dedupe kept the older vm-1 row: %+v", rec)
		}
	}

	// Summary counts raw rows, not deduped machines.
	sum, err := s.Summary(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if sum.VMs != 3 {
		t.Errorf("Summary VMs = %d, want 3 raw rows", sum.VMs)
	}
}
