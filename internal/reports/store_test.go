package reports_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/reports"
	"github.com/fleethub/fleethub/pkg/models"
)

func openReports(t *testing.T) *reports.Store {
	t.Helper()
	s, err := reports.Open(filepath.Join(t.TempDir(), "reports.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Flush() })
	return s
}

func create(t *testing.T, s *reports.Store, title, author string, tags ...string) models.Report {
	t.Helper()
	rep, err := s.Create(reports.CreateInput{Title: title, Author: author, Content: "# " + title, Tags: tags})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", title, err)
	}
	return rep
}

func TestCreate_Validation(t *testing.T) {
	s := openReports(t)
	cases := []reports.CreateInput{
		{Author: "a", Content: "c"},
		{Title: "t", Content: "c"},
		{Title: "t", Author: "a"},
	}
	for _, in := range cases {
		if _, err := s.Create(in); err == nil {
			t.Errorf("Create(%+v) error = nil, want Validation", in)
		}
	}
}

func TestCreate_Defaults(t *testing.T) {
	s := openReports(t)
	rep := create(t, s, "weekly status", "alice")
	if rep.ID == "" || rep.CreatedAt == "" {
		t.Errorf("report missing identity: %+v", rep)
	}
	if rep.UpdatedAt != rep.CreatedAt {
		t.Error("UpdatedAt should start equal to CreatedAt")
	}
	if rep.Tags == nil {
		t.Error("Tags should default to empty slice")
	}
}

func TestList_Filters(t *testing.T) {
	s := openReports(t)
	create(t, s, "one", "alice", "infra")
	create(t, s, "two", "bob")
	create(t, s, "three", "alice")

	if got := s.List("", "", 0); len(got) != 3 {
		t.Fatalf("List() len = %d, want 3", len(got))
	}
	if got := s.List("", "alice", 0); len(got) != 2 {
		t.Errorf("List(author) len = %d, want 2", len(got))
	}
	if got := s.List("infra", "", 0); len(got) != 1 || got[0].Title != "one" {
		t.Errorf("List(tag) = %v", got)
	}
	if got := s.List("", "", 1); len(got) != 1 {
		t.Errorf("List(limit) len = %d, want 1", len(got))
	}
}

func TestUpdate_Patch(t *testing.T) {
	s := openReports(t)
	rep := create(t, s, "draft", "alice")

	title := "final"
	got, err := s.Update(rep.ID, reports.UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Title != "final" {
		t.Errorf("Title = %q, want final", got.Title)
	}
	if got.Content != rep.Content {
		t.Error("Update() clobbered an unpatched field")
	}

	empty := " "
	if _, err := s.Update(rep.ID, reports.UpdateInput{Title: &empty}); err == nil {
		t.Error("Update() with blank title: error = nil, want Validation")
	}
	if _, err := s.Update("missing", reports.UpdateInput{}); !apperr.IsNotFound(err) {
		t.Errorf("Update(missing) error = %v, want NotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := openReports(t)
	rep := create(t, s, "doomed", "alice")
	if err := s.Delete(rep.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(rep.ID); !apperr.IsNotFound(err) {
		t.Errorf("Get(deleted) error = %v, want NotFound", err)
	}
	if err := s.Delete(rep.ID); !apperr.IsNotFound(err) {
		t.Errorf("Delete(missing) error = %v, want NotFound", err)
	}
}

func openShares(t *testing.T) *reports.ShareStore {
	t.Helper()
	s, err := reports.OpenShares(filepath.Join(t.TempDir(), "share.db"))
	if err != nil {
		t.Fatalf("OpenShares() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShare_CreateAndGetValid(t *testing.T) {
	s := openShares(t)
	ctx := context.Background()

	link, err := s.CreateLink(ctx, "rep-1", "alice", "for the standup", "")
	if err != nil {
		t.Fatalf("CreateLink() error = %v", err)
	}
	if link.LinkID == "" || link.CreatedAt == "" {
		t.Errorf("link missing identity: %+v", link)
	}

	got, err := s.GetValid(ctx, link.LinkID)
	if err != nil {
		t.Fatalf("GetValid() error = %v", err)
	}
	if got.ReportID != "rep-1" || got.Label != "for the standup" {
		t.Errorf("GetValid() = %+v", got)
	}
	if _, err := s.GetValid(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("GetValid(missing) error = %v, want NotFound", err)
	}
}

func TestShare_ExpiredLooksMissing(t *testing.T) {
	s := openShares(t)
	ctx := context.Background()

	link, err := s.CreateLink(ctx, "rep-1", "alice", "", "2020-01-01T00:00:00.000Z")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetValid(ctx, link.LinkID); !apperr.IsNotFound(err) {
		t.Errorf("GetValid(expired) error = %v, want NotFound", err)
	}
	// The raw lookup still sees it.
	if _, err := s.Get(ctx, link.LinkID); err != nil {
		t.Errorf("Get(expired) error = %v, want nil", err)
	}
}

func TestShare_RevokeLifecycle(t *testing.T) {
	s := openShares(t)
	ctx := context.Background()
	link, _ := s.CreateLink(ctx, "rep-1", "alice", "", "")

	if err := s.Revoke(ctx, link.LinkID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := s.GetValid(ctx, link.LinkID); !apperr.IsNotFound(err) {
		t.Errorf("GetValid(revoked) error = %v, want NotFound", err)
	}
	err := s.Revoke(ctx, link.LinkID)
	if kind, ok := apperr.KindOf(err); !ok || kind != apperr.KindConflict {
		t.Errorf("second Revoke() error = %v, want Conflict", err)
	}
	if err := s.Revoke(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("Revoke(missing) error = %v, want NotFound", err)
	}
}

func TestShare_AccessLog(t *testing.T) {
	s := openShares(t)
	ctx := context.Background()
	link, _ := s.CreateLink(ctx, "rep-1", "alice", "", "")

	err := s.RecordAccess(ctx, models.AccessEntry{
		LinkID:    link.LinkID,
		IP:        "203.0.113.9",
		UserAgent: "curl/8.0",
	})
	if err != nil {
		t.Fatalf("RecordAccess() error = %v", err)
	}
	entries, err := s.ListAccess(ctx, link.LinkID)
	if err != nil {
		t.Fatalf("ListAccess() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ListAccess() len = %d, want 1", len(entries))
	}
	if entries[0].IP != "203.0.113.9" || entries[0].Timestamp == "" {
		t.Errorf("entry = %+v", entries[0])
	}
	if other, _ := s.ListAccess(ctx, "other-link"); len(other) != 0 {
		t.Errorf("ListAccess(other) = %v, want empty", other)
	}
}

func TestShare_ListLinksByReport(t *testing.T) {
	s := openShares(t)
	ctx := context.Background()
	s.CreateLink(ctx, "rep-1", "alice", "", "")
	s.CreateLink(ctx, "rep-1", "bob", "", "")
	s.CreateLink(ctx, "rep-2", "alice", "", "")

	links, err := s.ListLinks(ctx, "rep-1")
	if err != nil {
		t.Fatalf("ListLinks() error = %v", err)
	}
	if len(links) != 2 {
		t.Errorf("ListLinks() len = %d, want 2", len(links))
	}
}
