package twilio_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fleethub/fleethub/internal/board"
	"github.com/fleethub/fleethub/internal/journal"
	"github.com/fleethub/fleethub/internal/twilio"
)

const webhookURL = "https://hub.example.com/twilio/webhook"

type fixture struct {
	journal *journal.Store
	worklog *journal.Store
	board   *board.Store
	handler http.Handler
}

func newFixture(t *testing.T, cfg twilio.Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	js, err := journal.Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	ls, err := journal.Open(filepath.Join(dir, "log.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	bs, err := board.Open(filepath.Join(dir, "board.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		js.Close()
		ls.Close()
	})

	bundle := twilio.Bundle(cfg, js, ls, bs)
	mounts := bundle.Routes()
	if len(mounts) != 1 || !mounts[0].Public {
		t.Fatalf("bundle mounts = %+v, want one public mount", mounts)
	}
	return &fixture{journal: js, worklog: ls, board: bs, handler: mounts[0].Router}
}

func post(t *testing.T, f *fixture, form url.Values, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set("X-Twilio-Signature", sig)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func signed(t *testing.T, f *fixture, authToken string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return post(t, f, form, twilio.Signature(authToken, webhookURL, form))
}

func TestWebhook_Unconfigured(t *testing.T) {
	f := newFixture(t, twilio.Config{})
	rr := post(t, f, url.Values{"Body": {"hello"}}, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, twilio.Config{AuthToken: "secret", WebhookURL: webhookURL})
	rr := post(t, f, url.Values{"Body": {"hello"}, "From": {"+15551234567"}}, "bogus")
	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
	if f.journal.Len() != 0 {
		t.Error("rejected message still reached the journal")
	}
}

func TestWebhook_RejectsDisallowedSender(t *testing.T) {
	cfg := twilio.Config{
		AuthToken:      "secret",
		WebhookURL:     webhookURL,
		AllowedNumbers: []string{"+15550000000"},
	}
	f := newFixture(t, cfg)
	rr := signed(t, f, "secret", url.Values{"Body": {"hello"}, "From": {"+15551234567"}})
	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

func TestWebhook_EmptyPayload(t *testing.T) {
	f := newFixture(t, twilio.Config{AuthToken: "secret", WebhookURL: webhookURL})
	rr := signed(t, f, "secret", url.Values{"Body": {"j:   "}, "From": {"+15551234567"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestWebhook_DefaultsToJournal(t *testing.T) {
	f := newFixture(t, twilio.Config{AuthToken: "secret", WebhookURL: webhookURL})
	rr := signed(t, f, "secret", url.Values{"Body": {"shipped the release"}, "From": {"+15551234567"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("Content-Type = %q, want text/xml", ct)
	}
	if !strings.Contains(rr.Body.String(), "<Response><Message>") {
		t.Errorf("body = %q, want TwiML envelope", rr.Body.String())
	}

	entries := f.journal.List(journal.Filter{})
	if len(entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(entries))
	}
	if entries[0].Author != "+15551234567" || entries[0].Text != "shipped the release" {
		t.Errorf("entry = %+v", entries[0])
	}
	if len(entries[0].Tags) != 1 || entries[0].Tags[0] != "sms" {
		t.Errorf("tags = %v, want [sms]", entries[0].Tags)
	}
}

func TestWebhook_TaskPrefixCreatesBoardTask(t *testing.T) {
	f := newFixture(t, twilio.Config{AuthToken: "secret", WebhookURL: webhookURL})
	rr := signed(t, f, "secret", url.Values{"Body": {"t: fix the flaky deploy"}, "From": {"+15551234567"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	tasks := f.board.List(board.ListFilter{})
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].Title != "fix the flaky deploy" {
		t.Errorf("task title = %q", tasks[0].Title)
	}
	if f.journal.Len() != 0 {
		t.Error("task message leaked into the journal")
	}
}

func TestWebhook_LogPrefixAppendsWorklog(t *testing.T) {
	f := newFixture(t, twilio.Config{AuthToken: "secret", WebhookURL: webhookURL})
	rr := signed(t, f, "secret", url.Values{"Body": {"log: rotated certs"}, "From": {"+15551234567"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if f.worklog.Len() != 1 {
		t.Errorf("worklog entries = %d, want 1", f.worklog.Len())
	}
}

func TestWebhook_UnknownPrefixStaysWholeBody(t *testing.T) {
	f := newFixture(t, twilio.Config{AuthToken: "secret", WebhookURL: webhookURL})
	rr := signed(t, f, "secret", url.Values{"Body": {"note: remember the retro"}, "From": {"+15551234567"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	entries := f.journal.List(journal.Filter{})
	if len(entries) != 1 || entries[0].Text != "note: remember the retro" {
		t.Errorf("entries = %+v, want the whole body journaled", entries)
	}
}

func TestSignature_SortsKeys(t *testing.T) {
	form := url.Values{"Zebra": {"z"}, "Alpha": {"a"}, "Body": {"hi"}}
	// Two computations over different map iteration orders must agree.
	if twilio.Signature("tok", webhookURL, form) != twilio.Signature("tok", webhookURL, form) {
		t.Error("Signature() is not deterministic")
	}
	if twilio.Signature("tok", webhookURL, form) == twilio.Signature("other", webhookURL, form) {
		t.Error("Signature() ignores the auth token")
	}
}
