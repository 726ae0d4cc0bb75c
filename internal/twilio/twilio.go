// Package twilio is the SMS ingress: operators text the fleet and the
// message lands in the journal, the task board, or the worklog depending
// on a short prefix. Requests are authenticated with Twilio's request
// signature, not bearer auth, so the webhook mounts public.
package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/board"
	"github.com/fleethub/fleethub/internal/journal"
	"github.com/fleethub/fleethub/internal/loader"
)

// Config carries the webhook's shared secret and ingress policy.
type Config struct {
	// AuthToken is the Twilio account auth token used for request
	// signatures. Empty means the ingress is unconfigured.
	AuthToken string

	// WebhookURL is the public URL Twilio posts to; it prefixes the
	// signature base string.
	WebhookURL string

	// AllowedNumbers, when non-empty, restricts senders.
	AllowedNumbers []string
}

// Handler dispatches inbound SMS into the feature stores.
type Handler struct {
	cfg     Config
	journal *journal.Store
	worklog *journal.Store
	board   *board.Store
}

// Bundle wraps the ingress as a loadable feature. The mount is public;
// the Twilio signature is the authentication.
func Bundle(cfg Config, journalStore, logStore *journal.Store, boardStore *board.Store) loader.Bundle {
	h := &Handler{cfg: cfg, journal: journalStore, worklog: logStore, board: boardStore}
	return loader.Bundle{
		Name:         "twilio",
		Description:  "SMS ingress via Twilio webhooks",
		Dependencies: []string{"journal", "log", "board"},
		Routes: func() []loader.Mount {
			r := chi.NewRouter()
			r.Post("/webhook", h.Webhook)
			return []loader.Mount{{Path: "/twilio", Router: r, Public: true}}
		},
	}
}

// twiml is the canonical response envelope Twilio expects.
func twiml(w http.ResponseWriter, status int, message string) {
	var escaped strings.Builder
	xml.EscapeText(&escaped, []byte(message))
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		"<Response><Message>" + escaped.String() + "</Message></Response>"))
}

// Signature computes Twilio's request signature: HMAC-SHA1 over the URL
// followed by every form key+value pair sorted by key, base64-encoded.
func Signature(authToken, url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var base strings.Builder
	base.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			base.WriteString(k)
			base.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(base.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Handler) allowed(from string) bool {
	if len(h.cfg.AllowedNumbers) == 0 {
		return true
	}
	for _, n := range h.cfg.AllowedNumbers {
		if n == from {
			return true
		}
	}
	return false
}

// parseBody splits an optional routing prefix off the message. The
// default target is the journal.
func parseBody(body string) (target, payload string) {
	target = "journal"
	payload = body
	if i := strings.Index(body, ":"); i >= 0 {
		switch strings.ToLower(strings.TrimSpace(body[:i])) {
		case "j", "journal":
			payload = body[i+1:]
		case "t", "task":
			target = "task"
			payload = body[i+1:]
		case "l", "log":
			target = "log"
			payload = body[i+1:]
		}
	}
	return target, strings.TrimSpace(payload)
}

// Webhook handles one inbound SMS.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AuthToken == "" {
		twiml(w, http.StatusServiceUnavailable, "SMS ingress is not configured")
		return
	}
	if err := r.ParseForm(); err != nil {
		twiml(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	want := Signature(h.cfg.AuthToken, h.cfg.WebhookURL, r.PostForm)
	got := r.Header.Get("X-Twilio-Signature")
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		log.Warn().Str("from", r.PostForm.Get("From")).Msg("twilio signature mismatch")
		twiml(w, http.StatusForbidden, "Invalid signature")
		return
	}

	from := r.PostForm.Get("From")
	if !h.allowed(from) {
		twiml(w, http.StatusForbidden, "Sender not allowed")
		return
	}

	target, payload := parseBody(r.PostForm.Get("Body"))
	if payload == "" {
		twiml(w, http.StatusBadRequest, "Empty message")
		return
	}

	switch target {
	case "task":
		task, err := h.board.Create(board.CreateInput{
			Title:     payload,
			CreatedBy: from,
			Tags:      []string{"sms"},
		})
		if err != nil {
			twiml(w, http.StatusBadRequest, err.Error())
			return
		}
		twiml(w, http.StatusOK, "Task created ("+task.ID+")")
	case "log":
		e, err := h.worklog.Append(journal.AppendInput{
			Text:   payload,
			Author: from,
			Tags:   []string{"sms"},
		})
		if err != nil {
			twiml(w, http.StatusBadRequest, err.Error())
			return
		}
		twiml(w, http.StatusOK, "Log entry created ("+e.ID+")")
	default:
		e, err := h.journal.Append(journal.AppendInput{
			Text:   payload,
			Author: from,
			Tags:   []string{"sms"},
		})
		if err != nil {
			twiml(w, http.StatusBadRequest, err.Error())
			return
		}
		twiml(w, http.StatusOK, "Journal entry created ("+e.ID+")")
	}
}
