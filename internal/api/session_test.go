package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Niceiyke/Code-cli/internal/dispatch"
	"github.com/Niceiyke/Code-cli/internal/domain"
	"github.com/Niceiyke/Code-cli/internal/live"
	"github.com/Niceiyke/Code-cli/internal/store"
	"github.com/go-chi/chi/v5"
)

const testDefaultPath = "/home/testuser"

// newTestRouter wires the full API against a temp SQLite store. The
// dispatcher posts to webhookURL; pass "" for disabled dispatch.
func newTestRouter(t *testing.T, webhookURL string) (*chi.Mux, store.Repository) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	dispatcher := dispatch.New(dispatch.Config{
		WebhookURL:      webhookURL,
		CallbackBaseURL: "http://api.local",
		Timeout:         2 * time.Second,
	})
	hub := live.NewHub()
	base := NewHandler(repo)

	r := chi.NewRouter()
	NewSessionHandler(base, dispatcher, hub, testDefaultPath).RegisterRoutes(r)
	NewCallbackHandler(base, hub).RegisterRoutes(r)
	NewCLIHandler(base).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)
	return r, repo
}

func doRequest(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func createSession(t *testing.T, r http.Handler, body string) domain.Session {
	t.Helper()
	w := doRequest(t, r, http.MethodPost, "/sessions", body)
	if w.Code != http.StatusOK {
		t.Fatalf("create session: status %d, body %s", w.Code, w.Body.String())
	}
	return decode[domain.Session](t, w)
}

func sendMessage(t *testing.T, r http.Handler, sessionID, body string) domain.Message {
	t.Helper()
	w := doRequest(t, r, http.MethodPost, "/sessions/"+sessionID+"/messages", body)
	if w.Code != http.StatusOK {
		t.Fatalf("send message: status %d, body %s", w.Code, w.Body.String())
	}
	return decode[domain.Message](t, w)
}

func TestCreateSessionDefaultsPath(t *testing.T) {
	r, _ := newTestRouter(t, "")

	session := createSession(t, r, `{"title": "my chat"}`)
	if session.ID == "" {
		t.Fatal("expected generated session id")
	}
	if session.Path != testDefaultPath {
		t.Errorf("Path = %q, want default %q", session.Path, testDefaultPath)
	}

	explicit := createSession(t, r, `{"path": "/elsewhere"}`)
	if explicit.Path != "/elsewhere" {
		t.Errorf("Path = %q, want /elsewhere", explicit.Path)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doRequest(t, r, http.MethodGet, "/sessions/no-such-id", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPatchSessionPartialUpdate(t *testing.T) {
	r, _ := newTestRouter(t, "")
	session := createSession(t, r, `{"title": "before"}`)

	w := doRequest(t, r, http.MethodPatch, "/sessions/"+session.ID, `{"title": "after"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	updated := decode[domain.Session](t, w)
	if updated.Title != "after" {
		t.Errorf("Title = %q, want after", updated.Title)
	}
	if updated.Path != testDefaultPath {
		t.Errorf("Path = %q, patch must not clear it", updated.Path)
	}

	if w := doRequest(t, r, http.MethodPatch, "/sessions/no-such-id", `{"title": "x"}`); w.Code != http.StatusNotFound {
		t.Errorf("patch missing session: status = %d, want 404", w.Code)
	}
}

func TestSendMessageCreatesUserAndPlaceholder(t *testing.T) {
	r, _ := newTestRouter(t, "") // dispatch disabled; the turn must still be persisted

	session := createSession(t, r, `{}`)
	placeholder := sendMessage(t, r, session.ID, `{"content": "hello"}`)

	if placeholder.Role != domain.RoleAI {
		t.Errorf("Role = %q, want ai", placeholder.Role)
	}
	if placeholder.Content != domain.PendingContent {
		t.Errorf("Content = %q, want pending sentinel", placeholder.Content)
	}

	w := doRequest(t, r, http.MethodGet, "/sessions/"+session.ID, "")
	got := decode[domain.Session](t, w)
	if len(got.Messages) != 2 {
		t.Fatalf("expected exactly 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != domain.RoleUser || got.Messages[0].Content != "hello" {
		t.Errorf("first message = %+v", got.Messages[0])
	}
	if got.Messages[1].ID != placeholder.ID {
		t.Errorf("second message id = %q, want placeholder %q", got.Messages[1].ID, placeholder.ID)
	}
	for i := 1; i < len(got.Messages); i++ {
		if got.Messages[i].CreatedAt.Before(got.Messages[i-1].CreatedAt) {
			t.Error("messages out of creation order")
		}
	}
}

func TestSendMessageSessionMissing(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doRequest(t, r, http.MethodPost, "/sessions/no-such-id/messages", `{"content": "hi"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSendMessageRequiresContent(t *testing.T) {
	r, _ := newTestRouter(t, "")
	session := createSession(t, r, `{}`)

	w := doRequest(t, r, http.MethodPost, "/sessions/"+session.ID+"/messages", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSendMessageWithAttachments(t *testing.T) {
	r, _ := newTestRouter(t, "")
	session := createSession(t, r, `{}`)

	sendMessage(t, r, session.ID, `{
		"content": "analyze these",
		"attachments": [
			{"file_name": "test.txt", "mime_type": "text/plain", "data": "aGVsbG8="},
			{"file_name": "pix.gif", "mime_type": "image/gif", "data": "R0lGOD=="}
		]
	}`)

	w := doRequest(t, r, http.MethodGet, "/sessions/"+session.ID, "")
	got := decode[domain.Session](t, w)
	atts := got.Messages[0].Attachments
	if len(atts) != 2 {
		t.Fatalf("expected 2 attachment metas, got %d", len(atts))
	}
	if atts[0].FileName != "test.txt" || atts[0].MimeType != "text/plain" {
		t.Errorf("attachment meta = %+v", atts[0])
	}
	// Metadata only on the read path; payload bytes must not leak.
	if strings.Contains(w.Body.String(), "aGVsbG8=") {
		t.Error("attachment data leaked into session response")
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	r, repo := newTestRouter(t, "")
	session := createSession(t, r, `{}`)
	placeholder := sendMessage(t, r, session.ID, `{"content": "hi"}`)

	w := doRequest(t, r, http.MethodDelete, "/sessions/"+session.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	if w := doRequest(t, r, http.MethodGet, "/sessions/"+session.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", w.Code)
	}

	msg, err := repo.GetMessage(context.Background(), placeholder.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg != nil {
		t.Error("message survived session delete")
	}

	// A late callback for the cascaded placeholder is a 404, not a crash.
	if w := doRequest(t, r, http.MethodPost, "/callback/"+placeholder.ID, `{"output": "late"}`); w.Code != http.StatusNotFound {
		t.Errorf("late callback: status = %d, want 404", w.Code)
	}
}

func TestSendMessageDispatchesWebhook(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer engine.Close()

	r, _ := newTestRouter(t, engine.URL)
	session := createSession(t, r, `{}`)
	placeholder := sendMessage(t, r, session.ID, `{"content": "run the tests"}`)

	select {
	case body := <-received:
		if body["message"] != "run the tests" {
			t.Errorf(`webhook message = %v`, body["message"])
		}
		if body["session_id"] != session.ID {
			t.Errorf(`webhook session_id = %v`, body["session_id"])
		}
		if body["resume"] != false {
			t.Errorf(`webhook resume = %v, want false on first turn`, body["resume"])
		}
		cb, _ := body["callback_url"].(string)
		if !strings.HasSuffix(cb, "/callback/"+placeholder.ID) {
			t.Errorf("callback_url = %q, want suffix /callback/%s", cb, placeholder.ID)
		}
		if body["cli_name"] != domain.DefaultCLIName {
			t.Errorf("cli_name = %v, want default label", body["cli_name"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the dispatch")
	}

	// Second turn must carry resume=true.
	sendMessage(t, r, session.ID, `{"content": "and again"}`)
	select {
	case body := <-received:
		if body["resume"] != true {
			t.Errorf("second turn resume = %v, want true", body["resume"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the second dispatch")
	}
}

func TestSendMessageSurvivesDeadWebhook(t *testing.T) {
	// Unroutable endpoint; the client-facing call must still succeed.
	r, _ := newTestRouter(t, "http://127.0.0.1:1/hook")
	session := createSession(t, r, `{}`)

	placeholder := sendMessage(t, r, session.ID, `{"content": "hi"}`)
	if placeholder.Content != domain.PendingContent {
		t.Errorf("placeholder content = %q", placeholder.Content)
	}

	w := doRequest(t, r, http.MethodGet, "/sessions/"+session.ID, "")
	got := decode[domain.Session](t, w)
	if len(got.Messages) != 2 {
		t.Errorf("expected both messages despite dispatch failure, got %d", len(got.Messages))
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doRequest(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[map[string]interface{}](t, w)
	if got["status"] != "healthy" {
		t.Errorf("status = %v", got["status"])
	}
}

func TestCLIProfileEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doRequest(t, r, http.MethodPost, "/clis", `{"name": "claude", "description": "cli"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create cli: status = %d", w.Code)
	}
	cli := decode[domain.CLI](t, w)

	if w := doRequest(t, r, http.MethodPost, "/clis", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("create without name: status = %d, want 400", w.Code)
	}

	w = doRequest(t, r, http.MethodGet, "/clis/"+cli.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get cli: status = %d", w.Code)
	}

	w = doRequest(t, r, http.MethodGet, "/clis", "")
	clis := decode[[]domain.CLI](t, w)
	if len(clis) != 1 {
		t.Errorf("expected 1 cli, got %d", len(clis))
	}

	if w := doRequest(t, r, http.MethodDelete, "/clis/"+cli.ID, ""); w.Code != http.StatusOK {
		t.Errorf("delete cli: status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/clis/"+cli.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get deleted cli: status = %d, want 404", w.Code)
	}
}
