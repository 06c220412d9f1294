//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/easely-bot/internal/conversation"
	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/messenger"
	"github.com/ashureev/easely-bot/internal/middleware"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		db     string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"degraded", errors.New("disk gone"), http.StatusServiceUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := chi.NewRouter()
			NewHealthHandler(fakePinger{err: tt.err}, time.Second).RegisterHealth(r)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.status, w.Code)
			var body struct {
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.db, body.Checks["database"])
		})
	}
}

type call struct {
	userID string
	ev     domain.Event
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeEngine) HandleEvent(_ context.Context, _ conversation.Sender, userID string, ev domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{userID: userID, ev: ev})
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]domain.Message
}

func (f *fakeSender) Channel() string { return "messenger" }

func (f *fakeSender) Send(_ context.Context, userID string, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]domain.Message)
	}
	f.sent[userID] = append(f.sent[userID], msg)
	return nil
}

func newWebhookRouter(engine EventHandler, out conversation.Sender) (*WebhookHandler, http.Handler) {
	h := NewWebhookHandler(engine, out, "verify-me", "", nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return h, r
}

func TestWebhookVerify(t *testing.T) {
	t.Parallel()

	_, r := newWebhookRouter(&fakeEngine{}, &fakeSender{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookReceiveDispatchesInOrder(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	out := &fakeSender{}
	h, r := newWebhookRouter(engine, out)

	body := `{"object":"page","entry":[{"id":"p","time":1,"messaging":[
		{"sender":{"id":"u1"},"recipient":{"id":"p"},"message":{"mid":"a","text":"hi"}},
		{"sender":{"id":"u1"},"recipient":{"id":"p"},"postback":{"title":"Menu","payload":"MAIN_MENU"}},
		{"sender":{"id":"u2"},"recipient":{"id":"p"},"message":{"mid":"b","attachments":[{"type":"image"}]}}
	]}]}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EVENT_RECEIVED", w.Body.String())

	h.Wait()

	require.Len(t, engine.calls, 2)
	assert.Equal(t, call{"u1", domain.TextEvent("hi")}, engine.calls[0])
	assert.Equal(t, call{"u1", domain.ActionEvent("MAIN_MENU")}, engine.calls[1])
	require.Len(t, out.sent["u2"], 1)
	assert.Equal(t, messenger.AttachmentNotice, out.sent["u2"][0].Text)
}

func TestWebhookReceiveRejects(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	h, r := newWebhookRouter(engine, &fakeSender{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":"instagram","entry":[]}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.Wait()
	assert.Empty(t, engine.calls)
}

type fakeRecords struct {
	records []domain.SyncRecord
	changes []domain.StateChange
	limit   int
	err     error
}

func (f *fakeRecords) ListStateChanges(_ context.Context, _ string, limit int) ([]domain.StateChange, error) {
	f.limit = limit
	return f.changes, f.err
}

func (f *fakeRecords) ListSyncRecords(_ context.Context, _ string, limit int) ([]domain.SyncRecord, error) {
	f.limit = limit
	return f.records, f.err
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()

	records := &fakeRecords{records: []domain.SyncRecord{{ID: "s1", UserID: "u1", Status: domain.SyncStatusSuccess, ItemsCount: 3}}}
	r := chi.NewRouter()
	NewDiagnosticsHandler(records, "admin-secret", middleware.NewRateLimiter(100, 100, time.Minute)).RegisterRoutes(r)

	get := func(path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, get("/api/diagnostics/users/u1/syncs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/diagnostics/users/u1/syncs", "Bearer wrong").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/diagnostics/users/u1/syncs?limit=x", "Bearer admin-secret").Code)

	w := get("/api/diagnostics/users/u1/syncs?limit=500", "Bearer admin-secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxSyncLimit, records.limit)

	var body struct {
		UserID  string              `json:"user_id"`
		Records []domain.SyncRecord `json:"records"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "u1", body.UserID)
	require.Len(t, body.Records, 1)
	assert.Equal(t, 3, body.Records[0].ItemsCount)
}

func TestDiagnosticsStateChanges(t *testing.T) {
	t.Parallel()

	records := &fakeRecords{changes: []domain.StateChange{
		{ID: "c1", UserID: "u1", PreviousState: domain.StateNone, NewState: domain.StatePrivacyAgreed, Trigger: "PRIVACY_AGREE"},
	}}
	r := chi.NewRouter()
	NewDiagnosticsHandler(records, "admin-secret", nil).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics/users/u1/states", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultSyncLimit, records.limit)
	var body struct {
		Changes []domain.StateChange `json:"changes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Changes, 1)
	assert.Equal(t, domain.StatePrivacyAgreed, body.Changes[0].NewState)
}

func TestDiagnosticsDisabledWithoutToken(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	NewDiagnosticsHandler(&fakeRecords{}, "", nil).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/diagnostics/users/u1/syncs", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
