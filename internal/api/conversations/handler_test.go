package conversations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/auth"
	"github.com/emberlyhq/emberly-backend/internal/cache"
	"github.com/emberlyhq/emberly-backend/internal/chat"
	"github.com/emberlyhq/emberly-backend/internal/middleware"
	"github.com/emberlyhq/emberly-backend/internal/models"
	"github.com/emberlyhq/emberly-backend/internal/storage/memory"
)

// nopBroadcaster satisfies the pipeline's fan-out dependency; REST tests do
// not assert on real-time delivery.
type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToRoom(string, string, any, string) {}
func (nopBroadcaster) EmitToUser(string, string, any)              {}
func (nopBroadcaster) IsOnline(string) bool                        { return false }

type apiFixture struct {
	router   *mux.Router
	verifier *auth.Verifier
	store    *memory.Store
	chat     *chat.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.NewStore()
	chatSvc := chat.NewService(store, cache.Noop{}, nopBroadcaster{}, zerolog.Nop(), 50)
	verifier := auth.NewVerifier("test-secret")

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(verifier))
	Register(api, &Handler{Store: store, Chat: chatSvc, Logger: zerolog.Nop()})

	return &apiFixture{router: router, verifier: verifier, store: store, chat: chatSvc}
}

func (f *apiFixture) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		token, err := f.verifier.Sign(userID, time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAPIRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/conversations", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateAndListConversations(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/conversations", "alice", `{"participants":["bob"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body)
	}
	var conv models.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if conv.Type != models.ConversationDirect {
		t.Errorf("default type = %q, want direct", conv.Type)
	}
	if !conv.HasParticipant("alice") || !conv.HasParticipant("bob") {
		t.Errorf("creator not forced into participants: %v", conv.Participants)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var convs []*models.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Fatalf("listed = %v", convs)
	}

	// A stranger's listing is empty, not an error.
	rec = f.do(t, http.MethodGet, "/api/v1/conversations", "carol", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("stranger listing = %d %q", rec.Code, rec.Body)
	}
}

func TestListMessagesPaginatesWithCursor(t *testing.T) {
	f := newAPIFixture(t)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.store.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	conv, _ := f.store.CreateConversation(context.Background(), models.ConversationDirect, "alice", []string{"alice", "bob"})
	for i := 0; i < 5; i++ {
		if _, err := f.chat.Send(context.Background(), "alice", conv.ID, fmt.Sprintf("m%d", i), models.MessageText, fmt.Sprintf("k%d", i), nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	type page struct {
		Messages   []*models.Message `json:"messages"`
		NextCursor string            `json:"next_cursor"`
	}

	rec := f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages?limit=2", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var first page
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if len(first.Messages) != 2 || first.Messages[0].Content != "m4" {
		t.Fatalf("first page = %+v", first.Messages)
	}
	if first.NextCursor == "" {
		t.Fatal("no cursor on a full page")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages?limit=2&cursor="+first.NextCursor, "bob", "")
	var second page
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if len(second.Messages) != 2 || second.Messages[0].Content != "m2" {
		t.Fatalf("second page = %+v", second.Messages)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages?cursor=banana", "bob", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "mallory", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-participant status = %d, want 403", rec.Code)
	}
}

func TestEditAndDeleteMessages(t *testing.T) {
	f := newAPIFixture(t)
	conv, _ := f.store.CreateConversation(context.Background(), models.ConversationDirect, "alice", []string{"alice", "bob"})
	msg, _ := f.chat.Send(context.Background(), "alice", conv.ID, "hello", models.MessageText, "k1", nil)

	rec := f.do(t, http.MethodPatch, "/api/v1/messages/"+msg.ID, "bob", `{"content":"hijacked"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-sender edit status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPatch, "/api/v1/messages/"+msg.ID, "alice", `{"content":"hello again"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d body = %s", rec.Code, rec.Body)
	}
	var edited models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &edited); err != nil {
		t.Fatal(err)
	}
	if !edited.Edited || edited.Content != "hello again" {
		t.Fatalf("edited = %+v", edited)
	}

	rec = f.do(t, http.MethodPatch, "/api/v1/messages/missing", "alice", `{"content":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("edit missing status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/messages/"+msg.ID, "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	var deleted models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &deleted); err != nil {
		t.Fatal(err)
	}
	if !deleted.Deleted || deleted.Content != models.Tombstone {
		t.Fatalf("deleted = %+v", deleted)
	}
}

func TestUnreadCountEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	conv, _ := f.store.CreateConversation(context.Background(), models.ConversationDirect, "alice", []string{"alice", "bob"})
	msg, _ := f.chat.Send(context.Background(), "alice", conv.ID, "hello", models.MessageText, "k1", nil)
	_, _ = f.chat.Send(context.Background(), "alice", conv.ID, "again", models.MessageText, "k2", nil)

	rec := f.do(t, http.MethodGet, "/api/v1/messages/unread-count", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["unread"] != 2 {
		t.Fatalf("unread = %d, want 2", resp["unread"])
	}

	if err := f.chat.MarkRead(context.Background(), msg.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/messages/unread-count", "bob", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["unread"] != 1 {
		t.Fatalf("unread after read = %d, want 1", resp["unread"])
	}
}
