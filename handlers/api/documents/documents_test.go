package documents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"codocs/core"
	"codocs/handlers/auth"
	"codocs/handlers/websocket"
	"codocs/middleware"
	"codocs/stores"
	"codocs/stores/memory"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// recordedConn is a registry member that records notifications.
type recordedConn struct {
	id     string
	userID string

	mu       sync.Mutex
	events   []string
	detached int
}

func (c *recordedConn) ID() string     { return c.id }
func (c *recordedConn) UserID() string { return c.userID }

func (c *recordedConn) Emit(event string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *recordedConn) Detach(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached++
}

func (c *recordedConn) received(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

func authedRequest(t *testing.T, method, target, body, userID, docID string) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)

	claims := &auth.AppClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}
	ctx := context.WithValue(req.Context(), middleware.ClaimsContextKey, claims)

	if docID != "" {
		routeCtx := chi.NewRouteContext()
		routeCtx.URLParams.Add("id", docID)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, routeCtx)
	}
	return req.WithContext(ctx)
}

func mustCreateUser(t *testing.T, store stores.Store, email string) *core.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), email, []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser(%s) error: %v", email, err)
	}
	return user
}

func mustCreateDocument(t *testing.T, store stores.Store, ownerID string) *core.Document {
	t.Helper()
	doc, err := store.Create(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return doc
}

func TestHandleCreate(t *testing.T) {
	store := memory.NewStore()
	req := authedRequest(t, http.MethodPost, "/api/documents", "", "user-1", "")
	rec := httptest.NewRecorder()
	HandleCreate(store)(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body)
	}
	var doc core.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if doc.Title != core.DefaultTitle {
		t.Errorf("title = %q, want %q", doc.Title, core.DefaultTitle)
	}
	if doc.OwnerID != "user-1" {
		t.Errorf("owner = %q, want user-1", doc.OwnerID)
	}
}

func TestHandleCreateWithoutClaims(t *testing.T) {
	store := memory.NewStore()
	req := httptest.NewRequest(http.MethodPost, "/api/documents", nil)
	rec := httptest.NewRecorder()
	HandleCreate(store)(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleList(t *testing.T) {
	store := memory.NewStore()
	owned := mustCreateDocument(t, store, "user-1")
	shared := mustCreateDocument(t, store, "user-2")
	if err := store.AddCollaborator(context.Background(), shared.ID, "user-1"); err != nil {
		t.Fatalf("AddCollaborator() error: %v", err)
	}
	mustCreateDocument(t, store, "user-3") // invisible to user-1

	req := authedRequest(t, http.MethodGet, "/api/documents", "", "user-1", "")
	rec := httptest.NewRecorder()
	HandleList(store)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var docs []*core.Document
	if err := json.NewDecoder(rec.Body).Decode(&docs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("listed %d documents, want 2", len(docs))
	}
	ids := map[string]bool{}
	for _, d := range docs {
		ids[d.ID] = true
	}
	if !ids[owned.ID] || !ids[shared.ID] {
		t.Errorf("list = %v, want owned and shared documents", ids)
	}
}

func TestHandleListEmpty(t *testing.T) {
	store := memory.NewStore()
	req := authedRequest(t, http.MethodGet, "/api/documents", "", "user-1", "")
	rec := httptest.NewRecorder()
	HandleList(store)(rec, req)

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty list body = %q, want []", got)
	}
}

func TestHandleRename(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	doc := mustCreateDocument(t, store, "user-1")

	viewer := &recordedConn{id: "c1", userID: "user-2"}
	registry.Join(doc.ID, viewer)

	req := authedRequest(t, http.MethodPut, "/api/documents/"+doc.ID+"/rename",
		`{"title":"Design Notes"}`, "user-1", doc.ID)
	rec := httptest.NewRecorder()
	HandleRename(store, registry)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}
	stored, _ := store.FindID(context.Background(), doc.ID)
	if stored.Title != "Design Notes" {
		t.Errorf("stored title = %q, want Design Notes", stored.Title)
	}
	if viewer.received("document-renamed") != 1 {
		t.Error("open connection was not notified of the rename")
	}
	if viewer.detached != 0 {
		t.Error("rename must not evict room members")
	}
}

func TestHandleRenameValidation(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	doc := mustCreateDocument(t, store, "user-1")

	for _, body := range []string{`{}`, `{"title":""}`, `{"title":"   "}`, `not json`} {
		req := authedRequest(t, http.MethodPut, "/api/documents/"+doc.ID+"/rename", body, "user-1", doc.ID)
		rec := httptest.NewRecorder()
		HandleRename(store, registry)(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("rename %q status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestHandleRenameForbiddenForNonOwner(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	doc := mustCreateDocument(t, store, "user-1")
	if err := store.AddCollaborator(context.Background(), doc.ID, "user-2"); err != nil {
		t.Fatalf("AddCollaborator() error: %v", err)
	}

	// Collaborators can read but not manage.
	req := authedRequest(t, http.MethodPut, "/api/documents/"+doc.ID+"/rename",
		`{"title":"Hijacked"}`, "user-2", doc.ID)
	rec := httptest.NewRecorder()
	HandleRename(store, registry)(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	stored, _ := store.FindID(context.Background(), doc.ID)
	if stored.Title != core.DefaultTitle {
		t.Errorf("title changed to %q by a non-owner", stored.Title)
	}
}

func TestHandleRenameNotFound(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	req := authedRequest(t, http.MethodPut, "/api/documents/missing/rename",
		`{"title":"x"}`, "user-1", "missing")
	rec := httptest.NewRecorder()
	HandleRename(store, registry)(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleDeleteEvictsRoom(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	doc := mustCreateDocument(t, store, "user-1")

	conns := []*recordedConn{
		{id: "c1", userID: "user-1"},
		{id: "c2", userID: "user-2"},
		{id: "c3", userID: "user-3"},
	}
	for _, c := range conns {
		registry.Join(doc.ID, c)
	}

	req := authedRequest(t, http.MethodDelete, "/api/documents/"+doc.ID, "", "user-1", doc.ID)
	rec := httptest.NewRecorder()
	HandleDelete(store, registry)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}
	if _, err := store.FindID(context.Background(), doc.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindID after delete = %v, want ErrNotFound", err)
	}
	if registry.MemberCount(doc.ID) != 0 {
		t.Error("room still has members after delete")
	}
	for _, c := range conns {
		if c.received("document-deleted") != 1 {
			t.Errorf("conn %s received %d deletion notifications, want 1", c.id, c.received("document-deleted"))
		}
		if c.detached != 1 {
			t.Errorf("conn %s detached %d times, want 1", c.id, c.detached)
		}
	}
}

func TestHandleDeleteForbiddenForNonOwner(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	doc := mustCreateDocument(t, store, "user-1")
	if err := store.AddCollaborator(context.Background(), doc.ID, "user-2"); err != nil {
		t.Fatalf("AddCollaborator() error: %v", err)
	}

	req := authedRequest(t, http.MethodDelete, "/api/documents/"+doc.ID, "", "user-2", doc.ID)
	rec := httptest.NewRecorder()
	HandleDelete(store, registry)(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if _, err := store.FindID(context.Background(), doc.ID); err != nil {
		t.Error("document deleted by a non-owner")
	}
}

func TestHandleShare(t *testing.T) {
	store := memory.NewStore()
	owner := mustCreateUser(t, store, "owner@example.com")
	peer := mustCreateUser(t, store, "peer@example.com")
	doc := mustCreateDocument(t, store, owner.ID)

	req := authedRequest(t, http.MethodPost, "/api/documents/"+doc.ID+"/share",
		`{"email":"peer@example.com"}`, owner.ID, doc.ID)
	rec := httptest.NewRecorder()
	HandleShare(store)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}
	stored, _ := store.FindID(context.Background(), doc.ID)
	if !stored.IsCollaborator(peer.ID) {
		t.Error("target user is not a collaborator after share")
	}

	// Sharing twice is rejected.
	req = authedRequest(t, http.MethodPost, "/api/documents/"+doc.ID+"/share",
		`{"email":"peer@example.com"}`, owner.ID, doc.ID)
	rec = httptest.NewRecorder()
	HandleShare(store)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate share status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleShareUnknownEmail(t *testing.T) {
	store := memory.NewStore()
	owner := mustCreateUser(t, store, "owner@example.com")
	doc := mustCreateDocument(t, store, owner.ID)

	req := authedRequest(t, http.MethodPost, "/api/documents/"+doc.ID+"/share",
		`{"email":"ghost@example.com"}`, owner.ID, doc.ID)
	rec := httptest.NewRecorder()
	HandleShare(store)(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleShareWithSelf(t *testing.T) {
	store := memory.NewStore()
	owner := mustCreateUser(t, store, "owner@example.com")
	doc := mustCreateDocument(t, store, owner.ID)

	req := authedRequest(t, http.MethodPost, "/api/documents/"+doc.ID+"/share",
		`{"email":"owner@example.com"}`, owner.ID, doc.ID)
	rec := httptest.NewRecorder()
	HandleShare(store)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self-share status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUnshareEvictsOnlyTargetUser(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	owner := mustCreateUser(t, store, "owner@example.com")
	peer := mustCreateUser(t, store, "peer@example.com")
	doc := mustCreateDocument(t, store, owner.ID)
	if err := store.AddCollaborator(context.Background(), doc.ID, peer.ID); err != nil {
		t.Fatalf("AddCollaborator() error: %v", err)
	}

	ownerConn := &recordedConn{id: "c1", userID: owner.ID}
	peerConn := &recordedConn{id: "c2", userID: peer.ID}
	registry.Join(doc.ID, ownerConn)
	registry.Join(doc.ID, peerConn)

	req := authedRequest(t, http.MethodPost, "/api/documents/"+doc.ID+"/unshare",
		`{"email":"peer@example.com"}`, owner.ID, doc.ID)
	rec := httptest.NewRecorder()
	HandleUnshare(store, registry)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body)
	}
	stored, _ := store.FindID(context.Background(), doc.ID)
	if stored.IsCollaborator(peer.ID) {
		t.Error("target user is still a collaborator after unshare")
	}
	if peerConn.received("permission-revoked") != 1 {
		t.Error("revoked user's connection was not notified")
	}
	if peerConn.detached != 1 {
		t.Error("revoked user's connection was not detached")
	}
	if registry.IsMember(doc.ID, "c2") {
		t.Error("revoked user's connection is still a room member")
	}
	if !registry.IsMember(doc.ID, "c1") {
		t.Error("owner's connection was evicted by an unrelated revocation")
	}
	if ownerConn.received("permission-revoked") != 0 {
		t.Error("owner received a revocation notification")
	}
}

func TestHandleUnshareNotCollaborator(t *testing.T) {
	store := memory.NewStore()
	registry := websocket.NewRegistry()
	owner := mustCreateUser(t, store, "owner@example.com")
	mustCreateUser(t, store, "peer@example.com")
	doc := mustCreateDocument(t, store, owner.ID)

	req := authedRequest(t, http.MethodPost, "/api/documents/"+doc.ID+"/unshare",
		`{"email":"peer@example.com"}`, owner.ID, doc.ID)
	rec := httptest.NewRecorder()
	HandleUnshare(store, registry)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
