package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"catalogd/services/access"
	"catalogd/services/blueprints"
)

const testBase = "https://catalog.example.test"

type memoryStore struct {
	mu      sync.Mutex
	items   map[uuid.UUID]blueprints.Blueprint
	creates int
	updates int
	deletes int
	failAll error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: map[uuid.UUID]blueprints.Blueprint{}}
}

func (s *memoryStore) seed(name string, props map[string]any) blueprints.Blueprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bp := blueprints.Blueprint{
		ID:           uuid.New(),
		Name:         name,
		UIProperties: props,
		Status:       blueprints.StatusUnpublished,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.items[bp.ID] = bp
	return bp
}

func (s *memoryStore) sorted() []blueprints.Blueprint {
	out := make([]blueprints.Blueprint, 0, len(s.items))
	for _, bp := range s.items {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *memoryStore) List(_ context.Context, page blueprints.Page) ([]blueprints.Blueprint, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return nil, 0, s.failAll
	}
	all := s.sorted()
	total := int64(len(all))
	if page.Offset >= len(all) {
		return []blueprints.Blueprint{}, total, nil
	}
	all = all[page.Offset:]
	if page.Limit > 0 && page.Limit < len(all) {
		all = all[:page.Limit]
	}
	return all, total, nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (blueprints.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return blueprints.Blueprint{}, s.failAll
	}
	bp, ok := s.items[id]
	if !ok {
		return blueprints.Blueprint{}, blueprints.ErrNotFound
	}
	return bp, nil
}

func (s *memoryStore) Create(_ context.Context, drafts []blueprints.Draft) ([]blueprints.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.failAll != nil {
		return nil, s.failAll
	}
	out := make([]blueprints.Blueprint, 0, len(drafts))
	for _, d := range drafts {
		bp := blueprints.Blueprint{
			ID:           uuid.New(),
			Name:         d.Name,
			Description:  d.Description,
			UIProperties: d.UIProperties,
			Status:       blueprints.StatusUnpublished,
			CreatedAt:    time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
		}
		s.items[bp.ID] = bp
		out = append(out, bp)
	}
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, id uuid.UUID, patch blueprints.Patch) (blueprints.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	bp, ok := s.items[id]
	if !ok {
		return blueprints.Blueprint{}, blueprints.ErrNotFound
	}
	if patch.Name != nil {
		bp.Name = *patch.Name
	}
	if patch.Description != nil {
		bp.Description = *patch.Description
	}
	if patch.UIProperties != nil {
		bp.UIProperties = patch.UIProperties
	}
	s.items[id] = bp
	return bp, nil
}

func (s *memoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if _, ok := s.items[id]; !ok {
		return blueprints.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *memoryStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates + s.updates + s.deletes
}

type stubPublisher struct {
	store   *memoryStore
	reasons map[uuid.UUID]string
	calls   int
}

func (p *stubPublisher) Publish(ctx context.Context, id uuid.UUID) (blueprints.Blueprint, error) {
	p.calls++
	if reason, ok := p.reasons[id]; ok {
		return blueprints.Blueprint{}, &blueprints.PublishError{Reason: reason}
	}
	bp, err := p.store.Get(ctx, id)
	if err != nil {
		return blueprints.Blueprint{}, err
	}
	p.store.mu.Lock()
	bp.Status = blueprints.StatusPublished
	p.store.items[id] = bp
	p.store.mu.Unlock()
	return bp, nil
}

type stubAuth struct {
	users map[string]access.Caller
}

func (a stubAuth) Authenticate(_ context.Context, name, password string) (access.Caller, error) {
	c, ok := a.users[name]
	if !ok || password != "secret" {
		return access.Caller{}, access.ErrInvalidCredentials
	}
	return c, nil
}

type grantAccess struct{}

func (grantAccess) Allowed(_ context.Context, caller access.Caller, capability string) (bool, error) {
	return access.Match(caller.Grants, capability), nil
}

type harness struct {
	handler   http.Handler
	store     *memoryStore
	publisher *stubPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemoryStore()
	publisher := &stubPublisher{store: store, reasons: map[uuid.UUID]string{}}
	users := map[string]access.Caller{"nobody": {ID: uuid.New(), Name: "nobody"}}
	for role, grants := range access.DefaultRoles {
		users[role] = access.Caller{ID: uuid.New(), Name: role, Roles: []string{role}, Grants: grants}
	}

	a, err := New(Deps{
		Store:     store,
		Publisher: publisher,
		Auth:      stubAuth{users: users},
		Access:    grantAccess{},
		Logger:    zerolog.Nop(),
	}, Config{APIBase: testBase, RateLimit: -1})
	require.NoError(t, err)

	handler, err := a.Routes()
	require.NoError(t, err)
	return &harness{handler: handler, store: store, publisher: publisher}
}

func (h *harness) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.SetBasicAuth(user, "secret")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) errorDetail {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeBody[errorBody](t, rec)
	require.Equal(t, kind, body.Error.Kind)
	return body.Error
}

func TestNewRequiresDeps(t *testing.T) {
	store := newMemoryStore()
	full := Deps{Store: store, Publisher: &stubPublisher{store: store}, Auth: stubAuth{}, Access: grantAccess{}}

	tests := []struct {
		name string
		drop func(*Deps)
	}{
		{name: "store", drop: func(d *Deps) { d.Store = nil }},
		{name: "publisher", drop: func(d *Deps) { d.Publisher = nil }},
		{name: "auth", drop: func(d *Deps) { d.Auth = nil }},
		{name: "access", drop: func(d *Deps) { d.Access = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.drop(&deps)
			if _, err := New(deps, Config{}); err == nil {
				t.Fatalf("expected error without %s", tt.name)
			}
		})
	}

	a, err := New(full, Config{})
	require.NoError(t, err)
	require.Equal(t, defaultRequestTimeout, a.config.RequestTimeout)
	require.Equal(t, defaultRateLimit, a.config.RateLimit)
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, "", http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	store := newMemoryStore()
	a, err := New(Deps{
		Store:     store,
		Publisher: &stubPublisher{store: store},
		Auth:      stubAuth{},
		Access:    grantAccess{},
		Ready:     func(context.Context) error { return errors.New("db down") },
		Logger:    zerolog.Nop(),
	}, Config{RateLimit: -1})
	require.NoError(t, err)
	handler, err := a.Routes()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCORSOnlyForConfiguredOrigins(t *testing.T) {
	build := func(t *testing.T, origins []string) http.Handler {
		t.Helper()
		store := newMemoryStore()
		a, err := New(Deps{
			Store:     store,
			Publisher: &stubPublisher{store: store},
			Auth:      stubAuth{},
			Access:    grantAccess{},
			Logger:    zerolog.Nop(),
		}, Config{AllowedOrigins: origins, RateLimit: -1})
		require.NoError(t, err)
		handler, err := a.Routes()
		require.NoError(t, err)
		return handler
	}
	preflight := func(handler http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/blueprints", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight(build(t, nil), "https://evil.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q without configured origins", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("Access-Control-Allow-Credentials = %q without configured origins", got)
	}

	handler := build(t, []string{"https://ui.example"})
	rec = preflight(handler, "https://ui.example")
	require.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight(handler, "https://evil.example")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
