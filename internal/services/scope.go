package services

import (
	"context"
	"sync"

	"formapi/internal/models"
)

type scopeKey struct{}

// Scope is the per-request state shared by the alias resolver, the project
// cache and the license gate. It lives for exactly one inbound request.
type Scope struct {
	mu          sync.Mutex
	projects    map[string]*models.Project
	names       map[string]string
	projectID   string
	userID      string
	skipLicense bool
	depth       int
	hierarchy   *Hierarchy
}

func newScope() *Scope {
	return &Scope{
		projects: make(map[string]*models.Project),
		names:    make(map[string]string),
	}
}

// NewRequestContext attaches a fresh Scope to ctx.
func NewRequestContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, newScope())
}

// ScopeFrom returns the request Scope, or nil outside of a request.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// WithChildRequest derives a context for an internally triggered
// sub-request. The child gets its own cache and a depth one greater than
// the parent.
func WithChildRequest(ctx context.Context) context.Context {
	child := newScope()
	if parent := ScopeFrom(ctx); parent != nil {
		parent.mu.Lock()
		child.depth = parent.depth + 1
		child.userID = parent.userID
		child.skipLicense = parent.skipLicense
		parent.mu.Unlock()
	} else {
		child.depth = 1
	}
	return context.WithValue(ctx, scopeKey{}, child)
}

// WithSkipLicense marks the request as exempt from license checks.
func WithSkipLicense(ctx context.Context) context.Context {
	s := ScopeFrom(ctx)
	if s == nil {
		ctx = NewRequestContext(ctx)
		s = ScopeFrom(ctx)
	}
	s.mu.Lock()
	s.skipLicense = true
	s.mu.Unlock()
	return ctx
}

func (s *Scope) project(id string) (*models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	return p, ok
}

func (s *Scope) storeProject(p *models.Project) {
	s.mu.Lock()
	s.projects[p.ID] = p
	s.mu.Unlock()
}

func (s *Scope) projectIDForName(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.names[name]
	return id, ok
}

func (s *Scope) storeName(name, id string) {
	s.mu.Lock()
	s.names[name] = id
	s.mu.Unlock()
}

func (s *Scope) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

func (s *Scope) SetProjectID(id string) {
	s.mu.Lock()
	s.projectID = id
	s.mu.Unlock()
}

func (s *Scope) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Scope) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

func (s *Scope) SkipLicense() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipLicense
}

// Depth is zero for requests that came from a client.
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

func (s *Scope) cachedHierarchy() *Hierarchy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hierarchy
}

func (s *Scope) storeHierarchy(h *Hierarchy) {
	s.mu.Lock()
	s.hierarchy = h
	s.mu.Unlock()
}
