package services

import (
	"context"
	"sync"
	"time"

	"formapi/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	findByID map[string]int
	byName   int
	plans    map[string]models.Plan
	planErr  error
	findErr  error
}

func newFakeStore(projects ...*models.Project) *fakeStore {
	s := &fakeStore{
		projects: make(map[string]*models.Project),
		findByID: make(map[string]int),
		plans:    make(map[string]models.Plan),
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByID[id]++
	if s.findErr != nil {
		return nil, s.findErr
	}
	p, ok := s.projects[id]
	if !ok || p.Deleted != nil {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *fakeStore) FindByName(_ context.Context, name string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName++
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, p := range s.projects {
		if p.Name == name && p.Deleted == nil {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindByParent(_ context.Context, parentID string) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var children []models.Project
	for _, p := range s.projects {
		if p.ParentID() == parentID && p.Deleted == nil {
			children = append(children, *p)
		}
	}
	return children, nil
}

func (s *fakeStore) UpdatePlan(_ context.Context, id string, plan models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.planErr != nil {
		return s.planErr
	}
	s.plans[id] = plan
	return nil
}

func (s *fakeStore) calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByID[id]
}

func (s *fakeStore) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.byName
	for _, c := range s.findByID {
		n += c
	}
	return n
}

type fakeFallback struct {
	mu    sync.Mutex
	items map[string]models.Project
	ttls  map[string]time.Duration
}

func newFakeFallback() *fakeFallback {
	return &fakeFallback{items: make(map[string]models.Project), ttls: make(map[string]time.Duration)}
}

func (f *fakeFallback) GetProject(_ context.Context, id string) (*models.Project, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (f *fakeFallback) SetProject(_ context.Context, project *models.Project, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ttl <= 0 {
		return nil
	}
	f.items[project.ID] = *project
	f.ttls[project.ID] = ttl
	return nil
}

// fakeAuthority answers utilization requests with respond and records every
// request it receives.
type fakeAuthority struct {
	mu       sync.Mutex
	requests []UtilizationRequest
	respond  func(UtilizationRequest) (*UtilizationResult, error)
}

func newFakeAuthority(respond func(UtilizationRequest) (*UtilizationResult, error)) *fakeAuthority {
	if respond == nil {
		respond = func(UtilizationRequest) (*UtilizationResult, error) {
			return &UtilizationResult{}, nil
		}
	}
	return &fakeAuthority{respond: respond}
}

func (a *fakeAuthority) Utilization(_ context.Context, req UtilizationRequest) (*UtilizationResult, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	respond := a.respond
	a.mu.Unlock()
	return respond(req)
}

func (a *fakeAuthority) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *fakeAuthority) last() UtilizationRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

type fakeGrace struct {
	mu    sync.Mutex
	last  map[string]time.Time
	marks int
}

func newFakeGrace() *fakeGrace {
	return &fakeGrace{last: make(map[string]time.Time)}
}

func (g *fakeGrace) MarkSuccess(_ context.Context, key string, _ *models.APICalls, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks++
	g.last[key] = at
	return nil
}

func (g *fakeGrace) LastSuccess(_ context.Context, key string) (time.Time, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.last[key]
	return at, ok, nil
}

func (g *fakeGrace) markCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.marks
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func strPtr(s string) *string {
	return &s
}

func primary(id, name string, plan models.Plan) *models.Project {
	return &models.Project{ID: id, Name: name, Type: models.TypeProject, Plan: plan}
}

func child(id, name string, t models.ProjectType, parent string) *models.Project {
	return &models.Project{ID: id, Name: name, Type: t, Plan: models.PlanTeam, Project: strPtr(parent)}
}

func unreachable() error {
	return &AuthorityError{Unreachable: true, Err: context.DeadlineExceeded}
}
