package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"formapi/internal/cache"
	"formapi/internal/logger"
	"formapi/internal/metrics"
	"formapi/internal/models"
)

// RouteKey identifies a gated route. Every key must have an entry in
// dispatchTable.
type RouteKey int

const (
	RouteProjectRead RouteKey = iota
	RouteProjectCreate
	RouteProjectUpdate
	RouteProjectDelete
	RouteFormCreate
	RouteFormUpdate
	RouteFormRead
	RouteSubmissionCreate
	RouteSubmissionRead
	RouteSubmissionUpdate
	routeKeyCount
)

// RouteKeys lists every gated route.
func RouteKeys() []RouteKey {
	keys := make([]RouteKey, 0, routeKeyCount)
	for k := RouteKey(0); k < routeKeyCount; k++ {
		keys = append(keys, k)
	}
	return keys
}

func (k RouteKey) String() string {
	if k >= 0 && k < routeKeyCount {
		return dispatchTable[k].name
	}
	return "unknown"
}

type variant int

const (
	variantNone variant = iota
	variantUsageQuery
	variantCreate
	variantUpdate
	variantDisable
	variantPing
)

type dispatch struct {
	name    string
	variant variant
	ping    UtilizationType
}

var dispatchTable = [routeKeyCount]dispatch{
	RouteProjectRead:      {name: "GET /project/:projectId", variant: variantUsageQuery},
	RouteProjectCreate:    {name: "POST /project", variant: variantCreate},
	RouteProjectUpdate:    {name: "PUT /project/:projectId", variant: variantUpdate},
	RouteProjectDelete:    {name: "DELETE /project/:projectId", variant: variantDisable},
	RouteFormCreate:       {name: "POST /project/:projectId/form", variant: variantPing, ping: UtilizationFormCreate},
	RouteFormUpdate:       {name: "PUT /project/:projectId/form/:formId", variant: variantPing, ping: UtilizationFormUpdate},
	RouteFormRead:         {name: "GET /project/:projectId/form/:formId", variant: variantPing, ping: UtilizationFormRequest},
	RouteSubmissionCreate: {name: "POST /project/:projectId/form/:formId/submission", variant: variantPing, ping: UtilizationSubmissionRequest},
	RouteSubmissionRead:   {name: "GET /project/:projectId/form/:formId/submission/:submissionId", variant: variantPing, ping: UtilizationSubmissionRequest},
	RouteSubmissionUpdate: {name: "PUT /project/:projectId/form/:formId/submission/:submissionId", variant: variantPing, ping: UtilizationSubmissionRequest},
}

type Decision int

const (
	DecisionSkipped Decision = iota
	DecisionAllowed
	DecisionDegraded
	DecisionBlocked
)

func (d Decision) String() string {
	switch d {
	case DecisionSkipped:
		return "skipped"
	case DecisionAllowed:
		return "allowed"
	case DecisionDegraded:
		return "degraded"
	case DecisionBlocked:
		return "blocked"
	}
	return "unknown"
}

// Outcome is the gate's verdict for one request. A degraded outcome carries
// no decoration.
type Outcome struct {
	Decision Decision
	Status   int
	Err      error
	APICalls *models.APICalls
	Disabled string
}

func (o Outcome) Proceed() bool {
	return o.Decision != DecisionBlocked
}

// ProjectBody is the part of a project create/update payload the gate reads.
type ProjectBody struct {
	Type    models.ProjectType `json:"type"`
	Title   string             `json:"title"`
	Name    string             `json:"name"`
	Plan    models.Plan        `json:"plan"`
	Remote  bool               `json:"remote"`
	Project string             `json:"project"`
}

type GateRequest struct {
	Route RouteKey
	// Hierarchy is nil for routes without a project, such as creating a
	// primary project.
	Hierarchy *Hierarchy
	Body      ProjectBody
	FormID    string
}

// LicenseContext is derived per request from the hierarchy and the body.
type LicenseContext struct {
	Type       models.ProjectType
	ProjectID  string
	TenantID   string
	StageID    string
	Title      string
	Name       string
	Remote     bool
	PlanChange bool
	Plan       models.Plan
}

// BuildLicenseContext assembles the context for req.
func BuildLicenseContext(req GateRequest) LicenseContext {
	h := req.Hierarchy

	if dispatchTable[req.Route].variant == variantCreate {
		lc := LicenseContext{
			Type:   req.Body.Type,
			Title:  req.Body.Title,
			Name:   req.Body.Name,
			Remote: req.Body.Remote,
			Plan:   req.Body.Plan,
		}
		if lc.Type == "" {
			lc.Type = models.TypeProject
		}
		if h != nil {
			lc.ProjectID = h.Primary.ID
			if h.Current.Type == models.TypeTenant {
				lc.TenantID = h.Current.ID
			}
		}
		return lc
	}

	if h == nil {
		return LicenseContext{Type: models.TypeProject}
	}

	current := h.Current
	lc := LicenseContext{
		Type:      current.Type,
		ProjectID: h.Primary.ID,
		Title:     current.Title,
		Name:      current.Name,
		Remote:    current.Remote || req.Body.Remote,
		Plan:      current.Plan,
	}
	if lc.Type == "" {
		lc.Type = models.TypeProject
	}
	switch current.Type {
	case models.TypeStage:
		lc.StageID = current.ID
		if h.Parent.ID != h.Primary.ID {
			lc.TenantID = h.Parent.ID
		}
	case models.TypeTenant:
		lc.TenantID = current.ID
	}
	if req.Route == RouteProjectUpdate && req.Body.Plan != "" && req.Body.Plan != current.Plan {
		lc.PlanChange = true
		lc.Plan = req.Body.Plan
	}
	return lc
}

func (lc LicenseContext) request(licenseKey string) UtilizationRequest {
	return UtilizationRequest{
		Type:        UtilizationTypeFor(lc.Type),
		LicenseKey:  licenseKey,
		ProjectID:   lc.ProjectID,
		TenantID:    lc.TenantID,
		StageID:     lc.StageID,
		Title:       lc.Title,
		Name:        lc.Name,
		Remote:      lc.Remote,
		ProjectType: lc.Type,
		PlanChange:  lc.PlanChange,
		Plan:        lc.Plan,
	}
}

// GraceTracker persists the time of the last successful authority check.
type GraceTracker interface {
	MarkSuccess(ctx context.Context, key string, calls *models.APICalls, at time.Time) error
	LastSuccess(ctx context.Context, key string) (time.Time, bool, error)
}

// persistInterval bounds how often a success is written per key.
const persistInterval = time.Minute

type GateConfig struct {
	Hosted            bool
	Remote            bool
	AdminProject      string
	LicenseKey        string
	GraceWindow       time.Duration
	NoFormUtilization bool
}

type LicenseGate struct {
	authority UtilizationChecker
	grace     GraceTracker
	recent    *cache.TTL[time.Time]
	persisted *cache.TTL[bool]
	cfg       GateConfig
	now       func() time.Time
	wg        sync.WaitGroup
	warn      rate.Sometimes
}

func NewLicenseGate(authority UtilizationChecker, grace GraceTracker, cfg GateConfig) *LicenseGate {
	g := &LicenseGate{
		authority: authority,
		grace:     grace,
		cfg:       cfg,
		now:       time.Now,
		warn:      rate.Sometimes{First: 1, Interval: time.Minute},
	}
	g.recent = cache.NewTTL(cache.WithClock[time.Time](func() time.Time { return g.now() }))
	g.persisted = cache.NewTTL(cache.WithClock[bool](func() time.Time { return g.now() }))
	return g
}

func (g *LicenseGate) SetClock(now func() time.Time) {
	g.now = now
}

// Wait blocks until background notifications have finished.
func (g *LicenseGate) Wait() {
	g.wg.Wait()
}

// Check runs the bypass rules and then the route's dispatch variant.
func (g *LicenseGate) Check(ctx context.Context, req GateRequest) Outcome {
	outcome := g.check(ctx, req)
	metrics.LicenseGateDecisions.WithLabelValues(req.Route.String(), outcome.Decision.String()).Inc()
	return outcome
}

func (g *LicenseGate) check(ctx context.Context, req GateRequest) Outcome {
	if req.Route < 0 || req.Route >= routeKeyCount {
		return Outcome{Decision: DecisionSkipped}
	}
	route := dispatchTable[req.Route]

	if g.bypass(ctx, req) {
		return Outcome{Decision: DecisionSkipped}
	}
	if g.cfg.Remote && req.Route != RouteProjectRead && req.Route != RouteProjectCreate {
		return Outcome{Decision: DecisionSkipped}
	}
	if g.cfg.NoFormUtilization && route.variant == variantPing {
		return Outcome{Decision: DecisionSkipped}
	}

	licenseKey := g.licenseKey(req.Hierarchy)
	if licenseKey == "" {
		if g.cfg.Hosted {
			return blocked(http.StatusBadRequest, ErrMissingLicense)
		}
		return Outcome{Decision: DecisionSkipped}
	}

	lc := BuildLicenseContext(req)
	utilization := lc.request(licenseKey)
	graceKey := ""
	if req.Hierarchy != nil {
		graceKey = req.Hierarchy.Primary.ID
	}

	switch route.variant {
	case variantUsageQuery:
		utilization.ReadOnly = true
		return g.usageQuery(ctx, graceKey, utilization)
	case variantCreate:
		return g.syncCheck(ctx, graceKey, utilization)
	case variantUpdate:
		if lc.PlanChange {
			return g.syncCheck(ctx, graceKey, utilization)
		}
		g.async(ctx, graceKey, utilization)
		return Outcome{Decision: DecisionAllowed}
	case variantDisable:
		utilization.Action = ActionDisable
		g.async(ctx, "", utilization)
		return Outcome{Decision: DecisionAllowed}
	case variantPing:
		utilization.Type = route.ping
		utilization.FormID = req.FormID
		return g.ping(ctx, graceKey, utilization)
	}
	return Outcome{Decision: DecisionSkipped}
}

func (g *LicenseGate) bypass(ctx context.Context, req GateRequest) bool {
	h := req.Hierarchy
	if g.cfg.Hosted && h != nil && g.cfg.AdminProject != "" &&
		(h.Current.Name == g.cfg.AdminProject || h.Primary.Name == g.cfg.AdminProject) {
		return true
	}
	if scope := ScopeFrom(ctx); scope != nil {
		if scope.SkipLicense() || scope.Depth() > 0 {
			return true
		}
	}
	return g.cfg.Hosted && h == nil
}

func (g *LicenseGate) licenseKey(h *Hierarchy) string {
	if h != nil {
		if key := h.Primary.Settings.LicenseKey; key != "" {
			return key
		}
	}
	return g.cfg.LicenseKey
}

func (g *LicenseGate) usageQuery(ctx context.Context, graceKey string, req UtilizationRequest) Outcome {
	result, err := g.authority.Utilization(ctx, req)
	if err == nil {
		calls := result.APICalls()
		g.markSuccess(ctx, graceKey, calls)
		return Outcome{Decision: DecisionAllowed, APICalls: calls}
	}
	if authErr, ok := AsAuthorityError(err); ok && !authErr.Unreachable {
		return Outcome{Decision: DecisionAllowed, Disabled: authErr.Error()}
	}
	return g.fail(ctx, graceKey, err)
}

// syncCheck must succeed for the request to proceed; no grace applies.
func (g *LicenseGate) syncCheck(ctx context.Context, graceKey string, req UtilizationRequest) Outcome {
	result, err := g.authority.Utilization(ctx, req)
	if err != nil {
		return blocked(statusFor(err), err)
	}
	g.markSuccess(ctx, graceKey, result.APICalls())
	return Outcome{Decision: DecisionAllowed}
}

// ping is advisory: an unreachable authority never blocks.
func (g *LicenseGate) ping(ctx context.Context, graceKey string, req UtilizationRequest) Outcome {
	result, err := g.authority.Utilization(ctx, req)
	if err == nil {
		g.markSuccess(ctx, graceKey, result.APICalls())
		return Outcome{Decision: DecisionAllowed}
	}
	if authErr, ok := AsAuthorityError(err); ok && authErr.Unreachable {
		g.warnUnreachable(ctx, req, err)
		return Outcome{Decision: DecisionDegraded}
	}
	return g.fail(ctx, graceKey, err)
}

func (g *LicenseGate) async(ctx context.Context, graceKey string, req UtilizationRequest) {
	bg := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		result, err := g.authority.Utilization(bg, req)
		if err != nil {
			logger.FromContext(bg).Warn("background utilization check failed",
				zap.String("type", string(req.Type)),
				zap.String("action", req.Action),
				zap.String("project_id", req.ProjectID),
				zap.Error(err),
			)
			return
		}
		g.markSuccess(bg, graceKey, result.APICalls())
	}()
}

// fail applies the grace window: a recent success turns the failure into a
// degraded pass.
func (g *LicenseGate) fail(ctx context.Context, graceKey string, err error) Outcome {
	if errors.Is(err, ErrInvalidResponse) {
		return blocked(http.StatusBadRequest, err)
	}
	if g.withinGrace(ctx, graceKey) {
		g.warnUnreachable(ctx, UtilizationRequest{ProjectID: graceKey}, err)
		return Outcome{Decision: DecisionDegraded}
	}
	return blocked(statusFor(err), err)
}

func (g *LicenseGate) withinGrace(ctx context.Context, key string) bool {
	if key == "" || g.cfg.GraceWindow <= 0 {
		return false
	}
	if _, ok := g.recent.Get(key); ok {
		return true
	}
	if g.grace == nil {
		return false
	}

	last, ok, err := g.grace.LastSuccess(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to read last utilization", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	remaining := last.Add(g.cfg.GraceWindow).Sub(g.now())
	if remaining <= 0 {
		return false
	}
	g.recent.Set(key, last, remaining)
	return true
}

func (g *LicenseGate) markSuccess(ctx context.Context, key string, calls *models.APICalls) {
	if key == "" || g.cfg.GraceWindow <= 0 {
		return
	}
	at := g.now()
	g.recent.Set(key, at, g.cfg.GraceWindow)
	if g.grace == nil {
		return
	}
	if _, ok := g.persisted.Get(key); ok {
		return
	}
	g.persisted.Set(key, true, persistInterval)

	bg := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		writeCtx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()
		if err := g.grace.MarkSuccess(writeCtx, key, calls, at); err != nil {
			logger.FromContext(bg).Warn("failed to record utilization", zap.String("key", key), zap.Error(err))
		}
	}()
}

func (g *LicenseGate) warnUnreachable(ctx context.Context, req UtilizationRequest, err error) {
	g.warn.Do(func() {
		logger.FromContext(ctx).Warn("license server unavailable, allowing request",
			zap.String("type", string(req.Type)),
			zap.String("project_id", req.ProjectID),
			zap.Error(err),
		)
	})
}

func blocked(status int, err error) Outcome {
	return Outcome{Decision: DecisionBlocked, Status: status, Err: err}
}

func statusFor(err error) int {
	if authErr, ok := AsAuthorityError(err); ok && authErr.Status >= 400 {
		return authErr.Status
	}
	return http.StatusBadRequest
}
