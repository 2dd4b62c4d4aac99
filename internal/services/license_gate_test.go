package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formapi/internal/models"
)

func primaryHierarchy() *Hierarchy {
	p := primary("root", "acme", models.PlanTeam)
	p.Settings.LicenseKey = "project-key"
	return &Hierarchy{Current: p, Parent: p, Primary: p}
}

func stageHierarchy() *Hierarchy {
	root := primary("root", "acme", models.PlanTeam)
	tenant := child("tenant", "tenant", models.TypeTenant, "root")
	stage := child("stage", "stage", models.TypeStage, "tenant")
	return &Hierarchy{Current: stage, Parent: tenant, Primary: root}
}

func newTestGate(authority UtilizationChecker, grace GraceTracker, cfg GateConfig) (*LicenseGate, *fakeClock) {
	clock := newFakeClock()
	gate := NewLicenseGate(authority, grace, cfg)
	gate.SetClock(clock.Now)
	return gate, clock
}

func selfHosted() GateConfig {
	return GateConfig{LicenseKey: "key", GraceWindow: 3 * time.Hour, AdminProject: "formio"}
}

func TestDispatchTableCoversEveryRoute(t *testing.T) {
	seen := map[string]bool{}
	for _, key := range RouteKeys() {
		d := dispatchTable[key]
		assert.NotEmpty(t, d.name, "route %d has no entry", key)
		assert.NotEqual(t, variantNone, d.variant, key.String())
		if d.variant == variantPing {
			assert.NotEmpty(t, d.ping, key.String())
		}
		assert.False(t, seen[d.name], "duplicate route %s", d.name)
		seen[d.name] = true
	}
	assert.Len(t, RouteKeys(), int(routeKeyCount))
	assert.Equal(t, "unknown", RouteKey(-1).String())
}

func TestGateBypassIsDeterministic(t *testing.T) {
	admin := primary("admin-id", "formio", models.PlanCommercial)
	admin.Settings.LicenseKey = "k"
	adminHierarchy := &Hierarchy{Current: admin, Parent: admin, Primary: admin}

	adminStage := child("admin-stage", "admin-dev", models.TypeStage, "admin-id")
	adminStageHierarchy := &Hierarchy{Current: adminStage, Parent: admin, Primary: admin}

	tests := []struct {
		name string
		cfg  GateConfig
		ctx  func() context.Context
		h    *Hierarchy
	}{
		{
			name: "skip license flag",
			cfg:  selfHosted(),
			ctx:  func() context.Context { return WithSkipLicense(NewRequestContext(context.Background())) },
			h:    primaryHierarchy(),
		},
		{
			name: "child request",
			cfg:  selfHosted(),
			ctx:  func() context.Context { return WithChildRequest(NewRequestContext(context.Background())) },
			h:    primaryHierarchy(),
		},
		{
			name: "hosted admin project",
			cfg:  GateConfig{Hosted: true, AdminProject: "formio", GraceWindow: time.Hour},
			ctx:  func() context.Context { return NewRequestContext(context.Background()) },
			h:    adminHierarchy,
		},
		{
			name: "hosted admin stage",
			cfg:  GateConfig{Hosted: true, AdminProject: "formio", GraceWindow: time.Hour},
			ctx:  func() context.Context { return NewRequestContext(context.Background()) },
			h:    adminStageHierarchy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
				return nil, errors.New("must not be called")
			})
			gate, _ := newTestGate(authority, newFakeGrace(), tt.cfg)

			for _, key := range RouteKeys() {
				for i := 0; i < 2; i++ {
					outcome := gate.Check(tt.ctx(), GateRequest{
						Route:     key,
						Hierarchy: tt.h,
						Body:      ProjectBody{Plan: models.PlanCommercial},
					})
					assert.Equal(t, DecisionSkipped, outcome.Decision, key.String())
				}
			}
			gate.Wait()
			assert.Zero(t, authority.count())
		})
	}
}

func TestGateAdminBypassIsHostedOnly(t *testing.T) {
	admin := primary("admin-id", "formio", models.PlanCommercial)
	authority := newFakeAuthority(nil)
	gate, _ := newTestGate(authority, nil, selfHosted())

	outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{
		Route:     RouteProjectRead,
		Hierarchy: &Hierarchy{Current: admin, Parent: admin, Primary: admin},
	})
	assert.Equal(t, DecisionAllowed, outcome.Decision)
	assert.Equal(t, 1, authority.count())
}

func TestGateGraceWindow(t *testing.T) {
	var fail bool
	authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
		if fail {
			return nil, unreachable()
		}
		return &UtilizationResult{}, nil
	})

	t.Run("recent success fails open", func(t *testing.T) {
		fail = false
		gate, clock := newTestGate(authority, newFakeGrace(), selfHosted())
		ctx := NewRequestContext(context.Background())

		outcome := gate.Check(ctx, GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		require.Equal(t, DecisionAllowed, outcome.Decision)

		fail = true
		clock.Advance(time.Hour)
		outcome = gate.Check(ctx, GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionDegraded, outcome.Decision)
		assert.True(t, outcome.Proceed())
		gate.Wait()
	})

	t.Run("no prior success fails closed", func(t *testing.T) {
		fail = true
		gate, _ := newTestGate(authority, newFakeGrace(), selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		assert.Equal(t, http.StatusBadRequest, outcome.Status)
		assert.False(t, outcome.Proceed())
	})

	t.Run("expired success fails closed", func(t *testing.T) {
		fail = false
		gate, clock := newTestGate(authority, newFakeGrace(), selfHosted())
		ctx := NewRequestContext(context.Background())

		gate.Check(ctx, GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		gate.Wait()

		fail = true
		clock.Advance(3*time.Hour + time.Second)
		outcome := gate.Check(ctx, GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
	})

	t.Run("persisted success survives restart", func(t *testing.T) {
		fail = true
		grace := newFakeGrace()
		gate, clock := newTestGate(authority, grace, selfHosted())
		require.NoError(t, grace.MarkSuccess(context.Background(), "root", nil, clock.Now().Add(-time.Hour)))

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionDegraded, outcome.Decision)
	})

	t.Run("grace is scoped to the primary project", func(t *testing.T) {
		fail = false
		gate, _ := newTestGate(authority, newFakeGrace(), selfHosted())
		gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})

		other := primary("other", "other", models.PlanTeam)
		fail = true
		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{
			Route:     RouteProjectRead,
			Hierarchy: &Hierarchy{Current: other, Parent: other, Primary: other},
		})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		gate.Wait()
	})
}

func TestGatePersistsSuccessAtMostOncePerInterval(t *testing.T) {
	grace := newFakeGrace()
	gate, clock := newTestGate(newFakeAuthority(nil), grace, selfHosted())

	for i := 0; i < 5; i++ {
		gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteFormRead, Hierarchy: primaryHierarchy()})
	}
	gate.Wait()
	assert.Equal(t, 1, grace.markCount())

	clock.Advance(persistInterval)
	gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteFormRead, Hierarchy: primaryHierarchy()})
	gate.Wait()
	assert.Equal(t, 2, grace.markCount())
}

func TestGateProjectReadDecoration(t *testing.T) {
	t.Run("usage attached", func(t *testing.T) {
		authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
			return &UtilizationResult{LicenseID: "lic", Used: map[string]int64{"forms": 2}}, nil
		})
		gate, _ := newTestGate(authority, nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		require.Equal(t, DecisionAllowed, outcome.Decision)
		require.NotNil(t, outcome.APICalls)
		assert.Equal(t, "lic", outcome.APICalls.LicenseID)
		assert.True(t, authority.last().ReadOnly)
		assert.Equal(t, "project-key", authority.last().LicenseKey, "the primary project's key wins")
	})

	t.Run("rejection marks disabled", func(t *testing.T) {
		authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
			return nil, &AuthorityError{Status: http.StatusPaymentRequired, Message: "API call limit reached"}
		})
		gate, _ := newTestGate(authority, nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionAllowed, outcome.Decision)
		assert.Equal(t, "API call limit reached", outcome.Disabled)
		assert.Nil(t, outcome.APICalls)
	})

	t.Run("invalid response blocks", func(t *testing.T) {
		authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
			return nil, ErrInvalidResponse
		})
		gate, _ := newTestGate(authority, nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		assert.ErrorIs(t, outcome.Err, ErrInvalidResponse)
	})
}

func TestGateCreate(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		authority := newFakeAuthority(nil)
		gate, _ := newTestGate(authority, nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{
			Route: RouteProjectCreate,
			Body:  ProjectBody{Title: "New", Name: "new"},
		})
		assert.Equal(t, DecisionAllowed, outcome.Decision)
		req := authority.last()
		assert.Equal(t, UtilizationProject, req.Type)
		assert.Equal(t, "new", req.Name)
		assert.Equal(t, "key", req.LicenseKey)
	})

	t.Run("stage under tenant", func(t *testing.T) {
		authority := newFakeAuthority(nil)
		gate, _ := newTestGate(authority, nil, selfHosted())
		tenant := child("tenant", "tenant", models.TypeTenant, "root")
		root := primary("root", "acme", models.PlanTeam)

		gate.Check(NewRequestContext(context.Background()), GateRequest{
			Route:     RouteProjectCreate,
			Hierarchy: &Hierarchy{Current: tenant, Parent: root, Primary: root},
			Body:      ProjectBody{Type: models.TypeStage, Name: "dev"},
		})
		req := authority.last()
		assert.Equal(t, UtilizationStage, req.Type)
		assert.Equal(t, "root", req.ProjectID)
		assert.Equal(t, "tenant", req.TenantID)
	})

	t.Run("rejected blocks with authority status", func(t *testing.T) {
		authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
			return nil, &AuthorityError{Status: http.StatusPaymentRequired, Message: "Project limit reached"}
		})
		gate, _ := newTestGate(authority, nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectCreate})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		assert.Equal(t, http.StatusPaymentRequired, outcome.Status)
		assert.EqualError(t, outcome.Err, "Project limit reached")
	})

	t.Run("unreachable blocks despite grace", func(t *testing.T) {
		var fail bool
		authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
			if fail {
				return nil, unreachable()
			}
			return &UtilizationResult{}, nil
		})
		gate, _ := newTestGate(authority, nil, selfHosted())
		gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})

		fail = true
		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectCreate, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		assert.Equal(t, http.StatusBadRequest, outcome.Status)
	})
}

func TestGateUpdate(t *testing.T) {
	rejected := func(UtilizationRequest) (*UtilizationResult, error) {
		return nil, &AuthorityError{Status: http.StatusForbidden, Message: "Plan not allowed"}
	}

	t.Run("plan change is synchronous", func(t *testing.T) {
		authority := newFakeAuthority(rejected)
		gate, _ := newTestGate(authority, nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{
			Route:     RouteProjectUpdate,
			Hierarchy: primaryHierarchy(),
			Body:      ProjectBody{Plan: models.PlanCommercial},
		})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		assert.Equal(t, http.StatusForbidden, outcome.Status)
		req := authority.last()
		assert.True(t, req.PlanChange)
		assert.Equal(t, models.PlanCommercial, req.Plan)
	})

	t.Run("same plan is asynchronous", func(t *testing.T) {
		authority := newFakeAuthority(rejected)
		gate, _ := newTestGate(authority, nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{
			Route:     RouteProjectUpdate,
			Hierarchy: primaryHierarchy(),
			Body:      ProjectBody{Plan: models.PlanTeam, Title: "Renamed"},
		})
		assert.Equal(t, DecisionAllowed, outcome.Decision)
		gate.Wait()
		assert.Equal(t, 1, authority.count())
		assert.False(t, authority.last().PlanChange)
	})
}

func TestGateDeleteNotifiesAsynchronously(t *testing.T) {
	release := make(chan struct{})
	authority := newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
		<-release
		return nil, unreachable()
	})
	gate, _ := newTestGate(authority, nil, selfHosted())

	outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectDelete, Hierarchy: primaryHierarchy()})
	assert.Equal(t, DecisionAllowed, outcome.Decision)

	close(release)
	gate.Wait()
	require.Equal(t, 1, authority.count())
	assert.Equal(t, ActionDisable, authority.last().Action)
}

func TestGateAdvisoryPings(t *testing.T) {
	t.Run("types", func(t *testing.T) {
		want := map[RouteKey]UtilizationType{
			RouteFormCreate:       UtilizationFormCreate,
			RouteFormUpdate:       UtilizationFormUpdate,
			RouteFormRead:         UtilizationFormRequest,
			RouteSubmissionCreate: UtilizationSubmissionRequest,
			RouteSubmissionRead:   UtilizationSubmissionRequest,
			RouteSubmissionUpdate: UtilizationSubmissionRequest,
		}
		for key, typ := range want {
			authority := newFakeAuthority(nil)
			gate, _ := newTestGate(authority, nil, selfHosted())
			outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: key, Hierarchy: stageHierarchy(), FormID: "form-1"})
			assert.Equal(t, DecisionAllowed, outcome.Decision)
			req := authority.last()
			assert.Equal(t, typ, req.Type, key.String())
			assert.Equal(t, "form-1", req.FormID)
			assert.Equal(t, "root", req.ProjectID)
			assert.Equal(t, "tenant", req.TenantID)
			assert.Equal(t, "stage", req.StageID)
		}
	})

	t.Run("unreachable degrades", func(t *testing.T) {
		gate, _ := newTestGate(newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
			return nil, unreachable()
		}), nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteSubmissionCreate, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionDegraded, outcome.Decision)
	})

	t.Run("explicit rejection blocks", func(t *testing.T) {
		gate, _ := newTestGate(newFakeAuthority(func(UtilizationRequest) (*UtilizationResult, error) {
			return nil, &AuthorityError{Status: http.StatusTooManyRequests, Message: "Submission limit reached"}
		}), nil, selfHosted())

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteSubmissionCreate, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		assert.Equal(t, http.StatusTooManyRequests, outcome.Status)
	})

	t.Run("disabled by configuration", func(t *testing.T) {
		authority := newFakeAuthority(nil)
		cfg := selfHosted()
		cfg.NoFormUtilization = true
		gate, _ := newTestGate(authority, nil, cfg)

		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteFormRead, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionSkipped, outcome.Decision)
		assert.Zero(t, authority.count())
	})
}

func TestGateRemoteMode(t *testing.T) {
	authority := newFakeAuthority(nil)
	cfg := selfHosted()
	cfg.Remote = true
	gate, _ := newTestGate(authority, nil, cfg)
	ctx := NewRequestContext(context.Background())

	for _, key := range []RouteKey{RouteProjectUpdate, RouteProjectDelete, RouteFormRead, RouteSubmissionCreate} {
		outcome := gate.Check(ctx, GateRequest{Route: key, Hierarchy: primaryHierarchy()})
		assert.Equal(t, DecisionSkipped, outcome.Decision, key.String())
	}
	gate.Wait()
	assert.Zero(t, authority.count())

	outcome := gate.Check(ctx, GateRequest{Route: RouteProjectRead, Hierarchy: primaryHierarchy()})
	assert.Equal(t, DecisionAllowed, outcome.Decision)
	assert.Equal(t, 1, authority.count())
}

func TestGateMissingLicenseKey(t *testing.T) {
	bare := primary("root", "acme", models.PlanTeam)
	h := &Hierarchy{Current: bare, Parent: bare, Primary: bare}

	t.Run("hosted blocks", func(t *testing.T) {
		gate, _ := newTestGate(newFakeAuthority(nil), nil, GateConfig{Hosted: true, AdminProject: "formio"})
		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: h})
		assert.Equal(t, DecisionBlocked, outcome.Decision)
		assert.ErrorIs(t, outcome.Err, ErrMissingLicense)
		assert.Equal(t, http.StatusBadRequest, outcome.Status)
	})

	t.Run("self-hosted skips", func(t *testing.T) {
		authority := newFakeAuthority(nil)
		gate, _ := newTestGate(authority, nil, GateConfig{})
		outcome := gate.Check(NewRequestContext(context.Background()), GateRequest{Route: RouteProjectRead, Hierarchy: h})
		assert.Equal(t, DecisionSkipped, outcome.Decision)
		assert.Zero(t, authority.count())
	})
}

func TestBuildLicenseContext(t *testing.T) {
	lc := BuildLicenseContext(GateRequest{Route: RouteFormRead, Hierarchy: stageHierarchy()})
	assert.Equal(t, models.TypeStage, lc.Type)
	assert.Equal(t, "root", lc.ProjectID)
	assert.Equal(t, "tenant", lc.TenantID)
	assert.Equal(t, "stage", lc.StageID)

	root := primary("root", "acme", models.PlanTeam)
	dev := child("dev", "dev", models.TypeStage, "root")
	lc = BuildLicenseContext(GateRequest{Route: RouteFormRead, Hierarchy: &Hierarchy{Current: dev, Parent: root, Primary: root}})
	assert.Equal(t, "dev", lc.StageID)
	assert.Empty(t, lc.TenantID, "a stage directly under the primary has no tenant")

	lc = BuildLicenseContext(GateRequest{Route: RouteProjectUpdate, Hierarchy: primaryHierarchy(), Body: ProjectBody{Plan: models.PlanTeam}})
	assert.False(t, lc.PlanChange)
}
