package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanBasic       Plan = "basic"
	PlanIndependent Plan = "independent"
	PlanTeam        Plan = "team"
	PlanCommercial  Plan = "commercial"
	PlanTrial       Plan = "trial"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanIndependent, PlanTeam, PlanCommercial, PlanTrial:
		return true
	}
	return false
}

// AllowsRename reports whether a project on this plan may change its name.
func (p Plan) AllowsRename() bool {
	return p != PlanBasic && p != PlanTrial
}

type ProjectType string

const (
	TypeProject ProjectType = "project"
	TypeTenant  ProjectType = "tenant"
	TypeStage   ProjectType = "stage"
)

func (t ProjectType) Valid() bool {
	return t == TypeProject || t == TypeTenant || t == TypeStage
}

// Project is a tenant record. A record without a parent (Project == nil) is a
// primary project; tenants and stages point at their parent.
type Project struct {
	ID         string      `json:"_id"`
	Name       string      `json:"name"`
	Title      string      `json:"title"`
	Type       ProjectType `json:"type"`
	Plan       Plan        `json:"plan"`
	Trial      *time.Time  `json:"trial,omitempty"`
	Project    *string     `json:"project,omitempty"`
	Remote     bool        `json:"remote,omitempty"`
	Owner      *string     `json:"owner,omitempty"`
	Settings   Settings    `json:"settings"`
	Deleted    *time.Time  `json:"deleted,omitempty"`
	CreatedAt  time.Time   `json:"created"`
	ModifiedAt time.Time   `json:"modified"`

	// Response decoration, never persisted.
	Disabled string    `json:"disabled,omitempty"`
	APICalls *APICalls `json:"apiCalls,omitempty"`

	// Synthetic marks descriptors rebuilt from the license authority.
	Synthetic bool `json:"-"`
}

func (p *Project) Prepare() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Type == "" {
		p.Type = TypeProject
	}
	if p.Plan == "" {
		p.Plan = PlanBasic
	}
	if p.Settings.Extra == nil {
		p.Settings.Extra = map[string]any{}
	}
}

func (p *Project) IsPrimary() bool {
	return p.Project == nil || *p.Project == ""
}

// ParentID returns the back-reference, or "" for a primary project.
func (p *Project) ParentID() string {
	if p.IsPrimary() {
		return ""
	}
	return *p.Project
}

// TrialRemaining returns the whole days left in the trial at now.
func (p *Project) TrialRemaining(now time.Time, trialDays int) int {
	if p.Trial == nil {
		return trialDays
	}
	elapsed := int(now.Sub(*p.Trial).Hours() / 24)
	return trialDays - elapsed
}

// Clone returns a copy that can be decorated without touching cached state.
func (p *Project) Clone() *Project {
	cp := *p
	return &cp
}

// Settings is the tenant configuration blob, stored as JSONB.
type Settings struct {
	LicenseKey string         `json:"licenseKey,omitempty"`
	CORS       string         `json:"cors,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

func (s Settings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Settings) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Settings{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return errors.New("settings: unsupported scan type")
}

// APICalls is the usage block attached to project reads.
type APICalls struct {
	Limit         map[string]int64 `json:"limit,omitempty"`
	Used          map[string]int64 `json:"used,omitempty"`
	LicenseID     string           `json:"licenseId,omitempty"`
	FormManager   bool             `json:"formManager"`
	Accessibility bool             `json:"accessibility"`
	Tenant        bool             `json:"tenant"`
}
