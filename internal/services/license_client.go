package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"formapi/internal/metrics"
	"formapi/internal/models"
)

type UtilizationType string

const (
	UtilizationProject           UtilizationType = "project"
	UtilizationTenant            UtilizationType = "tenant"
	UtilizationStage             UtilizationType = "stage"
	UtilizationFormCreate        UtilizationType = "formCreate"
	UtilizationFormUpdate        UtilizationType = "formUpdate"
	UtilizationFormRequest       UtilizationType = "formRequest"
	UtilizationSubmissionRequest UtilizationType = "submissionRequest"
)

// UtilizationTypeFor maps a project type onto the utilization it counts as.
func UtilizationTypeFor(t models.ProjectType) UtilizationType {
	switch t {
	case models.TypeTenant:
		return UtilizationTenant
	case models.TypeStage:
		return UtilizationStage
	}
	return UtilizationProject
}

const ActionDisable = "disable"

const maxResponseBytes = 1 << 20

type UtilizationRequest struct {
	// Action is appended to the utilization path, e.g. "disable".
	Action string `json:"-"`

	Type        UtilizationType    `json:"type"`
	LicenseKey  string             `json:"licenseKey"`
	ProjectID   string             `json:"projectId,omitempty"`
	TenantID    string             `json:"tenantId,omitempty"`
	StageID     string             `json:"stageId,omitempty"`
	FormID      string             `json:"formId,omitempty"`
	Title       string             `json:"title,omitempty"`
	Name        string             `json:"name,omitempty"`
	Remote      bool               `json:"remote,omitempty"`
	ProjectType models.ProjectType `json:"projectType,omitempty"`
	PlanChange  bool               `json:"planChange,omitempty"`
	Plan        models.Plan        `json:"plan,omitempty"`
	ReadOnly    bool               `json:"readOnly,omitempty"`
	Timestamp   int64              `json:"timestamp,omitempty"`
}

type Terms struct {
	Plan          models.Plan      `json:"plan,omitempty"`
	Limits        map[string]int64 `json:"limits,omitempty"`
	FormManager   bool             `json:"formManager,omitempty"`
	Accessibility bool             `json:"accessibility,omitempty"`
	Tenant        bool             `json:"tenant,omitempty"`
}

type UtilizationResult struct {
	LicenseID string           `json:"licenseId,omitempty"`
	Terms     *Terms           `json:"terms,omitempty"`
	Used      map[string]int64 `json:"used,omitempty"`
	Hash      string           `json:"hash,omitempty"`
}

// Plan returns the plan granted by the terms, defaulting to basic.
func (r *UtilizationResult) Plan() models.Plan {
	if r.Terms != nil && r.Terms.Plan.Valid() {
		return r.Terms.Plan
	}
	return models.PlanBasic
}

func (r *UtilizationResult) APICalls() *models.APICalls {
	calls := &models.APICalls{
		Used:      r.Used,
		LicenseID: r.LicenseID,
	}
	if r.Terms != nil {
		calls.Limit = r.Terms.Limits
		calls.FormManager = r.Terms.FormManager
		calls.Accessibility = r.Terms.Accessibility
		calls.Tenant = r.Terms.Tenant
	}
	return calls
}

// LicenseClient talks to the license authority over HTTP. No retries are
// made; every call is bounded by the configured timeout.
type LicenseClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	verify     bool
	now        func() time.Time
}

// NewLicenseClient builds a client. verify requests hashed responses and
// checks them, which is what self-hosted deployments do.
func NewLicenseClient(baseURL string, timeout time.Duration, verify bool) *LicenseClient {
	return &LicenseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
		verify:  verify,
		now:     time.Now,
	}
}

func (c *LicenseClient) Utilization(ctx context.Context, req UtilizationRequest) (*UtilizationResult, error) {
	result, err := c.utilization(ctx, req)
	metrics.LicenseChecks.WithLabelValues(string(req.Type), outcomeOf(err)).Inc()
	return result, err
}

func (c *LicenseClient) utilization(ctx context.Context, req UtilizationRequest) (*UtilizationResult, error) {
	endpoint := c.baseURL + "/utilization"
	if req.Action != "" {
		endpoint += "/" + url.PathEscape(req.Action)
	}

	query := url.Values{}
	query.Set("terms", "1")
	if c.verify {
		query.Set("hash", "1")
		req.Timestamp = c.now().UnixMilli()
	}
	endpoint += "?" + query.Encode()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode utilization request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build utilization request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &AuthorityError{Unreachable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &AuthorityError{Unreachable: true, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthorityError{
			Status:      resp.StatusCode,
			Message:     errorMessage(body, resp.StatusCode),
			Unreachable: resp.StatusCode >= 500,
		}
	}

	if c.verify {
		if err := verifyResponse(body, req.LicenseKey, req.Timestamp); err != nil {
			return nil, err
		}
	}

	var result UtilizationResult
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return &result, nil
}

// ResponseDigest is hex(BLAKE2b-256) keyed by the license key over the
// base64 canonical body followed by the request timestamp.
func ResponseDigest(licenseKey string, canonical []byte, timestamp int64) (string, error) {
	key := []byte(licenseKey)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", err
	}
	h.Write([]byte(base64.StdEncoding.EncodeToString(canonical)))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalBody re-encodes a JSON object without its hash field. Keys come
// out sorted, so both sides agree on the bytes.
func CanonicalBody(body []byte) ([]byte, string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, "", err
	}
	hash, _ := doc["hash"].(string)
	delete(doc, "hash")

	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, "", err
	}
	return canonical, hash, nil
}

func verifyResponse(body []byte, licenseKey string, timestamp int64) error {
	canonical, hash, err := CanonicalBody(body)
	if err != nil || hash == "" {
		return ErrInvalidResponse
	}
	expected, err := ResponseDigest(licenseKey, canonical, timestamp)
	if err != nil {
		return ErrInvalidResponse
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(hash))) != 1 {
		return ErrInvalidResponse
	}
	return nil
}

func errorMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(status)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if authErr, ok := AsAuthorityError(err); ok {
		if authErr.Unreachable {
			return "unreachable"
		}
		return "rejected"
	}
	return "invalid"
}
