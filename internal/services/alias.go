package services

import (
	"context"
	"errors"
	"net"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"formapi/internal/logger"
	"formapi/internal/models"
)

const projectPrefix = "/project/"

type ProjectNameLookup interface {
	LoadProjectByName(ctx context.Context, name string) (*models.Project, error)
}

type AliasResult struct {
	Path      string
	ProjectID string
	Rewritten bool
}

// AliasResolver maps subdomains and leading path segments onto the
// canonical /project/:id routes. It never fails: any lookup problem leaves
// the request untouched.
type AliasResolver struct {
	lookup   ProjectNameLookup
	noAlias  bool
	reserved map[string]bool
}

func NewAliasResolver(lookup ProjectNameLookup, noAlias bool, reserved []string) *AliasResolver {
	r := &AliasResolver{
		lookup:   lookup,
		noAlias:  noAlias,
		reserved: map[string]bool{"api": true, "project": true, "health": true, "metrics": true},
	}
	for _, name := range reserved {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			r.reserved[name] = true
		}
	}
	return r
}

func (r *AliasResolver) Resolve(ctx context.Context, host, path string) AliasResult {
	if path == "" {
		path = "/"
	}
	pass := AliasResult{Path: path}

	if r.noAlias || strings.HasPrefix(path, projectPrefix) {
		pass.ProjectID = ProjectIDFromPath(path)
		return pass
	}

	if candidate := r.subdomainCandidate(host); candidate != "" {
		project, err := r.lookup.LoadProjectByName(ctx, candidate)
		switch {
		case err == nil:
			return rewrite(project.ID, path)
		case errors.Is(err, ErrProjectNotFound):
			// fall through to the path segment
		default:
			logger.FromContext(ctx).Warn("alias lookup failed",
				zap.String("host", host),
				zap.String("candidate", candidate),
				zap.Error(err),
			)
			return pass
		}
	}

	segment, rest := splitFirstSegment(path)
	if segment == "" || r.reserved[strings.ToLower(segment)] {
		return pass
	}

	project, err := r.lookup.LoadProjectByName(ctx, segment)
	if err != nil {
		return pass
	}
	return rewrite(project.ID, rest)
}

// subdomainCandidate returns the left-most subdomain label of host, or ""
// when host carries no usable project name.
func (r *AliasResolver) subdomainCandidate(host string) string {
	host = normalizeHost(host)
	if host == "" {
		return ""
	}

	var candidate string
	if isLocal(host) {
		labels := strings.Split(host, ".")
		if len(labels) > 1 {
			candidate = labels[0]
		}
	} else {
		if net.ParseIP(host) != nil {
			return ""
		}
		domain, err := publicsuffix.EffectiveTLDPlusOne(host)
		if err != nil || domain == host {
			return ""
		}
		sub := strings.TrimSuffix(host, "."+domain)
		candidate, _, _ = strings.Cut(sub, ".")
	}

	if candidate == "" || isNumeric(candidate) || r.reserved[candidate] {
		return ""
	}
	return candidate
}

// ProjectIDFromPath extracts :id from /project/:id/...
func ProjectIDFromPath(path string) string {
	if !strings.HasPrefix(path, projectPrefix) {
		return ""
	}
	id, _, _ := strings.Cut(strings.TrimPrefix(path, projectPrefix), "/")
	return id
}

func rewrite(id, path string) AliasResult {
	if path == "/" {
		path = ""
	}
	return AliasResult{Path: projectPrefix + id + path, ProjectID: id, Rewritten: true}
}

func splitFirstSegment(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	segment, rest, found := strings.Cut(trimmed, "/")
	if !found {
		return segment, ""
	}
	return segment, "/" + rest
}

func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

func isLocal(host string) bool {
	return host == "localhost" || host == "127.0.0.1" ||
		strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".127.0.0.1")
}

func isNumeric(label string) bool {
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return label != ""
}
