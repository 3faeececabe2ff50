package notify

import (
	"path"
	"strings"

	"collabsync/internal/models"
)

// Resolver maps a resource reference to a navigable path used to enrich
// notification payloads. A missing mapping defaults to the root path.
type Resolver struct {
	templates map[models.ResourceKind]string
}

// NewResolver builds a resolver from kind -> path-template pairs. Templates
// may contain "{id}"; without it the id is appended as a path segment.
func NewResolver(templates map[string]string) *Resolver {
	mapped := make(map[models.ResourceKind]string, len(templates))
	for kind, tpl := range templates {
		mapped[models.ResourceKind(kind)] = tpl
	}
	return &Resolver{templates: mapped}
}

// Path resolves the navigable path for a resource. Never fails: unknown
// kinds and empty templates fall back to "/".
func (r *Resolver) Path(kind models.ResourceKind, id string) string {
	tpl, ok := r.templates[kind]
	if !ok || strings.TrimSpace(tpl) == "" {
		return "/"
	}
	if strings.Contains(tpl, "{id}") {
		return strings.ReplaceAll(tpl, "{id}", id)
	}
	if id == "" {
		return tpl
	}
	return path.Join(tpl, id)
}
