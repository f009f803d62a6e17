// Package controls holds the immutable catalog of compliance controls and
// the checker contract every control implements.
package controls

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/upb/auditron/models"
)

// ErrNoCredentials is returned by a checker that needs an explicit bundle
// and was invoked without one.
var ErrNoCredentials = errors.New("no credentials configured for this provider")

// idPattern matches <PROVIDER>-<AREA>-<NAME>-V<N>
var idPattern = regexp.MustCompile(`^[A-Z]+-[A-Z0-9]+(-[A-Z0-9]+)+-V[0-9]+$`)

// Checker gathers evidence for one control. A returned error means the
// check could not be completed; non-compliance is reported through the
// result status instead.
type Checker interface {
	Check(ctx context.Context, creds models.Credentials) (models.CheckResult, error)
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context, creds models.Credentials) (models.CheckResult, error)

// Check calls f(ctx, creds)
func (f CheckerFunc) Check(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	return f(ctx, creds)
}

// Control is a registered compliance check
type Control struct {
	ID          string
	Description string
	Checker     Checker
}

// Provider is derived from the identifier's leading token
func (c Control) Provider() models.Provider {
	return models.ControlProvider(c.ID)
}

// Registry is built once at startup and never mutated, so it is safe to
// share across goroutines without locking.
type Registry struct {
	byID       map[string]Control
	byProvider map[models.Provider][]Control
}

// NewRegistry validates and indexes the given controls. Identifiers must be
// well-formed, unique and belong to a supported provider, and every control
// must carry a checker.
func NewRegistry(defs ...Control) (*Registry, error) {
	r := &Registry{
		byID:       make(map[string]Control, len(defs)),
		byProvider: make(map[models.Provider][]Control),
	}

	for _, def := range defs {
		if !idPattern.MatchString(def.ID) {
			return nil, fmt.Errorf("control %q: malformed identifier", def.ID)
		}
		if !def.Provider().Valid() {
			return nil, fmt.Errorf("control %q: unknown provider %q", def.ID, def.Provider())
		}
		if def.Checker == nil {
			return nil, fmt.Errorf("control %q: no checker", def.ID)
		}
		if _, dup := r.byID[def.ID]; dup {
			return nil, fmt.Errorf("control %q: registered twice", def.ID)
		}

		r.byID[def.ID] = def
		r.byProvider[def.Provider()] = append(r.byProvider[def.Provider()], def)
	}

	return r, nil
}

// Lookup returns the control registered under id
func (r *Registry) Lookup(id string) (Control, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Count returns the number of registered controls
func (r *Registry) Count() int {
	return len(r.byID)
}

// ListByProvider returns every supported provider mapped to its controls in
// registration order. Providers with no controls map to an empty list. The
// returned map is a copy.
func (r *Registry) ListByProvider() map[models.Provider][]models.ToolInfo {
	out := make(map[models.Provider][]models.ToolInfo, len(models.Providers))
	for _, p := range models.Providers {
		list := make([]models.ToolInfo, 0, len(r.byProvider[p]))
		for _, c := range r.byProvider[p] {
			list = append(list, models.ToolInfo{ID: c.ID, Description: c.Description})
		}
		out[p] = list
	}
	return out
}

// Tools returns the discovery payload
func (r *Registry) Tools() *models.ToolsResponse {
	return &models.ToolsResponse{
		ToolCount: r.Count(),
		Providers: r.ListByProvider(),
	}
}
