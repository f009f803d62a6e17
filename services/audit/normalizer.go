package audit

import (
	"reflect"

	"github.com/upb/auditron/models"
)

// DefaultSummary is used when a checker returns no summary
const DefaultSummary = "No summary provided"

// Normalize fills the gaps in a raw checker record so every result carries
// a valid status, a summary and non-nil evidence. It never rejects a record,
// and a complete record comes back unchanged.
func Normalize(raw models.CheckResult) models.CheckResult {
	out := raw
	if !out.Status.Valid() {
		out.Status = models.StatusError
	}
	if out.Summary == "" {
		out.Summary = DefaultSummary
	}
	if isNil(out.Evidence) {
		out.Evidence = map[string]any{}
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
