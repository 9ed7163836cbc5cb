package session

import (
	"net/url"
	"strings"

	"github.com/Sternrassler/search-poller/pkg/search"
)

// keyPrefix namespaces watermark keys in shared stores.
const keyPrefix = "poller:watermark"

// KeyFor returns the deterministic watermark key for criteria.
// Format: poller:watermark:q=<query>[:lang=<lang>][:type=<result type>]
//
// Only the fields that select a result stream take part. Count and the
// SinceID/MaxID cursors do not, so every run of the same search shares a key.
//
// Example:
//
//	poller:watermark:q=golang+generics:lang=en:type=recent
func KeyFor(criteria search.Criteria) string {
	parts := []string{keyPrefix}

	parts = append(parts, "q="+url.QueryEscape(strings.ToLower(strings.TrimSpace(criteria.Query))))

	if lang := strings.TrimSpace(criteria.Lang); lang != "" {
		parts = append(parts, "lang="+url.QueryEscape(strings.ToLower(lang)))
	}

	if resultType := strings.TrimSpace(criteria.ResultType); resultType != "" {
		parts = append(parts, "type="+url.QueryEscape(strings.ToLower(resultType)))
	}

	return strings.Join(parts, ":")
}
