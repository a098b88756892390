package postgres

import "strings"

// Tenancy columns.
const (
	agencyColumn    = "agency_id"
	jobTenantColumn = "tenant_id"
)

// escapeLikePattern escapes LIKE wildcards in user search input.
func escapeLikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// likeContains wraps an escaped pattern for a substring ILIKE match.
func likeContains(s string) string {
	return "%" + escapeLikePattern(s) + "%"
}
