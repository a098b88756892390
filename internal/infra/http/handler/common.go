// Package handler holds the HTTP handlers of the agencyhub API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agencyhub/api/internal/infra/http/middleware"
	"github.com/agencyhub/api/pkg/apierror"
	"github.com/agencyhub/api/pkg/logger"
	"github.com/agencyhub/api/pkg/pagination"
	"github.com/agencyhub/api/pkg/validator"
)

// PaginationLinks are the navigation links of a list response.
type PaginationLinks struct {
	Self  string `json:"self"`
	First string `json:"first,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
	Last  string `json:"last,omitempty"`
}

// ListResponse is the envelope of every paginated list.
type ListResponse[T any] struct {
	Data       []T              `json:"data"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	TotalPages int              `json:"total_pages"`
	Links      *PaginationLinks `json:"links,omitempty"`
}

func newListResponse[T, U any](r *http.Request, res pagination.Result[T], fn func(T) U) ListResponse[U] {
	page := pagination.Map(res, fn)
	return ListResponse[U]{
		Data:       page.Data,
		Total:      page.Total,
		Page:       page.Page,
		PerPage:    page.PerPage,
		TotalPages: page.TotalPages,
		Links:      newPaginationLinks(r, page.Page, page.PerPage, page.TotalPages),
	}
}

// newPaginationLinks keeps the request's other query parameters.
func newPaginationLinks(r *http.Request, page, perPage, totalPages int) *PaginationLinks {
	if totalPages == 0 {
		return nil
	}
	query := r.URL.Query()
	link := func(p int) string {
		q := make(url.Values, len(query))
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(p))
		q.Set("per_page", strconv.Itoa(perPage))
		return r.URL.Path + "?" + q.Encode()
	}

	links := &PaginationLinks{Self: link(page), First: link(1)}
	if page > 1 {
		links.Prev = link(page - 1)
	}
	if page < totalPages {
		links.Next = link(page + 1)
	}
	if totalPages > 1 {
		links.Last = link(totalPages)
	}
	return links
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decodeJSON reads a single JSON object from the body. Unknown fields are
// rejected so typos in optional fields surface as 400.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierror.RequestTooLarge()
		}
		if errors.Is(err, io.EOF) {
			return apierror.BadRequest("Request body is required")
		}
		return apierror.BadRequest(fmt.Sprintf("Invalid request body: %s", jsonErrorHint(err)))
	}
	if dec.More() {
		return apierror.BadRequest("Request body must contain a single JSON object")
	}
	return nil
}

func jsonErrorHint(err error) string {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntax):
		return fmt.Sprintf("malformed JSON at offset %d", syntax.Offset)
	case errors.As(err, &typ):
		return fmt.Sprintf("field %q must be %s", typ.Field, typ.Type)
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return strings.TrimPrefix(err.Error(), "json: ")
	default:
		return "could not parse JSON"
	}
}

// respond writes err with the request id. Validation errors from the
// validator become 422 with per field details. 5xx errors are logged.
func respond(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	reqID := requestID(r)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make(apierror.ValidationErrors, 0, len(verrs))
		for _, ve := range verrs {
			details.Add(ve.Field, ve.Message)
		}
		details.ToAPIError().WriteJSONWithRequestID(w, reqID)
		return
	}

	apiErr := apierror.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		log.WithContext(r.Context()).Error("request failed", "error", err, "path", r.URL.Path)
	}
	apiErr.WriteJSONWithRequestID(w, reqID)
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

func parseQueryList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseQueryInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseQueryTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, apierror.BadRequest("Time parameters must be RFC 3339")
	}
	return &t, nil
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := rfc3339(*t)
	return &s
}
