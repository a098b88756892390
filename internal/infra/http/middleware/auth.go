package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/apierror"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/jwt"
	"github.com/agencyhub/api/pkg/logger"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// Authenticate resolves the bearer token into a tenancy.Principal. Browsers
// cannot set headers on websocket handshakes, so upgrade requests may pass
// the token in the "token" query parameter instead.
func Authenticate(tokens TokenValidator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := GetRequestID(r.Context())

			raw := bearerToken(r)
			if raw == "" {
				apierror.Unauthorized("Missing bearer token").WriteJSONWithRequestID(w, reqID)
				return
			}

			claims, err := tokens.ValidateAccessToken(raw)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, jwt.ErrExpiredToken) {
					msg = "Token expired"
				}
				log.WithContext(r.Context()).Debug("token rejected", "error", err)
				apierror.Unauthorized(msg).WriteJSONWithRequestID(w, reqID)
				return
			}

			p, err := principalFromClaims(claims)
			if err != nil {
				log.WithContext(r.Context()).Warn("token carries malformed ids", "error", err)
				apierror.Unauthorized("Invalid token").WriteJSONWithRequestID(w, reqID)
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if isUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

func principalFromClaims(c *jwt.Claims) (tenancy.Principal, error) {
	userID, err := shared.IDFromString(c.UserID)
	if err != nil {
		return tenancy.Principal{}, err
	}
	p := tenancy.Principal{UserID: userID, Unrestricted: c.Unrestricted}
	if c.AgencyID != "" {
		if p.AgencyID, err = shared.IDFromString(c.AgencyID); err != nil {
			return tenancy.Principal{}, err
		}
	}
	return p, nil
}

// withPrincipal attaches p for the tenancy filter and mirrors its ids into
// the logger context keys.
func withPrincipal(ctx context.Context, p tenancy.Principal) context.Context {
	ctx = tenancy.WithPrincipal(ctx, p)
	ctx = context.WithValue(ctx, logger.ContextKeyUserID, p.UserID.String())
	if !p.AgencyID.IsZero() {
		ctx = context.WithValue(ctx, logger.ContextKeyAgencyID, p.AgencyID.String())
	}
	return ctx
}

// RequireAgency rejects principals without an agency unless they are
// unrestricted.
func RequireAgency() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := tenancy.PrincipalFrom(r.Context())
			if !ok || (p.AgencyID.IsZero() && !p.IsUnrestricted()) {
				apierror.Forbidden("No agency assigned").WriteJSONWithRequestID(w, GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUnrestricted admits platform administrators only.
func RequireUnrestricted() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := tenancy.PrincipalFrom(r.Context())
			if !ok || !p.IsUnrestricted() {
				apierror.Forbidden("Platform administrator access required").WriteJSONWithRequestID(w, GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
