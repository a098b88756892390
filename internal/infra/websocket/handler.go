package websocket

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/apierror"
	"github.com/agencyhub/api/pkg/logger"
)

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a new WebSocket handler. An empty allowedOrigins list
// accepts only same-host origins; "*" accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string, log *logger.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log.With("component", "ws_handler"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// ServeWS handles GET /ws. The auth middleware must already have placed a
// principal on the request context.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	p, ok := tenancy.PrincipalFrom(r.Context())
	if !ok || p.UserID.IsZero() || (p.AgencyID.IsZero() && !p.IsUnrestricted()) {
		h.logger.Warn("websocket connection attempt without auth", "remote_addr", r.RemoteAddr)
		apierror.Unauthorized("authentication required").WriteJSON(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", p.UserID.String(), "error", err)
		return
	}

	client := NewClient(h.hub, conn, p, h.logger)
	h.hub.RegisterClient(client)

	h.logger.Info("websocket client connected",
		"client_id", client.ID,
		"user_id", p.UserID.String(),
		"agency_id", p.AgencyID.String(),
	)

	go client.WritePump()
	go client.ReadPump()
}
