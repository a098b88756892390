package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

func TestAuthorize(t *testing.T) {
	own := shared.NewID()
	other := shared.NewID()

	tests := []struct {
		name    string
		p       tenancy.Principal
		channel string
		want    bool
	}{
		{"own agency", tenancy.Principal{UserID: shared.NewID(), AgencyID: own}, AnalysisChannel(own), true},
		{"other agency", tenancy.Principal{UserID: shared.NewID(), AgencyID: own}, AnalysisChannel(other), false},
		{"unrestricted", tenancy.Principal{UserID: shared.NewID(), Unrestricted: true}, AnalysisChannel(other), true},
		{"no agency", tenancy.Principal{UserID: shared.NewID()}, AnalysisChannel(own), false},
		{"unknown channel type", tenancy.Principal{UserID: shared.NewID(), AgencyID: own}, "finding:" + own.String(), false},
		{"malformed id", tenancy.Principal{UserID: shared.NewID(), Unrestricted: true}, "analysis:not-a-uuid", false},
		{"no separator", tenancy.Principal{UserID: shared.NewID(), Unrestricted: true}, "analysis", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.p, tt.channel))
		})
	}
}

func TestParseChannel(t *testing.T) {
	kind, id := ParseChannel("analysis:abc")
	assert.Equal(t, ChannelTypeAnalysis, kind)
	assert.Equal(t, "abc", id)

	kind, id = ParseChannel("abc")
	assert.Equal(t, ChannelType(""), kind)
	assert.Equal(t, "abc", id)
}

func TestChannelRequest_FallsBackToEnvelope(t *testing.T) {
	msg := &Message{Type: MessageTypeSubscribe, Channel: "analysis:x", RequestID: "r1"}
	req := channelRequest(msg)
	assert.Equal(t, "analysis:x", req.Channel)
	assert.Equal(t, "r1", req.RequestID)

	msg = NewMessage(MessageTypeSubscribe).WithData(ChannelRequest{Channel: "analysis:y", RequestID: "r2"})
	req = channelRequest(msg)
	assert.Equal(t, "analysis:y", req.Channel)
	assert.Equal(t, "r2", req.RequestID)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	r := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws", nil)
	assert.True(t, check(r), "no origin header")

	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.net")
	assert.False(t, check(r))

	r.Header.Set("Origin", "http://api.example.com")
	assert.True(t, check(r), "same host")

	assert.True(t, originChecker([]string{"*"})(r))
}

// withPrincipal stands in for the auth middleware.
func withPrincipal(p tenancy.Principal, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(tenancy.WithPrincipal(r.Context(), p)))
	})
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandler_SubscribeAndReceiveStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.NewNop()
	hub := NewHub(log)
	go hub.Run(ctx)

	agencyID := shared.NewID()
	p := tenancy.Principal{UserID: shared.NewID(), AgencyID: agencyID}
	srv := httptest.NewServer(withPrincipal(p, http.HandlerFunc(NewHandler(hub, nil, log).ServeWS)))
	defer srv.Close()

	conn := dial(t, srv)

	channel := AnalysisChannel(agencyID)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Channel: channel, RequestID: "sub-1"}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, channel, ack.Channel)
	assert.Equal(t, "sub-1", ack.RequestID)

	ev := analysis.StatusEvent{
		JobID:    shared.NewID(),
		AgencyID: agencyID,
		Kind:     analysis.KindMarketTrends,
		Status:   analysis.StatusFailed,
		Final:    true,
	}
	// A foreign agency's event must not reach this client.
	require.NoError(t, hub.PublishAnalysisStatus(ctx, analysis.StatusEvent{
		JobID:    shared.NewID(),
		AgencyID: shared.NewID(),
		Status:   analysis.StatusCompleted,
	}))
	require.NoError(t, hub.PublishAnalysisStatus(ctx, ev))

	got := readMessage(t, conn)
	assert.Equal(t, MessageTypeEvent, got.Type)
	assert.Equal(t, channel, got.Channel)

	var payload analysis.StatusEvent
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.True(t, payload.JobID.Equals(ev.JobID))
	assert.True(t, payload.Final)
	assert.Equal(t, analysis.StatusFailed, payload.Status)
}

func TestHandler_SubscribeForeignChannelDenied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.NewNop()
	hub := NewHub(log)
	go hub.Run(ctx)

	p := tenancy.Principal{UserID: shared.NewID(), AgencyID: shared.NewID()}
	srv := httptest.NewServer(withPrincipal(p, http.HandlerFunc(NewHandler(hub, nil, log).ServeWS)))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Channel: AnalysisChannel(shared.NewID())}))

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeError, msg.Type)
	var data ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "FORBIDDEN", data.Code)
}

func TestHandler_RejectsAnonymous(t *testing.T) {
	log := logger.NewNop()
	h := NewHandler(NewHub(log), nil, log)

	rec := httptest.NewRecorder()
	h.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHub_BroadcastAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.NewNop())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// Fill the buffer so the send cannot succeed before done is observed.
	for range broadcastBufferSize {
		hub.broadcast <- &BroadcastMessage{}
	}
	err := hub.Broadcast(context.Background(), &BroadcastMessage{Channel: "analysis:x"})
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestClientTimings(t *testing.T) {
	assert.Less(t, pingPeriod, pongWait, "pings must arrive before the pong deadline")
	assert.Greater(t, maxSubscriptionsPerClient, 0)
}
