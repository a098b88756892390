package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	return out
}

func TestLogger_MasksSensitiveKeys(t *testing.T) {
	tests := []struct {
		key    string
		masked bool
	}{
		{"password", true},
		{"jwt_secret", true},
		{"tenant_email", true},
		{"openai_api_key", true},
		{"Authorization", true},
		{"ARCHIVE_ACCESS_KEY", true},
		{"database_url", true},
		{"renter_iban", true},
		{"agency_id", false},
		{"job_id", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Level: "info", Format: "json", Output: &buf})
			log.Info("msg", tt.key, "value")

			line := decodeLine(t, &buf)
			if tt.masked {
				assert.Equal(t, "[REDACTED]", line[tt.key])
			} else {
				assert.Equal(t, "value", line[tt.key])
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), ContextKeyRequestID, "req-1")
	ctx = context.WithValue(ctx, ContextKeyAgencyID, "agency-9")

	log.WithContext(ctx).Info("hello")

	line := decodeLine(t, &buf)
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "agency-9", line["agency_id"])
	assert.NotContains(t, line, "user_id")
}

func TestLogger_ContextRoundTrip(t *testing.T) {
	log := NewNop()
	ctx := ToContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}
