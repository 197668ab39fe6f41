package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/chorus/auth"
)

func TestAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	al := newAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	al.metrics = newMetricsCollector(nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = "198.51.100.7:4321"
	al.logUser(AuditLoginSuccess, r, "alice", slog.String("user_id", "u-1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "audit", rec["component"])
	assert.Equal(t, "login_success", rec["event"])
	assert.Equal(t, "alice", rec["username"])
	assert.Equal(t, "u-1", rec["user_id"])
	assert.Equal(t, "198.51.100.7", rec["client_ip"])
	assert.Equal(t, "198.51.100.7:4321", rec["remote_addr"])
	assert.NotEmpty(t, rec["timestamp"])

	assert.Equal(t, 1.0, testutil.ToFloat64(al.metrics.events.WithLabelValues(string(AuditLoginSuccess))))
}

func TestAuditLoggerForwardsToWebhook(t *testing.T) {
	got := make(chan webhookEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		json.NewDecoder(r.Body).Decode(&evt) //nolint:errcheck
		got <- evt
	}))
	defer srv.Close()

	al := newAuditLogger(discardLogger)
	al.webhook = startTestWebhook(srv.URL, "")

	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	al.logFailure(AuditLoginFailure, r, "AUTH_INVALID_CREDENTIALS")
	closeWebhook(t, al.webhook)

	evt := <-got
	assert.Equal(t, "login_failure", evt.Event)
	assert.Empty(t, evt.Username)
	assert.Equal(t, "192.0.2.1", evt.ClientIP)
	assert.Equal(t, map[string]string{"reason": "AUTH_INVALID_CREDENTIALS"}, evt.Attrs)
}

// rejectingAuth fails every login.
type rejectingAuth struct{}

func (rejectingAuth) Register(context.Context, string, string) (string, error) {
	return "", errors.New("rejected")
}

func (rejectingAuth) Login(context.Context, string, string) (*auth.LoginResult, error) {
	return nil, errors.New("rejected")
}

func (rejectingAuth) Logout(context.Context, ...auth.AuthSource) {}

func (rejectingAuth) CheckAuth(context.Context, ...auth.AuthSource) auth.Identity {
	return auth.Identity{}
}

func TestAuditRecordsClientBehindTrustedProxy(t *testing.T) {
	tests := []struct {
		name    string
		proxies []netip.Prefix
		want    string
	}{
		{"trusted proxy", []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, "203.0.113.9"},
		{"no trusted proxies", nil, "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			a := New(rejectingAuth{}, nil,
				WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
				WithRateLimit(RateLimit{}),
				WithTrustedProxies(tt.proxies),
			)
			t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

			r := httptest.NewRequest(http.MethodPost, "/login",
				strings.NewReader(`{"username":"alice","password":"secret1"}`))
			r.RemoteAddr = "10.0.0.5:1234"
			r.Header.Set("X-Forwarded-For", "203.0.113.9")
			a.Login(httptest.NewRecorder(), r)

			var rec map[string]any
			for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
				var m map[string]any
				require.NoError(t, json.Unmarshal(line, &m))
				if m["event"] == string(AuditLoginFailure) {
					rec = m
				}
			}
			require.NotNil(t, rec, "login failure was audited")
			assert.Equal(t, tt.want, rec["client_ip"])
			assert.Equal(t, "10.0.0.5:1234", rec["remote_addr"])
		})
	}
}
