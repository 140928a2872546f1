package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gitpulse/gitpulse/pkg/contextkeys"
)

func TestFromContext_Default(t *testing.T) {
	logger := FromContext(context.Background())
	assert.NotNil(t, logger)

	// The fallback logger must be safe to call.
	assert.NoError(t, logger.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, logger.LogMembership(context.Background(), EventTypeMemberInvite, nil, 1, "a@b.com", ""))
	assert.NoError(t, logger.LogDelegation(context.Background(), EventTypeShareGrant, nil, 1, 2, ""))
	assert.NoError(t, logger.LogAdminAction(context.Background(), EventTypeSuperUserChange, nil, nil, ""))
	assert.NoError(t, logger.LogAccessDenied(context.Background(), nil, ResourceTypeRepo, "1", ""))
	assert.NoError(t, logger.Close())
}

func TestWithLogger_RoundTrip(t *testing.T) {
	nop := NopLogger()
	ctx := WithLogger(context.Background(), nop)
	assert.Equal(t, nop, FromContext(ctx))
}

func TestBuildBaseEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-123")
	r := httptest.NewRequest("POST", "/api/clients/3/inviteMember", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	event := buildBaseEvent(ctx, r, EventTypeMemberInvite, EventStatusSuccess)

	assert.Equal(t, EventTypeMemberInvite, event.EventType)
	assert.Equal(t, EventStatusSuccess, event.Status)
	assert.Equal(t, "req-123", event.RequestID)
	assert.Equal(t, "203.0.113.9", event.IPAddress)
	assert.Equal(t, "POST", event.Method)
	assert.Equal(t, "/api/clients/3/inviteMember", event.Path)
	assert.NotNil(t, event.Metadata)
	assert.False(t, event.Timestamp.IsZero())
}

func TestGetClientIP(t *testing.T) {
	t.Run("x-real-ip", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Real-IP", "198.51.100.7")
		assert.Equal(t, "198.51.100.7", getClientIP(r))
	})

	t.Run("remote addr fallback", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.1.2.3:9999"
		assert.Equal(t, "10.1.2.3:9999", getClientIP(r))
	})
}
