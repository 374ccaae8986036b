package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkjha00007/resigate/pkg/contextkeys"
)

func TestFromContext(t *testing.T) {
	t.Run("returns no-op logger when unset", func(t *testing.T) {
		logger := FromContext(context.Background())
		require.NotNil(t, logger)
		assert.NoError(t, logger.Log(context.Background(), newEvent()))
		assert.NoError(t, logger.Close())
	})

	t.Run("returns the stored logger", func(t *testing.T) {
		mem := NewMemoryLogger()
		ctx := WithLogger(context.Background(), mem)
		assert.Same(t, mem, FromContext(ctx))
	})
}

func TestBuildBaseEvent_RequestID(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-42")
	event := buildBaseEvent(ctx, EventTypeRoleGrant, EventStatusSuccess)

	assert.Equal(t, "req-42", event.RequestID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)
}

func TestLogrusLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger(&buf)
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")

	err := logger.LogAuthorization(ctx, EventTypeAuthzAccessDenied, "u1",
		ResourceTypeFeature, "visitor-management:approve", "society-9", EventStatusDenied, "approve not granted")
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "authz.access_denied", line["event_type"])
	assert.Equal(t, "denied", line["status"])
	assert.Equal(t, "u1", line["actor_id"])
	assert.Equal(t, "society-9", line["tenant_id"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "approve not granted", line["message"])
	assert.Equal(t, "warning", line["level"])
}

func TestLogrusLogger_AdminAction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger(&buf)

	err := logger.LogAdminAction(context.Background(), EventTypeRoleGrant, "admin-1", "u7",
		&ChangeDetails{After: map[string]interface{}{"role": "guard"}}, "role granted")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"target_user_id":"u7"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"role":"guard"`)
}

func TestNewFileLogrusLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")

	logger, err := NewFileLogrusLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(context.Background(), newEvent()))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "second close is a no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"event_type":"role.grant"`)
}

func TestMemoryLogger_EventsOfType(t *testing.T) {
	mem := NewMemoryLogger()
	ctx := context.Background()

	require.NoError(t, mem.LogAdminAction(ctx, EventTypeRoleGrant, "a", "u", nil, ""))
	require.NoError(t, mem.LogAdminAction(ctx, EventTypeRoleDeactivate, "a", "u", nil, ""))
	require.NoError(t, mem.LogAdminAction(ctx, EventTypeRoleGrant, "a", "u", nil, ""))

	assert.Len(t, mem.Events(), 3)
	assert.Len(t, mem.EventsOfType(EventTypeRoleGrant), 2)
	assert.Empty(t, mem.EventsOfType(EventTypeAdminPromotion))
}
