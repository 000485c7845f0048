package logger

import (
	"Patronage/internal/api/config"
	"Patronage/internal/pkg/consts"
	"bytes"
	"context"
	log "log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandlerAddsTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&ContextHandler{log.NewJSONHandler(&buf, nil)}).With("component", "im")

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-1")
	ctx = context.WithValue(ctx, consts.UserIDKey, uint64(7))
	l.InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "trace-1", rec["trace_id"])
	assert.EqualValues(t, 7, rec["user_id"])
	assert.Equal(t, "im", rec["component"])
}

func TestTeeHandlerFiltersRemoteWithoutTrace(t *testing.T) {
	var local, remote bytes.Buffer
	tee := &TeeHandler{handlers: []log.Handler{
		log.NewJSONHandler(&local, nil),
		NewRemoteFilterHandler(log.NewJSONHandler(&remote, nil)),
	}}
	l := log.New(&ContextHandler{tee})

	l.Info("background")
	assert.NotEmpty(t, local.String())
	assert.Empty(t, remote.String())

	l.Warn("delivery failed")
	assert.Contains(t, remote.String(), "delivery failed")

	l.InfoContext(context.WithValue(context.Background(), TraceIDKey, "trace-2"), "request")
	assert.Contains(t, remote.String(), "trace-2")
}

func TestTeeHandlerRespectsEachLevel(t *testing.T) {
	var debug, warn bytes.Buffer
	tee := &TeeHandler{handlers: []log.Handler{
		log.NewJSONHandler(&debug, &log.HandlerOptions{Level: log.LevelDebug}),
		log.NewJSONHandler(&warn, &log.HandlerOptions{Level: log.LevelWarn}),
	}}
	assert.True(t, tee.Enabled(context.Background(), log.LevelDebug))

	log.New(tee).Debug("detail")
	assert.NotEmpty(t, debug.String())
	assert.Empty(t, warn.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.LevelDebug, parseLevel("debug"))
	assert.Equal(t, log.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, log.LevelInfo, parseLevel(""))
	assert.Equal(t, log.LevelInfo, parseLevel("verbose"))
}

func TestRemoteHandlerTagsIndex(t *testing.T) {
	var buf bytes.Buffer
	h := remoteHandler(&buf, config.LogstashConfig{Index: "im", Token: "tok"}, log.LevelInfo)
	l := log.New(&ContextHandler{h})

	l.InfoContext(context.WithValue(context.Background(), TraceIDKey, "t"), "sent")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "im", rec["target_index"])
	assert.Equal(t, "tok", rec["log_token"])
}
