package logger

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/event"
)

const slowMongoCommand = 200 * time.Millisecond

// mongoMonitor 按 request_id 记住命令对应的集合
// 命令体包含私信正文，只记录集合与耗时
type mongoMonitor struct {
	pending sync.Map // int64 -> string
}

func NewMongoMonitor() *event.CommandMonitor {
	m := &mongoMonitor{}
	return &event.CommandMonitor{
		Started:   m.started,
		Succeeded: m.succeeded,
		Failed:    m.failed,
	}
}

func (m *mongoMonitor) started(ctx context.Context, evt *event.CommandStartedEvent) {
	collection, _ := evt.Command.Lookup(evt.CommandName).StringValueOK()
	m.pending.Store(evt.RequestID, collection)

	log.DebugContext(ctx, "MongoDB Started",
		log.String("command", evt.CommandName),
		log.String("database", evt.DatabaseName),
		log.String("collection", collection),
		log.Int64("request_id", evt.RequestID),
	)
}

func (m *mongoMonitor) collection(requestID int64) string {
	v, ok := m.pending.LoadAndDelete(requestID)
	if !ok {
		return ""
	}
	return v.(string)
}

func (m *mongoMonitor) succeeded(ctx context.Context, evt *event.CommandSucceededEvent) {
	fields := []any{
		log.String("command", evt.CommandName),
		log.String("collection", m.collection(evt.RequestID)),
		log.Duration("latency", evt.Duration),
		log.Int64("request_id", evt.RequestID),
	}

	if evt.Duration > slowMongoCommand {
		log.WarnContext(ctx, "MongoDB Slow", fields...)
	} else {
		log.InfoContext(ctx, "MongoDB Success", fields...)
	}
}

func (m *mongoMonitor) failed(ctx context.Context, evt *event.CommandFailedEvent) {
	log.ErrorContext(ctx, "MongoDB Error",
		log.String("command", evt.CommandName),
		log.String("collection", m.collection(evt.RequestID)),
		log.Duration("latency", evt.Duration),
		log.Int64("request_id", evt.RequestID),
		log.Any("err", evt.Failure),
	)
}
