package logger

import (
	"Patronage/internal/api/config"
	"io"
	log "log/slog"
	"net"
	"os"
	"strings"
	"time"
)

const serviceName = "patronage-im"

var LogWriter io.Writer = os.Stdout

func parseLevel(s string) log.Level {
	var level log.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return log.LevelInfo
	}
	return level
}

// remoteHandler 上报到 Logstash，附带索引与鉴权字段
func remoteHandler(w io.Writer, cfg config.LogstashConfig, level log.Level) log.Handler {
	h := log.NewJSONHandler(w, &log.HandlerOptions{Level: level}).
		WithAttrs([]log.Attr{
			log.String("target_index", cfg.Index),
			log.String("log_token", cfg.Token),
		})
	return NewRemoteFilterHandler(h)
}

func InitLogger() {
	cfg := config.Cfg.Logstash
	level := parseLevel(cfg.Level)

	var handler log.Handler = log.NewJSONHandler(os.Stdout, &log.HandlerOptions{Level: level})
	LogWriter = os.Stdout

	var dialErr error
	if cfg.Address != "" {
		conn, err := net.DialTimeout("tcp", cfg.Address, 3*time.Second)
		if err == nil {
			handler = &TeeHandler{handlers: []log.Handler{handler, remoteHandler(conn, cfg, level)}}
			LogWriter = conn
		}
		dialErr = err
	}

	log.SetDefault(log.New(&ContextHandler{handler}).With("service", serviceName))
	if dialErr != nil {
		log.Warn("Failed to connect to Logstash, logging to stdout only", "addr", cfg.Address, "err", dialErr)
	}
}
