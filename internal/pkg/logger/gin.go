package logger

import (
	"Patronage/internal/api/config"
	"Patronage/internal/pkg/consts"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

type accessRecord struct {
	Time        string `json:"time"`
	Level       string `json:"level"`
	Msg         string `json:"msg"`
	TraceID     string `json:"trace_id"`
	UserID      uint64 `json:"user_id,omitempty"`
	LogToken    string `json:"log_token"`
	TargetIndex string `json:"target_index"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Status      int    `json:"status"`
	Latency     string `json:"latency"`
}

func formatAccess(p gin.LogFormatterParams) string {
	rec := accessRecord{
		Time:        p.TimeStamp.Format(time.RFC3339),
		Level:       "INFO",
		Msg:         "GIN_ACCESS",
		LogToken:    config.Cfg.Logstash.Token,
		TargetIndex: config.Cfg.Logstash.Index,
		Method:      p.Method,
		Path:        p.Path,
		Status:      p.StatusCode,
		Latency:     p.Latency.String(),
	}
	if p.Keys != nil {
		rec.TraceID, _ = p.Keys[TraceIDKey].(string)
		rec.UserID, _ = p.Keys[consts.UserIDKey].(uint64)
	}
	if rec.TraceID == "" && p.Request != nil {
		rec.TraceID, _ = p.Request.Context().Value(TraceIDKey).(string)
	}
	if p.StatusCode >= 500 {
		rec.Level = "ERROR"
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(data) + "\n"
}

func SetupGin(r *gin.Engine) {
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    LogWriter,
		Formatter: formatAccess,
		SkipPaths: []string{"/api/ping"},
	}))

	r.Use(gin.Recovery())
}
