package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/metrics"
)

const ProcessTimeHeader = "X-Process-Time"

// timedWriter stamps X-Process-Time right before the response header goes out.
type timedWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timedWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	w.Header().Set(ProcessTimeHeader, strconv.FormatFloat(time.Since(w.start).Seconds(), 'f', 6, 64))
}

func (w *timedWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timedWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *timedWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

// Observe logs each request, records HTTP metrics and sets X-Process-Time.
func Observe(log *logger.Logger) gin.HandlerFunc {
	httpLog := log.With("Middleware", "Observe")
	return func(c *gin.Context) {
		start := time.Now()
		tw := &timedWriter{ResponseWriter: c.Writer, start: start}
		c.Writer = tw

		c.Next()

		tw.stamp()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())

		kv := []interface{}{"method", c.Request.Method, "path", path, "status", status, "duration", elapsed.String()}
		switch {
		case status >= 500:
			httpLog.Error("Request failed", kv...)
		case status >= 400:
			httpLog.Warn("Request rejected", kv...)
		default:
			httpLog.Info("Request served", kv...)
		}
	}
}
