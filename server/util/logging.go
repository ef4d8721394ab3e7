package util

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries a caller supplied request id. One is generated when
// it is absent.
const RequestIDHeader = "X-Request-Id"

type loggerKeyType struct{}

var loggerKey = loggerKeyType{}

type Logger interface {
	Printf(format string, v ...any)
}

// RequestLogger prefixes every line with the request id, method, path and
// the verified user.
type RequestLogger struct {
	logger Logger
	id     string
	method string
	path   string
	user   string
}

func WithRequest(l Logger, r *http.Request, user string) *RequestLogger {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}

	return &RequestLogger{
		logger: l,
		id:     id,
		method: r.Method,
		path:   r.URL.Path,
		user:   user,
	}
}

// RequestID is echoed back to the caller so audit rows and log lines can be
// matched to a response.
func (rl *RequestLogger) RequestID() string { return rl.id }

// ContextWithLogger stores the request logger in context for downstream handlers.
func ContextWithLogger(ctx context.Context, rl *RequestLogger) context.Context {
	return context.WithValue(ctx, loggerKey, rl)
}

func (rl *RequestLogger) logf(level string, message string) {
	prefix := fmt.Sprintf("%s request_id=%s method=%s path=%s", level, rl.id, rl.method, rl.path)
	if rl.user != "" {
		prefix = fmt.Sprintf("%s user=%s", prefix, rl.user)
	}
	rl.logger.Printf("%s: %s", prefix, message)
}

func (rl *RequestLogger) Infof(format string, v ...any)  { rl.logf("INFO", fmt.Sprintf(format, v...)) }
func (rl *RequestLogger) Errorf(format string, v ...any) { rl.logf("ERROR", fmt.Sprintf(format, v...)) }

// Printf logs at INFO so a RequestLogger can stand in wherever a plain
// Printf logger is accepted.
func (rl *RequestLogger) Printf(format string, v ...any) { rl.Infof(format, v...) }

// FromContext retrieves a request logger from context when available.
func FromContext(ctx context.Context) *RequestLogger {
	if ctx == nil {
		return nil
	}

	if rl, ok := ctx.Value(loggerKey).(*RequestLogger); ok {
		return rl
	}

	return nil
}
