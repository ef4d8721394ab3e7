package common

import (
	"errors"
	"log"
	"net/http"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/server/resp"
	"github.com/indieinfra/mediavault/server/util"
	"github.com/indieinfra/mediavault/storage/records"
)

// Logger returns the request-scoped logger, or a fresh one for requests that
// never passed through the token middleware.
func Logger(r *http.Request) *util.RequestLogger {
	if rl := util.FromContext(r.Context()); rl != nil {
		return rl
	}
	return util.WithRequest(log.Default(), r, "")
}

// WriteCode maps a lifecycle error code to its HTTP status.
func WriteCode(w http.ResponseWriter, code media.ErrorCode, description string) {
	switch code {
	case media.CodeValidationFailed:
		resp.WriteInvalidRequest(w, description)
	case media.CodeQuotaExceeded:
		resp.WriteInsufficientStorage(w, description)
	case media.CodeRateLimited:
		resp.WriteTooManyRequests(w, description)
	case media.CodeNotFound:
		resp.WriteNotFound(w, description)
	case media.CodeCancelled:
		resp.WriteConflict(w, description)
	default:
		resp.WriteInternalServerError(w, description)
	}
}

// LogAndWriteError logs an error with request context and maps known conditions to client responses.
func LogAndWriteError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := media.CodeOf(err)
	if code == media.CodeUnknown && errors.Is(err, records.ErrNotFound) {
		code = media.CodeNotFound
	}

	switch code {
	case media.CodeUnknown, media.CodeNetworkError, media.CodeDeleteFailed:
		Logger(r).Errorf("%s failed: %v", op, err)
		resp.WriteInternalServerError(w, op+" failed")
	default:
		Logger(r).Infof("%s rejected: %v", op, err)
		WriteCode(w, code, err.Error())
	}
}
