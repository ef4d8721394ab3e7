package common

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/records"
)

func TestLogAndWriteError_MapsTo500(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	LogAndWriteError(rr, req, "op", errors.New("boom"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestLogAndWriteError_NotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	LogAndWriteError(rr, req, "op", fmt.Errorf("get asset: %w", records.ErrNotFound))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLogAndWriteError_Codes(t *testing.T) {
	cases := map[media.ErrorCode]int{
		media.CodeValidationFailed: http.StatusBadRequest,
		media.CodeQuotaExceeded:    http.StatusInsufficientStorage,
		media.CodeRateLimited:      http.StatusTooManyRequests,
		media.CodeNotFound:         http.StatusNotFound,
		media.CodeCancelled:        http.StatusConflict,
		media.CodeNetworkError:     http.StatusInternalServerError,
		media.CodeDeleteFailed:     http.StatusInternalServerError,
	}

	for code, status := range cases {
		t.Run(string(code), func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", nil)

			LogAndWriteError(rr, req, "op", media.NewError(code, "nope", nil))

			if rr.Code != status {
				t.Fatalf("expected %d, got %d", status, rr.Code)
			}
		})
	}
}
