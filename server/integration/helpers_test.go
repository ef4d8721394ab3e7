package integration

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/server/auth"
	"github.com/indieinfra/mediavault/server/handler/cleanup"
	"github.com/indieinfra/mediavault/server/handler/content"
	"github.com/indieinfra/mediavault/server/handler/upload"
	"github.com/indieinfra/mediavault/server/state"
	uploadsvc "github.com/indieinfra/mediavault/upload"
)

func withToken(cfg *config.Config, next http.Handler) http.Handler {
	details := &auth.TokenDetails{Me: cfg.Auth.MeUrl, Scope: "read update delete media", ClientId: "test-client"}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.AddToken(r.Context(), details)))
	})
}

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.Server{Limits: config.ServerLimits{MaxPayloadSize: 1 << 20, MaxMultipartMem: 4 << 20}},
		Auth: config.Auth{
			MeUrl:         "https://example.test/me",
			TokenEndpoint: "https://example.test/token",
		},
		Upload:  config.Upload{Folder: "uploads", MaxRetries: 1},
		Cleanup: config.Cleanup{GracePeriod: time.Nanosecond, Concurrency: 2},
		Records: config.Records{Driver: "memory"},
		Media:   config.Media{Strategy: "memory"},
		Scan:    config.Scan{Strategy: "none"},
		Lock:    config.Lock{Strategy: "local"},
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(2, 3, color.RGBA{B: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// uploadPNG posts one PNG through the upload handler and returns the
// stored asset.
func uploadPNG(t *testing.T, st *state.MediaVaultState, filename string) *media.Asset {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", "image/png")

	part, err := writer.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(pngBytes(t))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/media", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	withToken(st.Cfg, upload.HandleMediaUpload(st)).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var res uploadsvc.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode upload result: %v", err)
	}
	if rec.Header().Get("Location") != res.Data.URL {
		t.Fatalf("expected Location %q, got %q", res.Data.URL, rec.Header().Get("Location"))
	}
	return res.Data
}

func syncReferences(t *testing.T, st *state.MediaVaultState, contentType, id string, assetIDs ...string) {
	t.Helper()

	refs := make([]string, len(assetIDs))
	for i, a := range assetIDs {
		refs[i] = `{"asset_id":"` + a + `"}`
	}

	req := httptest.NewRequest(http.MethodPut, "/content/"+contentType+"/"+id+"/references",
		strings.NewReader(`{"references":[`+strings.Join(refs, ",")+`]}`))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("type", contentType)
	req.SetPathValue("id", id)

	rec := httptest.NewRecorder()
	withToken(st.Cfg, content.HandleSyncReferences(st)).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("sync references: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func runCleanup(t *testing.T, st *state.MediaVaultState, objectIDs ...string) *media.CleanupResult {
	t.Helper()

	payload, _ := json.Marshal(map[string]any{"object_ids": objectIDs})
	req := httptest.NewRequest(http.MethodPost, "/cleanup", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	withToken(st.Cfg, cleanup.HandleCleanup(st)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res media.CleanupResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode cleanup result: %v", err)
	}
	return &res
}

// exerciseLifecycle runs the shared referenced-then-released flow against
// whatever stores st was built with.
func exerciseLifecycle(t *testing.T, st *state.MediaVaultState) {
	t.Helper()

	kept := uploadPNG(t, st, "kept.png")
	dropped := uploadPNG(t, st, "dropped.png")

	syncReferences(t, st, "article", "post-1", kept.ID, dropped.ID)
	syncReferences(t, st, "newsletter", "issue-1", kept.ID)
	syncReferences(t, st, "article", "post-1", kept.ID)

	res := runCleanup(t, st, kept.ObjectID, dropped.ObjectID)
	if res.Processed != 2 || res.Deleted != 1 || res.Failed != 1 {
		t.Fatalf("unexpected cleanup result %+v", res)
	}
	if res.FreedSpace != dropped.ByteSize {
		t.Fatalf("expected %d bytes freed, got %d", dropped.ByteSize, res.FreedSpace)
	}
	if len(res.Errors) != 1 || res.Errors[0].ObjectID != kept.ObjectID || res.Errors[0].Code != media.CodeNotOrphaned {
		t.Fatalf("expected kept asset to be refused, got %+v", res.Errors)
	}

	again := runCleanup(t, st, dropped.ObjectID)
	if again.Skipped != 1 || again.Deleted != 0 {
		t.Fatalf("expected re-run to skip the deleted asset, got %+v", again)
	}

	history, err := st.Engine.CleanupHistory(t.Context(), 10)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected two audit rows, got %d (%v)", len(history), err)
	}
	var deleting *media.CleanupOperation
	for _, op := range history {
		if op.Status != media.OperationCompleted {
			t.Fatalf("expected completed audit rows, got %+v", op)
		}
		if op.FilesDeleted == 1 {
			deleting = op
		}
	}
	if deleting == nil || deleting.SpaceFreed != dropped.ByteSize || deleting.FilesFailed != 1 {
		t.Fatalf("expected an audit row for the deleting run, got %+v", history)
	}
}
