package upload

import (
	"net/http"

	"github.com/indieinfra/mediavault/server/resp"
	"github.com/indieinfra/mediavault/server/state"
)

func HandleActiveUploads(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.WriteOK(w, st.Orchestrator.ActiveUploads())
	}
}

// HandleUploadProgress reports one upload. A finished upload can be read
// once; after that it is gone.
func HandleUploadProgress(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		progress, ok := st.Orchestrator.UploadProgress(r.PathValue("id"))
		if !ok {
			resp.WriteNotFound(w, "unknown upload")
			return
		}

		resp.WriteOK(w, progress)
	}
}

func HandleCancelUpload(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !st.Orchestrator.CancelUpload(r.PathValue("id")) {
			resp.WriteConflict(w, "upload is unknown or can no longer be cancelled")
			return
		}

		resp.WriteNoContent(w)
	}
}
