package upload

import (
	"net/http"

	"github.com/indieinfra/mediavault/server/auth"
	"github.com/indieinfra/mediavault/server/handler/common"
	"github.com/indieinfra/mediavault/server/resp"
	"github.com/indieinfra/mediavault/server/state"
	"github.com/indieinfra/mediavault/server/util"
	uploadsvc "github.com/indieinfra/mediavault/upload"
)

// HandleMediaUpload accepts one or more parts named "file". A single file
// answers 201 with the asset URL as Location; several files answer 200 with
// one result per file in request order.
func HandleMediaUpload(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := util.RequireMultipartContentType(w, r); !ok {
			return
		}

		maxMemory := int64(st.Cfg.Server.Limits.MaxMultipartMem)
		parsed, err := util.ParseMultipart(w, r, maxMemory, maxMemory, "file")
		if err != nil {
			resp.WriteInvalidRequest(w, "Invalid multipart body: "+err.Error())
			return
		}
		if len(parsed.Files) == 0 {
			resp.WriteInvalidRequest(w, "At least one file part named \"file\" is required")
			return
		}

		opts := uploadsvc.Options{Folder: parsed.Values.First("folder")}
		if token := auth.GetToken(r.Context()); token != nil {
			opts.UploadedBy = token.Me
		}

		if len(parsed.Files) > 1 {
			results := st.Orchestrator.UploadMultiple(r.Context(), parsed.Files, opts)
			resp.WriteOK(w, results)
			return
		}

		res := st.Orchestrator.UploadImage(r.Context(), parsed.Files[0], opts)
		if !res.Success {
			common.Logger(r).Infof("upload of %q failed: %s", parsed.Files[0].Filename, res.Error)
			common.WriteCode(w, res.Code, res.Error)
			return
		}

		resp.WriteCreated(w, res.Data.URL, res)
	}
}
