package cleanup

import (
	"net/http"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/server/body"
	"github.com/indieinfra/mediavault/server/handler/common"
	"github.com/indieinfra/mediavault/server/resp"
	"github.com/indieinfra/mediavault/server/state"
)

// HandleFindOrphans lists unreferenced assets uploaded before older_than,
// which defaults to now minus the grace period.
func HandleFindOrphans(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := body.ReadQueryParams(r)
		olderThan, err := params.GetTime("older_than")
		if err != nil {
			resp.WriteInvalidRequest(w, err.Error())
			return
		}

		assets, err := st.Detector.FindOrphanedMedia(r.Context(), olderThan)
		if err != nil {
			common.LogAndWriteError(w, r, "find orphans", err)
			return
		}
		if assets == nil {
			assets = []*media.Asset{}
		}

		resp.WriteOK(w, assets)
	}
}

type objectIDsBody struct {
	ObjectIDs []string `json:"object_ids"`
	DryRun    bool     `json:"dry_run"`
}

func HandleVerifyOrphans(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in objectIDsBody
		if !body.ReadJSON(st.Cfg, w, r, &in) {
			return
		}
		if len(in.ObjectIDs) == 0 {
			resp.WriteInvalidRequest(w, "object_ids must not be empty")
			return
		}

		verifications, err := st.Engine.VerifyOrphanStatus(r.Context(), in.ObjectIDs)
		if err != nil {
			common.LogAndWriteError(w, r, "verify orphans", err)
			return
		}

		resp.WriteOK(w, verifications)
	}
}

func HandleOrphanStats(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := st.Engine.OrphanStatistics(r.Context())
		if err != nil {
			common.LogAndWriteError(w, r, "orphan statistics", err)
			return
		}

		resp.WriteOK(w, stats)
	}
}

func HandlePreview(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		preview, err := st.Engine.PreviewCleanup(r.Context())
		if err != nil {
			common.LogAndWriteError(w, r, "preview cleanup", err)
			return
		}

		resp.WriteOK(w, preview)
	}
}

// HandleCleanup runs a manual cleanup of the given object ids. Per-item
// failures are part of the 200 summary; only operation-level failures map
// to an error status.
func HandleCleanup(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in objectIDsBody
		if !body.ReadJSON(st.Cfg, w, r, &in) {
			return
		}
		if len(in.ObjectIDs) == 0 {
			resp.WriteInvalidRequest(w, "object_ids must not be empty")
			return
		}

		res, err := st.Engine.CleanupOrphans(r.Context(), in.ObjectIDs, in.DryRun, media.OperationManual)
		if err != nil {
			common.LogAndWriteError(w, r, "cleanup", err)
			return
		}

		common.Logger(r).Infof("cleanup %s processed=%d deleted=%d failed=%d skipped=%d dry_run=%v",
			res.OperationID, res.Processed, res.Deleted, res.Failed, res.Skipped, res.DryRun)
		resp.WriteOK(w, res)
	}
}

func HandleHistory(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := body.ReadQueryParams(r)

		ops, err := st.Engine.CleanupHistory(r.Context(), params.GetIntOrDefault("limit", 0))
		if err != nil {
			common.LogAndWriteError(w, r, "cleanup history", err)
			return
		}
		if ops == nil {
			ops = []*media.CleanupOperation{}
		}

		resp.WriteOK(w, ops)
	}
}
