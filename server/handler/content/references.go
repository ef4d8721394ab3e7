package content

import (
	"net/http"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/references"
	"github.com/indieinfra/mediavault/server/body"
	"github.com/indieinfra/mediavault/server/handler/common"
	"github.com/indieinfra/mediavault/server/resp"
	"github.com/indieinfra/mediavault/server/state"
)

type referenceBody struct {
	AssetID string `json:"asset_id"`
	Context string `json:"context"`
}

type syncBody struct {
	References []referenceBody `json:"references"`
}

// HandleSyncReferences replaces the reference set of one content entity. An
// empty list removes every reference the entity holds.
func HandleSyncReferences(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentType, err := media.ParseContentType(r.PathValue("type"))
		if err != nil {
			resp.WriteInvalidRequest(w, err.Error())
			return
		}

		var in syncBody
		if !body.ReadJSON(st.Cfg, w, r, &in) {
			return
		}

		refs := make([]references.AssetRef, len(in.References))
		for i, ref := range in.References {
			refs[i] = references.AssetRef{AssetID: ref.AssetID, Context: ref.Context}
		}

		if err := st.Tracker.SyncReferences(r.Context(), contentType, r.PathValue("id"), refs); err != nil {
			common.LogAndWriteError(w, r, "sync references", err)
			return
		}

		resp.WriteNoContent(w)
	}
}

func HandleCountReferences(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assetID := r.PathValue("id")
		if _, err := st.Records.GetAsset(r.Context(), assetID); err != nil {
			common.LogAndWriteError(w, r, "count references", err)
			return
		}

		n, err := st.Tracker.CountReferences(r.Context(), assetID)
		if err != nil {
			common.LogAndWriteError(w, r, "count references", err)
			return
		}

		resp.WriteOK(w, map[string]any{"assetId": assetID, "referenceCount": n})
	}
}

type validateBody struct {
	Body string `json:"body"`
}

// HandleValidateImages reports which images embedded in a content body are
// not tracked. It never blocks a save.
func HandleValidateImages(st *state.MediaVaultState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in validateBody
		if !body.ReadJSON(st.Cfg, w, r, &in) {
			return
		}

		res, err := st.Tracker.ValidateImageReferences(r.Context(), in.Body)
		if err != nil {
			common.LogAndWriteError(w, r, "validate images", err)
			return
		}

		resp.WriteOK(w, res)
	}
}
