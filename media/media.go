package media

import (
	"fmt"
	"strings"
	"time"
)

// ContentType names the kind of content entity that can reference an asset.
type ContentType string

const (
	ContentArticle    ContentType = "article"
	ContentNewsletter ContentType = "newsletter"
	ContentPodcast    ContentType = "podcast"
)

// ContentTypes lists every content type in a stable order.
var ContentTypes = []ContentType{ContentArticle, ContentNewsletter, ContentPodcast}

func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !ct.Valid() {
		return "", fmt.Errorf("unknown content type %q", s)
	}

	return ct, nil
}

func (ct ContentType) Valid() bool {
	switch ct {
	case ContentArticle, ContentNewsletter, ContentPodcast:
		return true
	}

	return false
}

func (ct ContentType) String() string {
	return string(ct)
}

// Default reference contexts. Callers may use any non-empty context string.
const (
	ContextCoverImage = "cover_image"
	ContextInline     = "inline"
)

// Asset is a single uploaded object tracked by the record store. Assets are
// immutable after creation apart from metadata annotations.
type Asset struct {
	ID               string            `json:"id"`
	ObjectID         string            `json:"publicId"`
	URL              string            `json:"url"`
	Filename         string            `json:"filename"`
	OriginalFilename string            `json:"originalFilename"`
	ByteSize         int64             `json:"byteSize"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	Format           string            `json:"format"`
	Folder           string            `json:"folder"`
	UploadedBy       string            `json:"uploadedBy"`
	UploadedAt       time.Time         `json:"uploadedAt"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields a record store requires before persisting.
func (a *Asset) Validate() error {
	switch {
	case a == nil:
		return fmt.Errorf("asset is nil")
	case a.ID == "":
		return fmt.Errorf("asset id is required")
	case a.ObjectID == "":
		return fmt.Errorf("asset object id is required")
	case a.URL == "":
		return fmt.Errorf("asset url is required")
	case a.ByteSize < 0:
		return fmt.Errorf("asset byte size must not be negative")
	case a.UploadedAt.IsZero():
		return fmt.Errorf("asset upload time is required")
	}

	return nil
}

// Reference links an asset to the content entity embedding it.
type Reference struct {
	AssetID     string      `json:"assetId"`
	ContentType ContentType `json:"contentType"`
	ContentID   string      `json:"contentId"`
	Context     string      `json:"context"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Key identifies a reference row; (asset, content type, content id, context)
// is unique.
func (r Reference) Key() string {
	return strings.Join([]string{r.AssetID, string(r.ContentType), r.ContentID, r.Context}, "\x00")
}

func (r Reference) Validate() error {
	switch {
	case r.AssetID == "":
		return fmt.Errorf("reference asset id is required")
	case !r.ContentType.Valid():
		return fmt.Errorf("reference content type %q is invalid", r.ContentType)
	case r.ContentID == "":
		return fmt.Errorf("reference content id is required")
	case r.Context == "":
		return fmt.Errorf("reference context is required")
	}

	return nil
}

// ContentKey identifies one content entity.
type ContentKey struct {
	Type ContentType
	ID   string
}

func (k ContentKey) String() string {
	return fmt.Sprintf("%s/%s", k.Type, k.ID)
}
