package validate

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

const DefaultMaxFileSize int64 = 10 << 20

var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Policy holds the limits a File is checked against.
type Policy struct {
	MaxFileSize            int64
	AllowedTypes           []string
	StripSensitiveMetadata bool
}

// File is an incoming upload as received from the caller.
type File struct {
	Filename     string
	DeclaredMIME string
	Size         int64
	Data         []byte
}

// Metadata is derived from the file contents.
type Metadata struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Format       string `json:"format"`
	DetectedMIME string `json:"detectedMime"`
}

// Result is the outcome of Validate. ProcessedFile is set only when embedded
// metadata was stripped; callers should upload it in place of the original.
type Result struct {
	IsValid       bool      `json:"isValid"`
	Errors        []string  `json:"errors"`
	Warnings      []string  `json:"warnings"`
	Metadata      *Metadata `json:"metadata,omitempty"`
	StrippedTags  []string  `json:"strippedTags,omitempty"`
	ProcessedFile []byte    `json:"-"`
}

type Validator struct {
	policy Policy
}

func New(policy Policy) *Validator {
	if policy.MaxFileSize <= 0 {
		policy.MaxFileSize = DefaultMaxFileSize
	}
	if len(policy.AllowedTypes) == 0 {
		policy.AllowedTypes = DefaultAllowedTypes
	}

	normalized := make([]string, 0, len(policy.AllowedTypes))
	for _, t := range policy.AllowedTypes {
		normalized = append(normalized, normalizeMIME(t))
	}
	policy.AllowedTypes = normalized

	return &Validator{policy: policy}
}

func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate inspects f without side effects.
func (v *Validator) Validate(f File) *Result {
	res := &Result{Errors: []string{}, Warnings: []string{}}

	declared := normalizeMIME(f.DeclaredMIME)
	actual := int64(len(f.Data))

	if actual == 0 {
		res.Errors = append(res.Errors, "file is empty")
	}

	if f.Size > v.policy.MaxFileSize || actual > v.policy.MaxFileSize {
		size := max(f.Size, actual)
		res.Errors = append(res.Errors, fmt.Sprintf("file size %s exceeds maximum of %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(v.policy.MaxFileSize))))
	} else if f.Size > 0 && f.Size != actual {
		res.Errors = append(res.Errors, fmt.Sprintf("declared size %d does not match received %d bytes", f.Size, actual))
	}

	if !v.allowed(declared) {
		res.Errors = append(res.Errors, fmt.Sprintf("file type %q is not allowed (allowed: %s)",
			f.DeclaredMIME, strings.Join(v.policy.AllowedTypes, ", ")))
	}

	if actual > 0 {
		detected := normalizeMIME(mimetype.Detect(f.Data).String())
		switch {
		case !v.allowed(detected):
			res.Errors = append(res.Errors, fmt.Sprintf("file content is not an allowed image type (detected %s)", detected))
		case detected != declared:
			res.Warnings = append(res.Warnings, fmt.Sprintf("declared type %s differs from detected type %s", declared, detected))
		}

		if v.allowed(detected) {
			cfg, format, err := image.DecodeConfig(bytes.NewReader(f.Data))
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("could not read image dimensions: %v", err))
			} else {
				res.Metadata = &Metadata{Width: cfg.Width, Height: cfg.Height, Format: format, DetectedMIME: detected}
			}
		}
	}

	res.IsValid = len(res.Errors) == 0
	if !res.IsValid || !v.policy.StripSensitiveMetadata || res.Metadata == nil {
		return res
	}

	if res.Metadata.Format == "jpeg" {
		processed, stripped, err := stripSensitiveExif(f.Data)
		switch {
		case err != nil:
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not inspect embedded metadata: %v", err))
		case len(stripped) > 0:
			res.ProcessedFile = processed
			res.StrippedTags = stripped
			res.Warnings = append(res.Warnings, fmt.Sprintf("removed sensitive metadata: %s", strings.Join(stripped, ", ")))
		}
	}

	return res
}

func (v *Validator) allowed(mimeType string) bool {
	return mimeType != "" && slices.Contains(v.policy.AllowedTypes, mimeType)
}

func normalizeMIME(s string) string {
	s, _, _ = strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(s))
}
