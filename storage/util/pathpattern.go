package util

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// PathPattern represents a configurable pattern for generating file paths.
// It supports placeholders that get replaced with actual values:
//   - {year}    - 4-digit year (e.g., "2026")
//   - {month}   - 2-digit month (e.g., "01")
//   - {day}     - 2-digit day (e.g., "15")
//   - {folder}  - the upload folder (may contain slashes)
//   - {slug}    - the object's base name
//   - {ext}     - file extension (with leading dot, e.g., ".json")
//   - {filename} - full filename including extension
//
// Example patterns:
//   - "{folder}/{year}/{month}/{filename}" → "blog/2026/01/cover-1a2b3c4d.jpg"
//   - "media/{slug}{ext}" → "media/cover.png"
//   - "{year}/{month}/{day}/{filename}" → "2026/01/15/cover.jpg"
type PathPattern struct {
	pattern string
}

// NewPathPattern creates a new PathPattern from a template string.
func NewPathPattern(pattern string) *PathPattern {
	return &PathPattern{pattern: pattern}
}

// Generate produces an object key by replacing placeholders with actual values.
// The slug parameter is required. The timestamp is optional (pass time.Time{}
// to skip date-based placeholders). The folder and extension are optional
// (pass empty strings to skip). The result is always a local, slash-separated
// path.
func (p *PathPattern) Generate(folder string, slug string, timestamp time.Time, ext string) (string, error) {
	if slug == "" {
		return "", fmt.Errorf("slug cannot be empty")
	}

	result := p.pattern
	result = strings.ReplaceAll(result, "{folder}", strings.Trim(folder, "/"))

	// Replace date placeholders if timestamp is provided
	if !timestamp.IsZero() {
		result = strings.ReplaceAll(result, "{year}", fmt.Sprintf("%04d", timestamp.Year()))
		result = strings.ReplaceAll(result, "{month}", fmt.Sprintf("%02d", timestamp.Month()))
		result = strings.ReplaceAll(result, "{day}", fmt.Sprintf("%02d", timestamp.Day()))
	}

	// Ensure extension has leading dot if provided
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	// Build filename
	filename := slug
	if ext != "" {
		filename = slug + ext
	}

	// Replace slug and filename placeholders
	result = strings.ReplaceAll(result, "{slug}", slug)
	result = strings.ReplaceAll(result, "{filename}", filename)
	result = strings.ReplaceAll(result, "{ext}", ext)

	// Clean the path (removes double slashes, etc.)
	result = path.Clean(strings.TrimLeft(result, "/"))

	if !filepath.IsLocal(filepath.FromSlash(result)) {
		return "", fmt.Errorf("generated key %q escapes the storage root", result)
	}

	return result, nil
}

// Pattern returns the raw template string.
func (p *PathPattern) Pattern() string {
	return p.pattern
}

// DefaultMediaPattern returns the default pattern for media objects.
// Pattern: "{folder}/{year}/{month}/{filename}" (organized by folder and date)
func DefaultMediaPattern() *PathPattern {
	return NewPathPattern("{folder}/{year}/{month}/{filename}")
}
