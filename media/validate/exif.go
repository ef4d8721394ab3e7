package validate

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure"
)

var sensitiveTagNames = []string{
	"SerialNumber",
	"BodySerialNumber",
	"LensSerialNumber",
	"CameraOwnerName",
	"OwnerName",
	"HostComputer",
}

// isSensitiveTag reports whether an EXIF tag may identify a person, place or
// device.
func isSensitiveTag(ifdPath, tagName string) bool {
	if strings.Contains(ifdPath, "GPSInfo") || strings.HasPrefix(tagName, "GPS") {
		return true
	}

	return slices.Contains(sensitiveTagNames, tagName)
}

// stripSensitiveExif drops the EXIF segment of a JPEG when it carries any
// sensitive tag. It returns the input unchanged and no tag names when there
// is nothing to remove.
func stripSensitiveExif(data []byte) ([]byte, []string, error) {
	jmp := jpegstructure.NewJpegMediaParser()

	mc, err := jmp.Parse(bytes.NewReader(data), len(data))
	if err != nil {
		return nil, nil, fmt.Errorf("parse jpeg structure: %w", err)
	}

	_, exifData, err := mc.Exif()
	if err != nil || len(exifData) == 0 {
		return data, nil, nil
	}

	entries, _, err := exif.GetFlatExifData(exifData, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("read exif tags: %w", err)
	}

	var stripped []string
	for _, tag := range entries {
		if tag.TagName == "" || !isSensitiveTag(tag.IfdPath, tag.TagName) {
			continue
		}
		if !slices.Contains(stripped, tag.TagName) {
			stripped = append(stripped, tag.TagName)
		}
	}

	if len(stripped) == 0 {
		return data, nil, nil
	}

	sl, ok := mc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected jpeg media context %T", mc)
	}

	kept := make([]*jpegstructure.Segment, 0, len(sl.Segments()))
	for _, s := range sl.Segments() {
		if s.IsExif() {
			continue
		}
		kept = append(kept, s)
	}

	var buf bytes.Buffer
	if err := jpegstructure.NewSegmentList(kept).Write(&buf); err != nil {
		return nil, nil, fmt.Errorf("write stripped jpeg: %w", err)
	}

	return buf.Bytes(), stripped, nil
}
