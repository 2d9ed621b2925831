package bracketing

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// exifDateLayout is the EXIF DateTime tag format, "YYYY:MM:DD HH:MM:SS".
const exifDateLayout = "2006:01:02 15:04:05"

// dateTimeTagPriority mirrors _extract_exif_datetime's DJI-aware tag order:
// DJI cameras often omit DateTimeOriginal, so for them the generic DateTime
// tag is tried first.
func dateTimeTagPriority(isDJI bool) []exif.FieldName {
	if isDJI {
		return []exif.FieldName{exif.DateTime, exif.DateTimeOriginal, exif.DateTimeDigitized}
	}
	return []exif.FieldName{exif.DateTimeOriginal, exif.DateTime, exif.DateTimeDigitized}
}

// ExtractCaptureTime reads embedded EXIF metadata from fileBytes and returns
// the capture timestamp in isoformat ("YYYY-MM-DDTHH:MM:SS"), matching what
// Group's dateLayout expects. Returns an empty string if no usable tag is
// present or the file has no parseable EXIF segment at all — this is a
// per-file, non-fatal condition; the caller drops the record.
func ExtractCaptureTime(fileBytes []byte, displayName string) string {
	x, err := exif.Decode(bytes.NewReader(fileBytes))
	if err != nil {
		return ""
	}

	for _, tagName := range dateTimeTagPriority(IsDJIFile(displayName)) {
		tag, err := x.Get(tagName)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		t, err := time.Parse(exifDateLayout, raw)
		if err != nil {
			continue
		}
		return t.Format(dateLayout)
	}
	return ""
}
