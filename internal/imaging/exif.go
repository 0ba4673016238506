package imaging

import (
	"bytes"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ExtractEXIF returns the allowed EXIF fields of data as strings. DateTime is
// reduced to YYYY-MM-DD. Images without readable EXIF yield an empty map.
func ExtractEXIF(data []byte, allowed []string) map[string]string {
	out := make(map[string]string)

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return out
	}

	for _, key := range allowed {
		tag, err := x.Get(exif.FieldName(key))
		if err != nil {
			continue
		}
		value := tagValue(tag)
		if value == "" {
			continue
		}
		if key == string(exif.DateTime) {
			value = NormalizeDateTime(value)
		}
		out[key] = value
	}
	return out
}

func tagValue(tag *tiff.Tag) string {
	if tag.Format() == tiff.StringVal {
		s, err := tag.StringVal()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(s, "\x00"))
	}
	return strings.Trim(tag.String(), `"`)
}

// NormalizeDateTime turns an EXIF "YYYY:MM:DD HH:MM:SS" value into "YYYY-MM-DD".
func NormalizeDateTime(v string) string {
	date, _, _ := strings.Cut(strings.TrimSpace(v), " ")
	return strings.ReplaceAll(date, ":", "-")
}
