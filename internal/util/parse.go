package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var imageSizeMarker = regexp.MustCompile(`\._SS\d+_\.`)

// ParseCount converts a scraped numeric cell ("1,234") to an int.
// Unlike a lenient atoi, it reports an error so callers can skip the row.
func ParseCount(s string) (int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("unparsable numeric value %q: %w", s, err)
	}
	return n, nil
}

// ResizeImageURL rewrites the size marker in a product image URL so the image
// is served at px pixels (e.g. "..._SS40_..." becomes "..._SS100_...").
// URLs without a size marker are returned unchanged.
func ResizeImageURL(rawURL string, px int) string {
	return imageSizeMarker.ReplaceAllString(rawURL, fmt.Sprintf("._SS%d_.", px))
}

// FullSizeImageURL strips the size marker entirely so the CDN serves the
// original full-size image.
func FullSizeImageURL(rawURL string) string {
	return imageSizeMarker.ReplaceAllString(rawURL, ".")
}
