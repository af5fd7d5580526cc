package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// TransparentGIF is the 1x1 pixel returned by the open-tracking endpoint
var TransparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingPixelURL builds the open-tracking pixel URL for a sent event
func TrackingPixelURL(baseURL string, eventID uint) string {
	return fmt.Sprintf("%s/track-open?id=%d", baseURL, eventID)
}

// ClickTrackURL builds a redirecting click-tracking URL for a link
func ClickTrackURL(baseURL string, eventID uint, originalURL string) string {
	return fmt.Sprintf("%s/track-click?id=%d&url=%s", baseURL, eventID, url.QueryEscape(originalURL))
}

// UnsubscribeURL builds the one-click unsubscribe link for a sent event
func UnsubscribeURL(baseURL string, eventID uint) string {
	return fmt.Sprintf("%s/unsubscribe?id=%d", baseURL, eventID)
}

// InjectTracking rewrites links for click tracking and appends the open pixel
// and unsubscribe footer to the rendered HTML body.
func InjectTracking(htmlContent, baseURL string, eventID uint) string {
	modified := injectClickTracking(htmlContent, baseURL, eventID)
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, TrackingPixelURL(baseURL, eventID))
	footer := fmt.Sprintf(`<div style="font-size:11px;color:#999"><a href="%s">Unsubscribe</a></div>`, UnsubscribeURL(baseURL, eventID))
	return modified + pixel + footer
}

func injectClickTracking(html, baseURL string, eventID uint) string {
	const startTag = `<a href="`
	const endTag = `"`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		if strings.HasPrefix(originalURL, baseURL) {
			offset = endIdx
			continue
		}
		trackedURL := ClickTrackURL(baseURL, eventID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
