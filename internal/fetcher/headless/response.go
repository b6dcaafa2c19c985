package headless

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/headless-fetch/internal/browser"
	"github.com/JakeFAU/headless-fetch/internal/crawler"
)

// NormalizeResponse adapts a browser response to the crawler view. Req is the
// raw response's request handle itself, so it can be matched against the
// OpenRequestSet. A nil raw response yields nil.
func NormalizeResponse(raw *browser.Response) *crawler.Response {
	if raw == nil {
		return nil
	}
	return &crawler.Response{
		StatusCode:    raw.Status,
		Headers:       raw.Headers,
		ContentLength: ParseContentLength(raw.Headers.Get("Content-Length")),
		ContentType:   raw.Headers.Get("Content-Type"),
		Req:           raw.Request,
		Raw:           raw,
	}
}

// ParseContentLength returns the numeric value of a content-length header, or
// 0 when it is missing or not a non-negative integer.
func ParseContentLength(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
