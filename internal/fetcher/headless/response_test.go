package headless

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headless-fetch/internal/browser"
)

func TestParseContentLength(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"1024":   1024,
		" 512 ":  512,
		"":       0,
		"abc":    0,
		"-1":     0,
		"10.5":   0,
		"0":      0,
		"999999": 999999,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseContentLength(in), "input %q", in)
	}
}

func TestNormalizeResponse(t *testing.T) {
	t.Parallel()

	req := &browser.Request{
		ID:      "1000.1",
		Method:  http.MethodGet,
		URL:     "https://example.com/",
		Headers: http.Header{"Accept": {"text/html"}},
	}
	raw := &browser.Response{
		Status:  200,
		URL:     "https://example.com/",
		Headers: http.Header{"Content-Length": {"512"}, "Content-Type": {"text/html; charset=utf-8"}},
		Request: req,
	}

	got := NormalizeResponse(raw)
	require.Equal(t, 200, got.StatusCode)
	require.Equal(t, int64(512), got.ContentLength)
	require.Equal(t, "text/html; charset=utf-8", got.ContentType)
	require.Same(t, req, got.Req)
	require.Same(t, raw, got.Raw)
	require.Equal(t, []string{"text/html"}, got.Req.Headers.Values("Accept"))

	again := NormalizeResponse(raw)
	require.Equal(t, got, again)
	require.Same(t, got.Req, again.Req)
}

func TestNormalizeResponseMissingHeaders(t *testing.T) {
	t.Parallel()

	got := NormalizeResponse(&browser.Response{Status: 204})
	require.Zero(t, got.ContentLength)
	require.Empty(t, got.ContentType)
	require.Nil(t, NormalizeResponse(nil))
}
