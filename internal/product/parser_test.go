package product

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coupuas/threadauto/internal/logging"
)

func testParser(srv *httptest.Server) *Parser {
	p := NewParser(logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	p.httpc = srv.Client()
	p.allow = func(string) bool { return true }
	return p
}

func TestAllowedURL(t *testing.T) {
	require.True(t, AllowedURL("https://link.coupang.com/a/xyz"))
	require.True(t, AllowedURL("www.coupang.com/vp/products/123"))
	require.False(t, AllowedURL("https://evil.com/coupang.com"))
	require.False(t, AllowedURL("https://notcoupang.com/a/xyz"))
	require.False(t, AllowedURL("ftp://coupang.com/x"))
	require.False(t, AllowedURL(""))
}

func TestExtractLinks(t *testing.T) {
	text := `첫번째 https://link.coupang.com/a/abc 그리고
https://www.coupang.com/vp/products/123?itemId=9 중복 https://link.coupang.com/a/abc`

	links := ExtractLinks(text)
	require.Equal(t, []string{
		"https://link.coupang.com/a/abc",
		"https://www.coupang.com/vp/products/123?itemId=9",
	}, links)
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("[특가] 삼성 무선 청소기 2개입 (화이트)")
	require.Equal(t, "특가 삼성 무선 청소기 화이트", got)

	// Single-char tokens are dropped.
	require.Equal(t, "무선 청소기", ExtractKeywords("a 무선 청소기"))
}

func TestParser_Parse(t *testing.T) {
	// The test server stands in for coupang.com, so the host allowlist is
	// swapped out and the parser is exercised end to end.
	mux := http.NewServeMux()
	mux.HandleFunc("/a/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/vp/products/4567?itemId=1", http.StatusFound)
	})
	mux.HandleFunc("/vp/products/4567", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><head>
<meta property="og:title" content="삼성 무선 청소기">
<meta property="og:image" content="http://`+r.Host+`/img/p.jpg">
<title>fallback title</title>
</head><body></body></html>`)
	})
	mux.HandleFunc("/img/p.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpg"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testParser(srv)
	info, err := p.Parse(context.Background(), srv.URL+"/a/short")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(info.ImagePath) })
	require.Contains(t, info.FinalURL, "/vp/products/4567")
	require.Equal(t, "삼성 무선 청소기", info.Title)
	require.Equal(t, "4567", info.ProductID)
	require.Contains(t, info.ImageURL, "/img/p.jpg")
	require.Contains(t, info.Keywords, "청소기")
}

func TestParser_ParseDownloadsImage(t *testing.T) {
	imgBytes := []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'g'}
	mux := http.NewServeMux()
	mux.HandleFunc("/vp/products/4567", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><head>
<meta property="og:title" content="삼성 무선 청소기">
<meta property="og:image" content="http://`+r.Host+`/img/p.jpg?size=512">
</head><body></body></html>`)
	})
	mux.HandleFunc("/img/p.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(imgBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testParser(srv)
	info, err := p.Parse(context.Background(), srv.URL+"/vp/products/4567")
	require.NoError(t, err)
	require.NotEmpty(t, info.ImagePath)
	t.Cleanup(func() { os.Remove(info.ImagePath) })

	require.Equal(t, ".jpg", filepath.Ext(info.ImagePath))
	got, err := os.ReadFile(info.ImagePath)
	require.NoError(t, err)
	require.Equal(t, imgBytes, got)
}

func TestParser_ImageFetchFailureLeavesPathEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/vp/products/4567", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><head>
<meta property="og:title" content="삼성 무선 청소기">
<meta property="og:image" content="http://`+r.Host+`/img/missing.jpg">
</head><body></body></html>`)
	})
	mux.HandleFunc("/img/missing.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testParser(srv)
	info, err := p.Parse(context.Background(), srv.URL+"/vp/products/4567")
	require.NoError(t, err)
	require.Empty(t, info.ImagePath)
	require.Equal(t, "삼성 무선 청소기", info.Title)
}

func TestParser_ParseRejectsForeignHosts(t *testing.T) {
	p := NewParser(logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := p.Parse(context.Background(), "https://evil.example/a/short")
	require.Error(t, err)
}
