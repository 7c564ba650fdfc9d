// Package product resolves Coupang Partners short links to the underlying
// product page and extracts the metadata a post needs.
package product

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/coupuas/threadauto/internal/logging"
)

// Info is what a landing page yields. Title or ImageURL may be empty when
// the page blocks scraping; ProductID survives as long as the redirect does.
// ImagePath is the og:image downloaded to a local temp file, empty when the
// page has none or the download failed.
type Info struct {
	Title     string
	Keywords  string
	ProductID string
	ImageURL  string
	ImagePath string
	FinalURL  string
}

var allowedDomains = []string{"coupang.com"}

// allowedHost reports whether host is coupang.com or a subdomain of it.
// Anything else is refused before a single request goes out.
func allowedHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, d := range allowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw
}

// AllowedURL validates a link before it is accepted into the queue.
func AllowedURL(raw string) bool {
	u, err := url.Parse(normalizeURL(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return allowedHost(u.Hostname())
}

var productIDRe = regexp.MustCompile(`/products/(\d+)`)

var (
	linkRe    = regexp.MustCompile(`https?://link\.coupang\.com/[^\s<>"']+`)
	productRe = regexp.MustCompile(`https?://(?:www\.)?coupang\.com/vp/products/\d+[^\s<>"']+`)
)

// ExtractLinks pulls every Coupang link out of free-form text, order
// preserved, duplicates removed.
func ExtractLinks(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range append(linkRe.FindAllString(text, -1), productRe.FindAllString(text, -1)...) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

var (
	unitRe    = regexp.MustCompile(`[\[\]()（）]|\d+개입|\d+ml|\d+g|\d+kg|\d+팩`)
	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// ExtractKeywords reduces a product title to at most five search words of
// two or more characters, with bracketed noise and unit counts stripped.
func ExtractKeywords(title string) string {
	s := unitRe.ReplaceAllString(title, " ")
	s = nonWordRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")

	var words []string
	for _, w := range strings.Fields(s) {
		if len([]rune(w)) >= 2 {
			words = append(words, w)
		}
		if len(words) == 5 {
			break
		}
	}
	return strings.Join(words, " ")
}

// Parser fetches and scrapes product pages.
type Parser struct {
	httpc *http.Client
	allow func(string) bool
	log   logging.Logger
}

func NewParser(log logging.Logger) *Parser {
	return &Parser{
		httpc: &http.Client{Timeout: 10 * time.Second},
		allow: AllowedURL,
		log:   log,
	}
}

// followRedirect resolves a short link to its final product URL. HEAD first;
// some frontends only redirect on GET.
func (p *Parser) followRedirect(ctx context.Context, raw string) (string, error) {
	raw = normalizeURL(raw)
	if !p.allow(raw) {
		return "", fmt.Errorf("disallowed url %q", raw)
	}

	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, raw, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", browserUA)

		resp, err := p.httpc.Do(req)
		if err != nil {
			continue
		}
		final := resp.Request.URL.String()
		resp.Body.Close()
		if p.allow(final) {
			return final, nil
		}
	}
	return "", fmt.Errorf("redirect for %q did not land on an allowed host", raw)
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Parse resolves a partner link and scrapes the landing page. A page that
// blocks scraping still yields ProductID off the final URL; nil comes back
// only when even the redirect fails.
func (p *Parser) Parse(ctx context.Context, raw string) (*Info, error) {
	final, err := p.followRedirect(ctx, raw)
	if err != nil {
		return nil, err
	}
	return p.parseLanding(ctx, final)
}

// parseLanding scrapes an already-resolved product URL.
func (p *Parser) parseLanding(ctx context.Context, final string) (*Info, error) {
	info := &Info{FinalURL: final}
	if m := productIDRe.FindStringSubmatch(final); m != nil {
		info.ProductID = m[1]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, final, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := p.httpc.Do(req)
	if err != nil {
		p.log.Warn(ctx, "landing page fetch failed", "url", final, "error", err)
		if info.ProductID != "" {
			return info, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		if info.ProductID != "" {
			return info, nil
		}
		return nil, fmt.Errorf("parsing landing page: %w", err)
	}

	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		info.Title = strings.TrimSpace(t)
	}
	if info.Title == "" {
		info.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if img, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		info.ImageURL = strings.TrimSpace(img)
	}
	if info.ImageURL != "" {
		path, err := p.fetchImage(ctx, info.ImageURL)
		if err != nil {
			p.log.Warn(ctx, "product image download failed", "url", info.ImageURL, "error", err)
		} else {
			info.ImagePath = path
		}
	}
	info.Keywords = ExtractKeywords(info.Title)

	if info.ProductID == "" && info.Title == "" {
		return nil, fmt.Errorf("nothing extractable at %q", final)
	}
	return info, nil
}

// fetchImage downloads a product image to a temp file so the composer can
// attach it; the caller treats failure as "post without media".
func (p *Parser) fetchImage(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image fetch status %d", resp.StatusCode)
	}

	ext := filepath.Ext(strings.SplitN(path.Base(rawURL), "?", 2)[0])
	if ext == "" {
		ext = ".jpg"
	}
	f, err := os.CreateTemp("", "product-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
