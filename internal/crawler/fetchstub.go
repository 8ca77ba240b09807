package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"

	"ragingest/internal/observability"
)

// SinglePageFetcher is the minimal Crawler stub this module ships: it fetches
// exactly startURL and returns it as the sole Page, ignoring maxPages. BFS
// link-walking across a site is an explicit non-goal (spec §1); a real
// multi-page crawler is an external collaborator's responsibility, the way
// cmd/ingest's other dependencies (LLM provider, embedding endpoint, DB DSN)
// are wired from outside this module.
type SinglePageFetcher struct {
	client *http.Client
	log    observability.Logger
}

// New constructs the stub Crawler with a hardened default HTTP client,
// grounded on the teacher's internal/tools/web.Fetcher.
func New(log observability.Logger) *SinglePageFetcher {
	return &SinglePageFetcher{
		client: &http.Client{Timeout: 20 * time.Second},
		log:    log,
	}
}

func (f *SinglePageFetcher) Crawl(ctx context.Context, startURL string, maxPages int) (Result, error) {
	page, err := f.fetchOne(ctx, startURL)
	if err != nil {
		f.log.Error("fetch failed", map[string]any{"url": startURL, "err": err.Error()})
		return Result{}, err
	}
	return Result{Pages: []Page{page}, OutputDir: ".", PagesCrawled: 1}, nil
}

func (f *SinglePageFetcher) fetchOne(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Page{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", "ragingest/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1000*1000))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}

	html := string(body)
	articleHTML := html
	title := ""
	if art, rerr := readability.FromReader(strings.NewReader(html), u); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(u.Scheme+"://"+u.Host))
	if err != nil {
		return Page{}, fmt.Errorf("html to markdown: %w", err)
	}
	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(md, "# ") {
		md = "# " + title + "\n\n" + md
	}

	return Page{URL: resp.Request.URL.String(), Markdown: md}, nil
}
