package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/xhad/veritas/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type FetcherConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	// MaxBytes bounds each response body.
	MaxBytes   int64
	OnProgress func(url string)
	Logger     *zap.Logger
}

// Fetcher downloads web pages as documents, optionally following links on
// the same host.
type Fetcher struct {
	config   FetcherConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
}

func NewFetcherWithConfig(config FetcherConfig) (*Fetcher, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth < 0 {
		config.MaxDepth = 0
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", ".txt", ".md", ".pdf", "/", ""}
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 10 << 20
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	return &Fetcher{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
	}, nil
}

func (f *Fetcher) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != f.baseHost {
		return false
	}

	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range f.config.AllowedExtensions {
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range f.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// Fetch downloads one page.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (models.Document, error) {
	doc, _, err := f.fetch(ctx, urlStr)
	return doc, err
}

// Crawl downloads urlStr and the same-host pages it links to, up to
// MaxDepth links away. Pages that fail are logged and skipped.
func (f *Fetcher) Crawl(ctx context.Context, urlStr string) ([]models.Document, error) {
	var documents []models.Document
	if err := f.crawl(ctx, urlStr, 0, &documents); err != nil {
		return documents, err
	}
	return documents, nil
}

func (f *Fetcher) crawl(ctx context.Context, urlStr string, depth int, documents *[]models.Document) error {
	if depth > f.config.MaxDepth || f.visited[urlStr] {
		return nil
	}
	if !f.shouldProcessURL(urlStr) {
		return nil
	}
	f.visited[urlStr] = true

	doc, links, err := f.fetch(ctx, urlStr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(doc.Content) != "" {
		*documents = append(*documents, doc)
	}

	for _, link := range links {
		if err := f.crawl(ctx, link, depth+1, documents); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.config.Logger.Warn("failed to fetch page", zap.String("url", link), zap.Error(err))
		}
	}
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, urlStr string) (models.Document, []string, error) {
	if f.config.OnProgress != nil {
		f.config.OnProgress(urlStr)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return models.Document{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return models.Document{}, nil, fmt.Errorf("failed to build request for %s: %w", urlStr, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return models.Document{}, nil, fmt.Errorf("failed to fetch %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	body := io.LimitReader(resp.Body, f.config.MaxBytes)
	document := models.Document{
		ID:        uuid.NewString(),
		Filename:  urlStr,
		CreatedAt: time.Now(),
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "application/pdf":
		document.Content, err = FromReader("page.pdf", body)
		return document, nil, err
	case "text/plain", "text/markdown":
		document.Content, err = FromReader("page.txt", body)
		return document, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return models.Document{}, nil, fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		document.Filename = title
	}

	base := resp.Request.URL
	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			f.config.Logger.Debug("skipping link", zap.String("href", href), zap.Error(err))
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	document.Content = extractMainContent(doc)
	return document, links, nil
}
