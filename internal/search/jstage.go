// Package search queries the J-STAGE article search API and downloads articles.
package search

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iago/dataset-hub/internal/domain"
	"golang.org/x/time/rate"
)

const (
	nsRSS = "http://purl.org/rss/1.0/"

	// articles only
	serviceArticles = "3"

	ContentTypePDF  = "application/pdf"
	ContentTypeHTML = "text/html"
)

type Article struct {
	URL      string
	Metadata domain.ArticleMetadata
}

type Result struct {
	Articles []Article
	Total    int
}

type ClientConfig struct {
	BaseURL         string
	RequestInterval time.Duration
	Timeout         time.Duration
	PageSize        int
	UserAgent       string
	HTTPClient      *http.Client
}

// Client spaces every request, search or download, by RequestInterval.
type Client struct {
	baseURL    string
	pageSize   int
	userAgent  string
	limiter    *rate.Limiter
	httpClient *http.Client
}

func NewClient(config ClientConfig) *Client {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.jstage.jst.go.jp/searchapi/do"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.PageSize <= 0 {
		config.PageSize = 20
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	limit := rate.Inf
	if config.RequestInterval > 0 {
		limit = rate.Every(config.RequestInterval)
	}

	return &Client{
		baseURL:    config.BaseURL,
		pageSize:   config.PageSize,
		userAgent:  config.UserAgent,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: config.HTTPClient,
	}
}

// Search returns one page (1-based) of articles matching keyword. Items without
// a DOI or link are dropped; Total is the API's overall hit count.
func (c *Client) Search(ctx context.Context, keyword string, page int) (Result, error) {
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("text", keyword)
	query.Set("count", strconv.Itoa(c.pageSize))
	query.Set("start", strconv.Itoa((page-1)*c.pageSize+1))
	query.Set("service", serviceArticles)

	body, _, err := c.get(ctx, c.baseURL+"?"+query.Encode())
	if err != nil {
		return Result{}, fmt.Errorf("search %q: %w", keyword, err)
	}
	result, err := parseFeed(body)
	if err != nil {
		return Result{}, fmt.Errorf("search %q: %w", keyword, err)
	}
	return result, nil
}

// Download fetches an article and reports whether it is a PDF or HTML.
func (c *Client) Download(ctx context.Context, articleURL string) ([]byte, string, error) {
	body, header, err := c.get(ctx, articleURL)
	if err != nil {
		return nil, "", err
	}
	contentType := strings.ToLower(header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, ContentTypePDF),
		strings.HasSuffix(strings.Trim(header.Get("Content-Disposition"), `"`), ".pdf"):
		return body, ContentTypePDF, nil
	case strings.Contains(contentType, ContentTypeHTML):
		return body, ContentTypeHTML, nil
	case bytes.HasPrefix(bytes.TrimSpace(body), []byte("%PDF")):
		return body, ContentTypePDF, nil
	default:
		return body, ContentTypeHTML, nil
	}
}

func (c *Client) get(ctx context.Context, target string) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%w: %s returned status %d", domain.ErrTransport, target, response.StatusCode)
	}
	return body, response.Header, nil
}

type feedItem struct {
	DCTitle  string `xml:"http://purl.org/dc/elements/1.1/ title"`
	RSSTitle string `xml:"http://purl.org/rss/1.0/ title"`
	Link     string `xml:"http://purl.org/rss/1.0/ link"`
	DOI      string `xml:"http://prismstandard.org/namespaces/basic/2.0/ doi"`
	Journal  string `xml:"http://prismstandard.org/namespaces/basic/2.0/ publicationName"`
	Date     string `xml:"http://prismstandard.org/namespaces/basic/2.0/ publicationDate"`
}

// parseFeed walks the RDF/RSS document token by token, so items and the
// totalResults counter are found wherever the API nests them.
func parseFeed(body []byte) (Result, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	result := Result{Articles: make([]Article, 0)}

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("parse feed: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch {
		case start.Name.Space == nsRSS && start.Name.Local == "item":
			var item feedItem
			if err := decoder.DecodeElement(&item, &start); err != nil {
				return Result{}, fmt.Errorf("parse item: %w", err)
			}
			if article, ok := item.article(); ok {
				result.Articles = append(result.Articles, article)
			}
		case start.Name.Local == "totalResults":
			var total string
			if err := decoder.DecodeElement(&total, &start); err == nil {
				result.Total, _ = strconv.Atoi(strings.TrimSpace(total))
			}
		}
	}
	return result, nil
}

func (item feedItem) article() (Article, bool) {
	doi := strings.TrimSpace(item.DOI)
	link := strings.TrimSpace(item.Link)
	if doi == "" || link == "" {
		return Article{}, false
	}
	title := strings.TrimSpace(item.DCTitle)
	if title == "" {
		title = strings.TrimSpace(item.RSSTitle)
	}
	if title == "" {
		title = "N/A"
	}
	return Article{
		URL: PDFURL(link),
		Metadata: domain.ArticleMetadata{
			Title:         title,
			DOI:           doi,
			Journal:       strings.TrimSpace(item.Journal),
			PublishedDate: strings.TrimSpace(item.Date),
			FallbackURL:   link,
		},
	}, true
}

// PDFURL rewrites an article landing page link into its direct PDF link.
func PDFURL(link string) string {
	return strings.ReplaceAll(strings.ReplaceAll(link, "/_article/", "/_pdf/"), "-char/ja", "")
}
