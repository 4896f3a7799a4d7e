// Package wiki resolves topics to Wikipedia articles and fetches article
// text for quiz generation.
package wiki

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
)

// ErrPageNotFound is returned when a page id does not resolve to an article.
var ErrPageNotFound = errors.New("could not locate Wikipedia page for selected page_id")

const (
	defaultTimeout     = 8 * time.Second
	defaultSearchLimit = 5
	noSummary          = "No summary available."
)

// Config configures a Client.
type Config struct {
	Lang      string
	UserAgent string

	// BaseURL overrides https://<lang>.wikipedia.org.
	BaseURL string

	// MaxChars truncates article extracts. Zero disables truncation.
	MaxChars int

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Candidate is one search hit offered to the learner.
type Candidate struct {
	Title            string  `json:"title"`
	PageID           int     `json:"page_id"`
	URL              string  `json:"url"`
	Summary          string  `json:"summary"`
	ImageURL         *string `json:"image_url"`
	ImageCaption     *string `json:"image_caption"`
	IsDisambiguation bool    `json:"-"`
}

// Article is the text a quiz is generated from.
type Article struct {
	Title        string
	PageID       int
	URL          string
	Summary      string
	ImageURL     *string
	ImageCaption *string
	Extract      string
}

// Client talks to the MediaWiki action API and the REST summary endpoint.
type Client struct {
	cfg     Config
	apiBase string
	http    *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		lang := cfg.Lang
		if lang == "" {
			lang = "en"
		}
		base = fmt.Sprintf("https://%s.wikipedia.org", lang)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, apiBase: base, http: hc}
}

// ResolveTopic searches for topic and returns up to five candidates
// enriched with their REST summaries, in search order.
func (c *Client) ResolveTopic(ctx context.Context, topic string) ([]Candidate, error) {
	body, err := c.get(ctx, c.apiBase+"/w/api.php", url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {topic},
		"srlimit":  {strconv.Itoa(defaultSearchLimit)},
		"format":   {"json"},
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var candidates []Candidate
	for _, hit := range gjson.GetBytes(body, "query.search").Array() {
		title := hit.Get("title").String()
		summary, err := c.summary(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("summary for %q: %w", title, err)
		}

		pageURL := summary.Get("content_urls.desktop.page").String()
		if pageURL == "" {
			pageURL = c.wikiURL(title)
		}
		text := summary.Get("extract").String()
		if text == "" {
			text = hit.Get("snippet").String()
		}
		text = strings.TrimSpace(text)
		if text == "" {
			text = noSummary
		}

		candidates = append(candidates, Candidate{
			Title:            title,
			PageID:           int(hit.Get("pageid").Int()),
			URL:              pageURL,
			Summary:          text,
			ImageURL:         optional(summary.Get("thumbnail.source")),
			ImageCaption:     optional(summary.Get("description")),
			IsDisambiguation: summary.Get("type").String() == "disambiguation",
		})
	}
	return candidates, nil
}

// GetArticle loads the page info, summary and plain-text extract of
// pageID. The extract falls back to the summary and is truncated to
// MaxChars.
func (c *Client) GetArticle(ctx context.Context, pageID int) (*Article, error) {
	id := strconv.Itoa(pageID)
	body, err := c.get(ctx, c.apiBase+"/w/api.php", url.Values{
		"action":  {"query"},
		"prop":    {"info"},
		"inprop":  {"url"},
		"pageids": {id},
		"format":  {"json"},
	})
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	page := gjson.GetBytes(body, "query.pages."+id)
	title := page.Get("title")
	if !title.Exists() {
		return nil, ErrPageNotFound
	}

	canonical := page.Get("fullurl").String()
	if canonical == "" {
		canonical = c.wikiURL(title.String())
	}

	summary, err := c.summary(ctx, title.String())
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	summaryText := strings.TrimSpace(summary.Get("extract").String())

	extract, err := c.extract(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if extract == "" {
		extract = summaryText
	}
	if c.cfg.MaxChars > 0 {
		extract = truncateRunes(extract, c.cfg.MaxChars)
	}

	return &Article{
		Title:        title.String(),
		PageID:       pageID,
		URL:          canonical,
		Summary:      summaryText,
		ImageURL:     optional(summary.Get("thumbnail.source")),
		ImageCaption: optional(summary.Get("description")),
		Extract:      extract,
	}, nil
}

func (c *Client) extract(ctx context.Context, id string) (string, error) {
	body, err := c.get(ctx, c.apiBase+"/w/api.php", url.Values{
		"action":          {"query"},
		"prop":            {"extracts"},
		"pageids":         {id},
		"explaintext":     {"1"},
		"exsectionformat": {"plain"},
		"format":          {"json"},
	})
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "query.pages."+id+".extract").String(), nil
}

// summary fetches the REST summary of title. Error statuses yield an
// empty result rather than an error.
func (c *Client) summary(ctx context.Context, title string) (gjson.Result, error) {
	endpoint := c.apiBase + "/api/rest_v1/page/summary/" + url.QueryEscape(strings.ReplaceAll(title, " ", "_"))
	req, err := c.newRequest(ctx, endpoint, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Debugf("wiki summary for %q returned %s", title, resp.Status)
		return gjson.Result{}, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read body: %w", err)
	}
	return gjson.ParseBytes(body), nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) wikiURL(title string) string {
	return c.apiBase + "/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}

func optional(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := r.String()
	return &s
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
