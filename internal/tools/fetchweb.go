package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"go-analyst/pkg/config"
)

const (
	defaultMaxChars = 20000
	maxBodyBytes    = 5 << 20
	maxLinks        = 10

	methodScrape = "scrape"
	methodAPI    = "api"
)

// FetchWeb downloads a page and extracts its readable text plus any
// requested CSS selections. In api mode it returns the decoded JSON body.
type FetchWeb struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	policy    *bluemonday.Policy
	maxBody   int64
}

func NewFetchWeb(cfg config.Tools) *FetchWeb {
	limit := rate.Inf
	if cfg.FetchRatePerSec > 0 {
		limit = rate.Limit(cfg.FetchRatePerSec)
	}
	burst := cfg.FetchBurst
	if burst <= 0 {
		burst = 1
	}
	return &FetchWeb{
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: cfg.UserAgent,
		policy:    bluemonday.StrictPolicy(),
		maxBody:   maxBodyBytes,
	}
}

func (f *FetchWeb) Name() string {
	return "fetch_web"
}

func (f *FetchWeb) Description() string {
	return "Fetch a web page and return its title, main text, links and the text of optional CSS selectors, or with method=api fetch a JSON endpoint and return its decoded body."
}

func (f *FetchWeb) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":       map[string]any{"type": "string", "description": "absolute http(s) URL"},
			"method":    map[string]any{"type": "string", "enum": []string{methodScrape, methodAPI}, "description": "scrape (default) extracts page text, api decodes a JSON response"},
			"selectors": map[string]any{"type": "object", "description": "name -> CSS selector; each returns the matched texts"},
			"max_chars": map[string]any{"type": "integer", "description": "truncate the page text to this many characters"},
		},
		"required": []string{"url"},
	}
}

type page struct {
	URL        string              `json:"url"`
	Title      string              `json:"title"`
	Excerpt    string              `json:"excerpt,omitempty"`
	Text       string              `json:"text"`
	Truncated  bool                `json:"truncated,omitempty"`
	Links      []string            `json:"links,omitempty"`
	Selections map[string][]string `json:"selections,omitempty"`
}

type apiResponse struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Data        any    `json:"data"`
	Truncated   bool   `json:"truncated,omitempty"`
}

func (f *FetchWeb) Execute(ctx context.Context, params map[string]any) (any, error) {
	raw, err := stringParam(params, "url", true)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalid("url %q is not an absolute http(s) URL", raw)
	}
	selectors, err := stringMapParam(params, "selectors")
	if err != nil {
		return nil, err
	}
	maxChars, err := intParam(params, "max_chars", defaultMaxChars)
	if err != nil {
		return nil, err
	}
	method, err := stringParam(params, "method", false)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = methodScrape
	}
	if method != methodScrape && method != methodAPI {
		return nil, invalid("method must be %q or %q, got %q", methodScrape, methodAPI, method)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, contentType, truncated, err := f.get(ctx, u, method)
	if err != nil {
		return nil, err
	}
	if method == methodAPI {
		return decodeAPI(u, body, contentType, truncated), nil
	}

	out := page{URL: u.String(), Truncated: truncated}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err == nil {
		out.Title = article.Title
		out.Excerpt = strings.TrimSpace(f.policy.Sanitize(article.Excerpt))
		out.Text = f.clean(article.TextContent)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, internal("parse html: %v", err)
	}
	if out.Title == "" {
		out.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if out.Text == "" {
		out.Text = f.clean(doc.Find("body").Text())
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		ref, err := u.Parse(strings.TrimSpace(href))
		if err != nil || (ref.Scheme != "http" && ref.Scheme != "https") {
			return true
		}
		out.Links = append(out.Links, ref.String())
		return len(out.Links) < maxLinks
	})
	if len(selectors) > 0 {
		out.Selections = make(map[string][]string, len(selectors))
		for name, sel := range selectors {
			texts := []string{}
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				if t := f.clean(s.Text()); t != "" {
					texts = append(texts, t)
				}
			})
			out.Selections[name] = texts
		}
	}

	if maxChars > 0 {
		if r := []rune(out.Text); len(r) > maxChars {
			out.Text = string(r[:maxChars])
			out.Truncated = true
		}
	}
	return out, nil
}

// get returns the body, its content type and whether it was cut at maxBody.
func (f *FetchWeb) get(ctx context.Context, u *url.URL, method string) ([]byte, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", false, invalid("build request: %v", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if method == methodAPI {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", false, ctx.Err()
		}
		return nil, "", false, unavailable("fetch %s: %v", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, "", false, unavailable("fetch %s: status %d", u, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, "", false, invalid("fetch %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, "", false, unavailable("read %s: %v", u, err)
	}
	truncated := int64(len(body)) > f.maxBody
	if truncated {
		body = body[:f.maxBody]
		log.Warn().Str("url", u.String()).Int64("limit", f.maxBody).Msg("response body truncated")
	}
	return body, resp.Header.Get("Content-Type"), truncated, nil
}

// decodeAPI returns the JSON value of body, or the body as text when it is
// not valid JSON.
func decodeAPI(u *url.URL, body []byte, contentType string, truncated bool) apiResponse {
	out := apiResponse{URL: u.String(), ContentType: contentType, Truncated: truncated}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		out.Data = string(body)
		return out
	}
	out.Data = v
	return out
}

// clean strips markup and collapses whitespace.
func (f *FetchWeb) clean(s string) string {
	return strings.Join(strings.Fields(f.policy.Sanitize(s)), " ")
}
