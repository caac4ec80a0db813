package search

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
)

const (
	DefaultDuckDuckGoURL = "https://html.duckduckgo.com"
	DefaultBingURL       = "https://www.bing.com"
)

// DuckDuckGo queries the JavaScript-free HTML endpoint.
type DuckDuckGo struct {
	BaseURL string
	Client  *fetch.Client
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	base := strings.TrimRight(d.BaseURL, "/")
	if base == "" {
		base = DefaultDuckDuckGoURL
	}
	resp, err := d.Client.Get(ctx, base+"/html/?q="+url.QueryEscape(query))
	if err != nil {
		return nil, eris.Wrap(err, "duckduckgo search")
	}
	if looksBlocked(resp.Body) {
		return nil, ErrBlocked
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, eris.Wrap(err, "parse duckduckgo results")
	}

	var out []Result
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a.result__a").First()
		href, _ := a.Attr("href")
		out = append(out, Result{
			URL:     unwrapDuckDuckGoLink(href),
			Title:   strings.TrimSpace(a.Text()),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
	})
	return out, nil
}

// unwrapDuckDuckGoLink resolves "//duckduckgo.com/l/?uddg=<target>" redirect links.
func unwrapDuckDuckGoLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// Bing scrapes the public results page.
type Bing struct {
	BaseURL string
	Client  *fetch.Client
}

func (b *Bing) Name() string { return "bing" }

func (b *Bing) Search(ctx context.Context, query string) ([]Result, error) {
	base := strings.TrimRight(b.BaseURL, "/")
	if base == "" {
		base = DefaultBingURL
	}
	resp, err := b.Client.Get(ctx, base+"/search?q="+url.QueryEscape(query))
	if err != nil {
		return nil, eris.Wrap(err, "bing search")
	}
	if looksBlocked(resp.Body) {
		return nil, ErrBlocked
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, eris.Wrap(err, "parse bing results")
	}

	var out []Result
	doc.Find("li.b_algo").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("h2 a").First()
		href, _ := a.Attr("href")
		snippet := s.Find(".b_caption p").First().Text()
		if snippet == "" {
			snippet = s.Find("p").First().Text()
		}
		out = append(out, Result{
			URL:     strings.TrimSpace(href),
			Title:   strings.TrimSpace(a.Text()),
			Snippet: strings.TrimSpace(snippet),
		})
	})
	return out, nil
}
