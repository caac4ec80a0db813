// Package people searches a professional network for likely decision makers
// at a company domain.
package people

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
)

// TokenSource supplies bearer tokens. *oauth.TokenProvider satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

type Config struct {
	BaseURL string
	// TitleKeywords narrows the search to decision-maker roles.
	TitleKeywords []string
}

type Client struct {
	base     string
	keywords []string
	tokens   TokenSource
	http     *fetch.Client
}

func New(cfg Config, tokens TokenSource, client *fetch.Client) *Client {
	return &Client{
		base:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		keywords: cfg.TitleKeywords,
		tokens:   tokens,
		http:     client,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.base != "" && c.tokens != nil
}

type searchResponse struct {
	People []provider.Person `json:"people"`
}

// SearchPeople returns up to limit profiles at domain, best match first.
// A rejected token is refreshed and the request retried once.
func (c *Client) SearchPeople(ctx context.Context, domain string, limit int) ([]provider.Person, error) {
	if !c.Enabled() {
		return nil, provider.ErrDisabled
	}
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("limit", strconv.Itoa(limit))
	if len(c.keywords) > 0 {
		q.Set("title_keywords", strings.Join(c.keywords, ","))
	}
	target := c.base + "/v1/people/search?" + q.Encode()

	resp, err := c.search(ctx, target)
	if fetch.StatusCode(err) == http.StatusUnauthorized {
		c.tokens.Invalidate()
		resp, err = c.search(ctx, target)
	}
	if err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return nil, eris.Wrap(err, "people search: decode response")
	}
	out := make([]provider.Person, 0, len(sr.People))
	for _, p := range sr.People {
		p.FirstName = strings.TrimSpace(p.FirstName)
		p.LastName = strings.TrimSpace(p.LastName)
		p.FullName = strings.TrimSpace(p.FullName)
		p.Title = strings.TrimSpace(p.Title)
		p.LinkedInURL = strings.TrimSpace(p.LinkedInURL)
		if p.DisplayName() == "" {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, target string) (*fetch.Response, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.Do(ctx, "people search", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}
