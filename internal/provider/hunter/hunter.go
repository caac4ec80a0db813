// Package hunter is a client for a Hunter-compatible email intelligence API:
// whole-domain search, name-to-email lookup and email verification.
package hunter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
)

const DefaultBaseURL = "https://api.hunter.io/v2"

type Config struct {
	APIKey  string
	BaseURL string
	// DomainSearchLimit caps the emails returned by DomainSearch.
	DomainSearchLimit int
}

type Client struct {
	apiKey string
	base   string
	limit  int
	http   *fetch.Client
}

func New(cfg Config, client *fetch.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	limit := cfg.DomainSearchLimit
	if limit <= 0 {
		limit = 10
	}
	return &Client{apiKey: strings.TrimSpace(cfg.APIKey), base: base, limit: limit, http: client}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

type domainSearchResponse struct {
	Data struct {
		Domain string `json:"domain"`
		Emails []struct {
			Value      string `json:"value"`
			Type       string `json:"type"`
			Confidence int    `json:"confidence"`
			FirstName  string `json:"first_name"`
			LastName   string `json:"last_name"`
			Position   string `json:"position"`
			LinkedIn   string `json:"linkedin"`
		} `json:"emails"`
	} `json:"data"`
}

// DomainSearch returns every email the provider knows for domain.
func (c *Client) DomainSearch(ctx context.Context, domain string) ([]contact.Candidate, error) {
	if !c.Enabled() {
		return nil, provider.ErrDisabled
	}
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("limit", strconv.Itoa(c.limit))

	var resp domainSearchResponse
	if err := c.get(ctx, "domain-search", q, &resp); err != nil {
		return nil, err
	}
	out := make([]contact.Candidate, 0, len(resp.Data.Emails))
	for _, e := range resp.Data.Emails {
		email := contact.NormalizeEmail(e.Value)
		if email == "" {
			continue
		}
		out = append(out, contact.Candidate{
			Email:       email,
			Name:        strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName)),
			Title:       strings.TrimSpace(e.Position),
			LinkedInURL: strings.TrimSpace(e.LinkedIn),
			Source:      contact.SourceDomainSearch,
			SourceMetadata: map[string]any{
				"provider":   "hunter",
				"confidence": e.Confidence,
				"type":       e.Type,
			},
		})
	}
	return out, nil
}

type emailFinderResponse struct {
	Data struct {
		Email    *string `json:"email"`
		Score    int     `json:"score"`
		Position string  `json:"position"`
		LinkedIn string  `json:"linkedin_url"`
	} `json:"data"`
}

// FindEmail resolves fullName at domain to an address. A lookup that finds
// nothing returns an empty FoundEmail and a nil error; it is still billed.
func (c *Client) FindEmail(ctx context.Context, domain, fullName string) (provider.FoundEmail, error) {
	if !c.Enabled() {
		return provider.FoundEmail{}, provider.ErrDisabled
	}
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("full_name", strings.TrimSpace(fullName))

	var resp emailFinderResponse
	if err := c.get(ctx, "email-finder", q, &resp); err != nil {
		if fetch.StatusCode(err) == http.StatusNotFound {
			return provider.FoundEmail{}, nil
		}
		return provider.FoundEmail{}, err
	}
	if resp.Data.Email == nil {
		return provider.FoundEmail{}, nil
	}
	return provider.FoundEmail{
		Email:       contact.NormalizeEmail(*resp.Data.Email),
		Score:       resp.Data.Score,
		Title:       strings.TrimSpace(resp.Data.Position),
		LinkedInURL: strings.TrimSpace(resp.Data.LinkedIn),
	}, nil
}

type verifierResponse struct {
	Data struct {
		Status string `json:"status"`
		Result string `json:"result"`
		Score  int    `json:"score"`
	} `json:"data"`
}

// Verify runs a paid deliverability check on email.
func (c *Client) Verify(ctx context.Context, email string) (provider.Verification, error) {
	if !c.Enabled() {
		return provider.Verification{}, provider.ErrDisabled
	}
	q := url.Values{}
	q.Set("email", email)

	var resp verifierResponse
	if err := c.get(ctx, "email-verifier", q, &resp); err != nil {
		return provider.Verification{}, err
	}
	raw := resp.Data.Status
	if raw == "" {
		raw = resp.Data.Result
	}
	status, score := MapStatus(raw)
	return provider.Verification{Status: status, Score: score, Raw: raw}, nil
}

// MapStatus translates the provider's verdict vocabulary to ours.
func MapStatus(raw string) (contact.VerificationStatus, int) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "valid", "deliverable":
		return contact.StatusValid, 95
	case "invalid", "disposable", "undeliverable":
		return contact.StatusInvalid, 0
	case "accept_all", "webmail", "risky":
		return contact.StatusRisky, 50
	default:
		return contact.StatusUnknown, 30
	}
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, dst any) error {
	q.Set("api_key", c.apiKey)
	target := c.base + "/" + endpoint + "?" + q.Encode()
	resp, err := c.http.Do(ctx, "hunter "+endpoint, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return eris.Wrapf(err, "hunter %s: decode response", endpoint)
	}
	return nil
}
