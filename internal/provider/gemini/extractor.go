// Package gemini extracts likely editorial contacts for a domain with Gemini
// and Google Search grounding.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/emailcheck"
	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	// CaptureAudit records grounding sources and queries in SourceMetadata.
	CaptureAudit bool
}

type ContactExtractor struct {
	client       *genai.Client
	model        string
	captureAudit bool
}

// New returns provider.ErrDisabled when no API key is configured.
func New(ctx context.Context, cfg Config) (*ContactExtractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.ErrDisabled
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("gemini: model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &ContactExtractor{
		client:       client,
		model:        strings.TrimSpace(cfg.Model),
		captureAudit: cfg.CaptureAudit,
	}, nil
}

type responseSchema struct {
	Contacts []struct {
		Email       string `json:"email"`
		Name        string `json:"name"`
		Title       string `json:"title"`
		LinkedInURL string `json:"linkedin_url"`
	} `json:"contacts"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"contacts": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"email":        {Type: genai.TypeString},
					"name":         {Type: genai.TypeString},
					"title":        {Type: genai.TypeString},
					"linkedin_url": {Type: genai.TypeString},
				},
				Required: []string{"email", "name", "title", "linkedin_url"},
			},
		},
	},
	Required: []string{"contacts"},
}

// ExtractContacts asks the model for publicly listed editorial contacts at
// domain. Only addresses on the domain itself are returned.
func (e *ContactExtractor) ExtractContacts(ctx context.Context, domain, pageURL string) ([]contact.Candidate, error) {
	domain = contact.NormalizeDomain(domain)
	if domain == "" {
		return nil, errors.New("empty domain")
	}

	resp, err := e.client.Models.GenerateContent(
		ctx,
		e.model,
		genai.Text(buildPrompt(domain, pageURL)),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{GoogleSearch: &genai.GoogleSearch{}},
				{URLContext: &genai.URLContext{}},
			},
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return nil, classifyErr(err)
	}

	out, err := parseContacts(resp.Text(), domain)
	if err != nil {
		return nil, err
	}
	if e.captureAudit {
		sources := extractSources(resp)
		queries := extractWebSearchQueries(resp)
		for i := range out {
			out[i].SourceMetadata["sources"] = sources
			out[i].SourceMetadata["web_search_queries"] = queries
		}
	}
	for i := range out {
		out[i].SourceMetadata["model"] = e.model
	}
	return out, nil
}

func buildPrompt(domain, pageURL string) string {
	var b strings.Builder
	b.WriteString(`You are a contact research tool. Using web search and URL context, find publicly listed email
addresses of people who decide what gets published on the website below: owners, editors, content or
partnership leads.

Return ONLY a JSON object {"contacts": [...]} where each contact has:
- email (string; must be an address at the website's domain)
- name (string)
- title (string)
- linkedin_url (string)

Rules:
- Only include addresses you saw published. Do not guess address patterns.
- If a field is unknown, set it to an empty string.
- Return an empty list when nothing is found.

Domain: `)
	b.WriteString(domain)
	if strings.TrimSpace(pageURL) != "" {
		b.WriteString("\nExample page: ")
		b.WriteString(strings.TrimSpace(pageURL))
	}
	b.WriteString("\n")
	return b.String()
}

// parseContacts decodes the model's JSON and keeps acceptable, on-domain addresses.
func parseContacts(text, domain string) ([]contact.Candidate, error) {
	var parsed responseSchema
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return nil, eris.Wrap(err, "gemini: parse structured json")
	}
	var out []contact.Candidate
	for _, c := range parsed.Contacts {
		email := contact.NormalizeEmail(c.Email)
		if email == "" || !emailcheck.Acceptable(email) {
			continue
		}
		if d := contact.DomainOf(email); d != domain && !strings.HasSuffix(d, "."+domain) {
			continue
		}
		out = append(out, contact.Candidate{
			Email:          email,
			Name:           strings.TrimSpace(c.Name),
			Title:          strings.TrimSpace(c.Title),
			LinkedInURL:    strings.TrimSpace(c.LinkedInURL),
			Source:         contact.SourceAIExtracted,
			SourceMetadata: map[string]any{"provider": "gemini"},
		})
	}
	return contact.Merge(out), nil
}

func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &fetch.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &fetch.TransientError{Err: err}
	}
	return err
}

func extractSources(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	c := resp.Candidates[0]

	var out []string
	if c.GroundingMetadata != nil {
		for _, chunk := range c.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			out = append(out, chunk.Web.URI)
		}
	}
	if c.URLContextMetadata != nil {
		for _, m := range c.URLContextMetadata.URLMetadata {
			if m == nil {
				continue
			}
			out = append(out, m.RetrievedURL)
		}
	}
	return dedupePreserveOrder(out)
}

func extractWebSearchQueries(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	c := resp.Candidates[0]
	if c.GroundingMetadata == nil {
		return nil
	}
	return dedupePreserveOrder(c.GroundingMetadata.WebSearchQueries)
}

func dedupePreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
