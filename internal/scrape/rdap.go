package scrape

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/emailcheck"
)

// DefaultRDAPURL redirects to the authoritative registry's RDAP server.
const DefaultRDAPURL = "https://rdap.org"

// RDAP reads contact emails from the domain's public registration record.
type RDAP struct {
	BaseURL string
}

func (RDAP) Name() string { return "rdap" }

type rdapEntity struct {
	Roles      []string          `json:"roles"`
	VCardArray []json.RawMessage `json:"vcardArray"`
	Entities   []rdapEntity      `json:"entities"`
}

type rdapDomain struct {
	Entities []rdapEntity `json:"entities"`
}

func (s RDAP) TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = DefaultRDAPURL
	}
	target := base + "/domain/" + run.Domain
	resp, err := run.client.Do(ctx, "rdap", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/rdap+json, application/json")
		return req, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "rdap lookup")
	}

	var rec rdapDomain
	if err := json.Unmarshal(resp.Body, &rec); err != nil {
		return nil, eris.Wrap(err, "decode rdap response")
	}

	var out []contact.Candidate
	var walk func(entities []rdapEntity)
	walk = func(entities []rdapEntity) {
		for _, e := range entities {
			name, emails := parseVCard(e.VCardArray)
			for _, raw := range emails {
				email := contact.NormalizeEmail(raw)
				if email == "" || !emailcheck.Acceptable(email) {
					continue
				}
				display := name
				if !looksLikePersonName(display) {
					display = contact.InferName(email)
				}
				out = append(out, contact.Candidate{
					Email:  email,
					Name:   display,
					Source: contact.SourceScraped,
					SourceMetadata: map[string]any{
						"via":   "rdap",
						"roles": strings.Join(e.Roles, ","),
					},
				})
			}
			walk(e.Entities)
		}
	}
	walk(rec.Entities)
	return out, nil
}

// parseVCard reads the fn and email properties from a jCard
// ["vcard", [[name, params, type, value], ...]].
func parseVCard(arr []json.RawMessage) (string, []string) {
	if len(arr) < 2 {
		return "", nil
	}
	var props [][]json.RawMessage
	if err := json.Unmarshal(arr[1], &props); err != nil {
		return "", nil
	}
	var (
		name   string
		emails []string
	)
	for _, p := range props {
		if len(p) < 4 {
			continue
		}
		var key, value string
		if json.Unmarshal(p[0], &key) != nil || json.Unmarshal(p[3], &value) != nil {
			continue
		}
		switch strings.ToLower(key) {
		case "fn":
			name = strings.TrimSpace(value)
		case "email":
			emails = append(emails, value)
		}
	}
	return name, emails
}
