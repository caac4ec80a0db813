package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
)

// WebSearch queries the run's search engine for addresses on the domain,
// reading result snippets first and the top result pages second.
type WebSearch struct {
	MaxPages int
}

func (WebSearch) Name() string { return "web_search" }

func (s WebSearch) TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error) {
	queries := []string{
		fmt.Sprintf(`"@%s"`, run.Domain),
		fmt.Sprintf("contact email site:%s", run.Domain),
	}
	return searchEmails(ctx, run, queries, s.MaxPages, contact.SourceScraped)
}

// NameSearch looks for the author captured earlier in the run. It is a no-op
// when no author name is known.
type NameSearch struct {
	MaxPages int
}

func (NameSearch) Name() string { return "name_search" }

func (s NameSearch) TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error) {
	name := strings.TrimSpace(run.AuthorName)
	if name == "" {
		return nil, nil
	}
	queries := []string{
		fmt.Sprintf(`"%s" "@%s"`, name, run.Domain),
		fmt.Sprintf(`"%s" email %s`, name, run.Domain),
	}
	found, err := searchEmails(ctx, run, queries, s.MaxPages, contact.SourceScrapedAuthor)
	for i := range found {
		if found[i].Name == "" && localMatchesName(found[i].Email, name) {
			found[i].Name = name
		}
	}
	return found, err
}

// SocialSearch pairs social handles from the seed page with the domain.
type SocialSearch struct {
	MaxHandles int
}

func (SocialSearch) Name() string { return "social_search" }

func (s SocialSearch) TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error) {
	seed, err := run.Seed(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fetch seed page")
	}
	handles := SocialHandles(seed, s.MaxHandles)
	if len(handles) == 0 {
		return nil, nil
	}

	var out []contact.Candidate
	var lastErr error
	for _, h := range handles {
		found, err := searchEmails(ctx, run, []string{fmt.Sprintf(`"%s" "@%s"`, h.Handle, run.Domain)}, 0, contact.SourceScraped)
		if err != nil {
			lastErr = err
			continue
		}
		for i := range found {
			found[i].SourceMetadata["social_handle"] = h.Handle
			found[i].SourceMetadata["social_network"] = h.Network
			if h.Network == "linkedin" {
				found[i].LinkedInURL = h.URL
			}
		}
		out = append(out, found...)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// searchEmails runs queries and keeps domain-matching addresses from titles
// and snippets. When the snippets hold none, up to maxPages result pages on
// any host are fetched and scanned.
func searchEmails(ctx context.Context, run *Run, queries []string, maxPages int, source contact.Source) ([]contact.Candidate, error) {
	if run.Search == nil {
		return nil, nil
	}

	var (
		out      []contact.Candidate
		pageURLs []string
		lastErr  error
		answered int
	)
	seen := make(map[string]struct{})
	seenPages := make(map[string]struct{})
	add := func(email, query, via string) {
		if !matchesDomain(email, run.Domain) {
			return
		}
		if _, ok := seen[email]; ok {
			return
		}
		seen[email] = struct{}{}
		out = append(out, contact.Candidate{
			Email:          email,
			Name:           contact.InferName(email),
			Source:         source,
			SourceMetadata: map[string]any{"via": via, "query": query},
		})
	}

	for _, q := range queries {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		results, err := run.Search.Search(ctx, q)
		if err != nil {
			lastErr = eris.Wrapf(err, "search %q", q)
			continue
		}
		answered++
		for _, r := range results {
			for _, email := range EmailsInText(r.Title + " " + r.Snippet) {
				add(email, q, "search_snippet")
			}
			if r.URL == "" {
				continue
			}
			if _, ok := seenPages[r.URL]; !ok {
				seenPages[r.URL] = struct{}{}
				pageURLs = append(pageURLs, r.URL)
			}
		}
	}
	if answered == 0 && lastErr != nil {
		return nil, lastErr
	}
	if len(out) > 0 || maxPages <= 0 {
		return out, nil
	}

	if len(pageURLs) > maxPages {
		pageURLs = pageURLs[:maxPages]
	}
	for i, p := range fetchAll(ctx, run, pageURLs) {
		if p == nil {
			continue
		}
		for _, c := range ExtractEmails(p, source) {
			if !matchesDomain(c.Email, run.Domain) {
				continue
			}
			if _, ok := seen[c.Email]; ok {
				continue
			}
			seen[c.Email] = struct{}{}
			c.SourceMetadata["via"] = "search_page"
			c.SourceMetadata["page_url"] = pageURLs[i]
			out = append(out, c)
		}
	}
	return out, nil
}

// localMatchesName reports whether the email's local part contains a token
// of name, e.g. "jane.doe@" or "jdoe@" for "Jane Doe".
func localMatchesName(email, name string) bool {
	local := contact.LocalPart(email)
	for _, tok := range strings.Fields(strings.ToLower(name)) {
		if len(tok) >= 3 && strings.Contains(local, tok) {
			return true
		}
	}
	return false
}
