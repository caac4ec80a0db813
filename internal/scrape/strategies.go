package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

// pageFanOut bounds concurrent fetches of author/profile pages within one strategy.
const pageFanOut = 3

// SeedPage extracts emails from the submitted article URL.
type SeedPage struct{}

func (SeedPage) Name() string { return "seed_page" }

func (SeedPage) TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error) {
	p, err := run.Seed(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fetch seed page")
	}
	return ExtractEmails(p, contact.SourceScraped), nil
}

// AuthorPages follows the seed page's author links. The author's display name
// is recorded on the run even when no email turns up.
type AuthorPages struct {
	MaxPages int
}

func (AuthorPages) Name() string { return "author_pages" }

func (s AuthorPages) TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error) {
	seed, err := run.Seed(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fetch seed page")
	}
	if run.AuthorName == "" {
		run.AuthorName = AuthorName(seed)
	}
	links := AuthorLinks(seed, run.Domain, s.MaxPages)
	if run.AuthorName == "" {
		for _, l := range links {
			if looksLikePersonName(l.Name) {
				run.AuthorName = l.Name
				break
			}
		}
	}
	if len(links) == 0 {
		return nil, nil
	}

	urls := make([]string, len(links))
	for i, l := range links {
		urls[i] = l.URL
	}
	pages := fetchAll(ctx, run, urls)

	var out []contact.Candidate
	for i, p := range pages {
		if p == nil {
			continue
		}
		found := ExtractEmails(p, contact.SourceScrapedAuthor)
		// A bio page with a single address belongs to the author.
		if len(found) == 1 && found[0].Name == "" {
			name := links[i].Name
			if !looksLikePersonName(name) {
				name = run.AuthorName
			}
			found[0].Name = name
		}
		out = append(out, found...)
	}
	return out, nil
}

// DefaultPaths are probed on the site origin by ConventionalPaths.
var DefaultPaths = []string{
	"/contact",
	"/contact-us",
	"/about",
	"/about-us",
	"/team",
	"/editorial",
	"/write-for-us",
	"/advertise",
	"/staff",
}

// ConventionalPaths probes well-known pages on the origin. Team-like pages
// additionally have their individual profile links followed.
type ConventionalPaths struct {
	Paths       []string
	MaxProfiles int
}

func (ConventionalPaths) Name() string { return "conventional_paths" }

func (s ConventionalPaths) TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error) {
	paths := s.Paths
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	origin := run.Origin()

	var (
		out     []contact.Candidate
		lastErr error
		fetched int
	)
	for _, path := range paths {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		p, err := run.Page(ctx, origin+path)
		if err != nil {
			lastErr = err
			continue
		}
		fetched++
		if !isTeamPath(path) {
			out = append(out, ExtractEmails(p, contact.SourceScraped)...)
			continue
		}
		out = append(out, ExtractEmails(p, contact.SourceScrapedTeamPage)...)

		profiles := ProfileLinks(p, run.Domain, s.MaxProfiles)
		for _, pp := range fetchAll(ctx, run, profiles) {
			if pp == nil {
				continue
			}
			found := ExtractEmails(pp, contact.SourceScrapedTeamPage)
			if len(found) == 1 && found[0].Name == "" {
				found[0].Name = pageHeading(pp)
			}
			out = append(out, found...)
		}
	}
	if fetched == 0 && lastErr != nil {
		return nil, eris.Wrap(lastErr, "no conventional page could be fetched")
	}
	return out, nil
}

func isTeamPath(path string) bool {
	p := strings.ToLower(path)
	for _, k := range []string{"team", "staff", "about", "editorial"} {
		if strings.Contains(p, k) {
			return true
		}
	}
	return false
}

// pageHeading returns the first h1 when it reads like a person's name.
func pageHeading(p *Page) string {
	h := strings.TrimSpace(p.Doc.Find("h1").First().Text())
	if looksLikePersonName(h) {
		return h
	}
	return ""
}

// fetchAll fetches urls with bounded concurrency. The result is index-aligned
// with urls; failed fetches leave a nil entry.
func fetchAll(ctx context.Context, run *Run, urls []string) []*Page {
	pages := make([]*Page, len(urls))
	var g errgroup.Group
	g.SetLimit(pageFanOut)
	for i, u := range urls {
		g.Go(func() error {
			p, err := run.Page(ctx, u)
			if err != nil {
				run.Logger.Debug("scrape: page fetch failed",
					zap.String("url", redact.Secrets(u)),
					zap.String("error", redact.Secrets(err.Error())),
				)
				return nil
			}
			pages[i] = p
			return nil
		})
	}
	_ = g.Wait()
	return pages
}
