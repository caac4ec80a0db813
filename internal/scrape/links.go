package scrape

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// AuthorLink is a candidate author bio page discovered on an article.
type AuthorLink struct {
	URL  string
	Name string
}

var authorSelectors = []string{
	`a[rel~="author"]`,
	`link[rel~="author"]`,
	`[itemprop="author"] a[href]`,
	`a[itemprop="author"]`,
	`.author a[href]`,
	`a.author`,
	`.byline a[href]`,
	`.post-author a[href]`,
	`.entry-author a[href]`,
	`.author-name a[href]`,
}

// AuthorLinks returns up to max same-site author page links, JSON-LD first.
func AuthorLinks(p *Page, domain string, max int) []AuthorLink {
	if p == nil || p.Doc == nil || max <= 0 {
		return nil
	}
	var out []AuthorLink
	seen := make(map[string]struct{})
	add := func(href, name string) {
		if len(out) >= max {
			return
		}
		abs := resolve(p.URL, href)
		if abs == "" || !sameSite(abs, domain) || abs == p.URL.String() {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, AuthorLink{URL: abs, Name: strings.TrimSpace(name)})
	}

	for _, a := range jsonLDAuthors(p.Doc) {
		if a.URL != "" {
			add(a.URL, a.Name)
		}
	}
	for _, sel := range authorSelectors {
		p.Doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			add(href, s.Text())
		})
	}
	return out
}

// AuthorName returns the article's author display name, if declared.
func AuthorName(p *Page) string {
	if p == nil || p.Doc == nil {
		return ""
	}
	for _, a := range jsonLDAuthors(p.Doc) {
		if looksLikePersonName(a.Name) {
			return strings.TrimSpace(a.Name)
		}
	}
	if name, ok := p.Doc.Find(`meta[name="author"]`).Attr("content"); ok && looksLikePersonName(name) {
		return strings.TrimSpace(name)
	}
	for _, sel := range []string{`[itemprop="author"] [itemprop="name"]`, `[itemprop="author"]`, `a[rel~="author"]`, `.byline a`, `.author-name`, `.post-author a`} {
		name := strings.TrimSpace(p.Doc.Find(sel).First().Text())
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(name, "By "), "by "))
		if looksLikePersonName(name) {
			return name
		}
	}
	return ""
}

type ldAuthor struct {
	Name string
	URL  string
}

// jsonLDAuthors collects author entries from every JSON-LD block, accepting a
// single object, an array, or an @graph wrapper.
func jsonLDAuthors(doc *goquery.Document) []ldAuthor {
	var out []ldAuthor
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		walkLD(v, func(node map[string]any) {
			out = append(out, ldAuthorsOf(node["author"])...)
		})
	})
	return out
}

func walkLD(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkLD(item, visit)
		}
	case map[string]any:
		visit(t)
		if g, ok := t["@graph"]; ok {
			walkLD(g, visit)
		}
	}
}

func ldAuthorsOf(v any) []ldAuthor {
	switch t := v.(type) {
	case string:
		return []ldAuthor{{Name: t}}
	case map[string]any:
		a := ldAuthor{}
		a.Name, _ = t["name"].(string)
		a.URL, _ = t["url"].(string)
		if a.URL == "" {
			a.URL, _ = t["@id"].(string)
		}
		return []ldAuthor{a}
	case []any:
		var out []ldAuthor
		for _, item := range t {
			out = append(out, ldAuthorsOf(item)...)
		}
		return out
	}
	return nil
}

var profilePathRe = regexp.MustCompile(`(?i)/(authors?|team|staff|contributors?|writers?|people)/[^/?#]+`)

// ProfileLinks returns up to max same-site links that look like an individual's profile page.
func ProfileLinks(p *Page, domain string, max int) []string {
	if p == nil || p.Doc == nil || max <= 0 {
		return nil
	}
	var out []string
	seen := map[string]struct{}{p.URL.String(): {}}
	p.Doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs := resolve(p.URL, href)
		if abs == "" || !sameSite(abs, domain) {
			return true
		}
		u, err := url.Parse(abs)
		if err != nil || !profilePathRe.MatchString(u.Path) {
			return true
		}
		if _, ok := seen[abs]; ok {
			return true
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
		return len(out) < max
	})
	return out
}

// SocialHandle is a profile on a professional or microblogging network.
type SocialHandle struct {
	Network string
	Handle  string
	URL     string
}

var (
	twitterRe  = regexp.MustCompile(`(?i)^https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/([a-z0-9_]{1,15})/?$`)
	linkedinRe = regexp.MustCompile(`(?i)^https?://(?:[a-z]{2,3}\.)?linkedin\.com/in/([a-z0-9\-_%]+)/?$`)

	reservedTwitterPaths = map[string]struct{}{
		"share": {}, "intent": {}, "home": {}, "i": {}, "search": {}, "hashtag": {}, "login": {}, "signup": {},
	}
)

// SocialHandles returns up to max distinct social profile handles linked from p.
func SocialHandles(p *Page, max int) []SocialHandle {
	if p == nil || p.Doc == nil || max <= 0 {
		return nil
	}
	var out []SocialHandle
	seen := make(map[string]struct{})
	p.Doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if i := strings.IndexAny(href, "?#"); i >= 0 {
			href = href[:i]
		}
		var h SocialHandle
		if m := twitterRe.FindStringSubmatch(href); m != nil {
			if _, reserved := reservedTwitterPaths[strings.ToLower(m[1])]; reserved {
				return true
			}
			h = SocialHandle{Network: "twitter", Handle: m[1], URL: href}
		} else if m := linkedinRe.FindStringSubmatch(href); m != nil {
			h = SocialHandle{Network: "linkedin", Handle: m[1], URL: href}
		} else {
			return true
		}
		key := h.Network + ":" + strings.ToLower(h.Handle)
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, h)
		return len(out) < max
	})
	return out
}

// resolve returns href as an absolute http(s) URL without fragment, or "".
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// sameSite reports whether rawURL is hosted on domain or one of its subdomains.
func sameSite(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == domain || strings.HasSuffix(host, "."+domain)
}
