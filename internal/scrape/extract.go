// Package scrape is the free half of contact discovery: an ordered cascade of
// strategies that harvest candidate emails from public web surfaces.
package scrape

import (
	"bytes"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/emailcheck"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,24}`)

	obfuscatedAtRe  = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*at\s*[\]\)\}]\s*`)
	obfuscatedDotRe = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*`)
)

// Page is a fetched and parsed HTML document.
type Page struct {
	URL  *url.URL
	Body []byte
	Doc  *goquery.Document
}

// ParsePage parses body as HTML fetched from rawURL.
func ParsePage(rawURL string, body []byte) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse page url %q", rawURL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "parse html from %s", u.Host)
	}
	return &Page{URL: u, Body: body, Doc: doc}, nil
}

// ExtractEmails returns the acceptable addresses on p in order of first
// appearance: mailto links, then Cloudflare-protected addresses, then
// addresses in the visible text (including "[at]"/"(dot)" spellings).
//
// Mailto candidates take their display name from the link text when it looks
// like a person's name; everything else falls back to contact.InferName.
func ExtractEmails(p *Page, source contact.Source) []contact.Candidate {
	if p == nil || p.Doc == nil {
		return nil
	}
	var out []contact.Candidate
	seen := make(map[string]struct{})
	add := func(raw, name string) {
		email := contact.NormalizeEmail(raw)
		if email == "" || !emailcheck.Acceptable(email) {
			return
		}
		if _, ok := seen[email]; ok {
			return
		}
		seen[email] = struct{}{}
		if !looksLikePersonName(name) {
			name = contact.InferName(email)
		}
		c := contact.Candidate{Email: email, Name: name, Source: source}
		if p.URL != nil {
			c.SourceMetadata = map[string]any{"page_url": p.URL.String()}
		}
		out = append(out, c)
	}

	p.Doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"], a[href^="Mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href, strings.TrimSpace(s.Text()))
	})

	p.Doc.Find("[data-cfemail]").Each(func(_ int, s *goquery.Selection) {
		enc, _ := s.Attr("data-cfemail")
		if email := decodeCloudflareEmail(enc); email != "" {
			add(email, "")
		}
	})
	p.Doc.Find(`a[href*="/cdn-cgi/l/email-protection#"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if i := strings.LastIndex(href, "#"); i >= 0 {
			if email := decodeCloudflareEmail(href[i+1:]); email != "" {
				add(email, "")
			}
		}
	})

	for _, email := range EmailsInText(visibleText(p.Doc)) {
		add(email, "")
	}
	return out
}

// EmailsInText returns the normalized, acceptable, de-duplicated addresses in s.
func EmailsInText(s string) []string {
	s = obfuscatedAtRe.ReplaceAllString(s, "@")
	s = obfuscatedDotRe.ReplaceAllString(s, ".")

	var out []string
	seen := make(map[string]struct{})
	for _, m := range emailRe.FindAllString(s, -1) {
		email := contact.NormalizeEmail(m)
		if email == "" || !emailcheck.Acceptable(email) {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}

// visibleText is the document text without script/style content. Text on
// either side of a non-inline element boundary is separated by a space so
// that adjacent list items or table cells never run together.
func visibleText(doc *goquery.Document) string {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	for _, n := range root.Nodes {
		writeText(&b, n)
	}
	return b.String()
}

var inlineElements = map[string]bool{
	"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "cite": true, "code": true,
	"em": true, "font": true, "i": true, "kbd": true, "mark": true, "q": true, "s": true,
	"samp": true, "small": true, "span": true, "strong": true, "sub": true, "sup": true,
	"time": true, "u": true, "var": true,
}

var hiddenElements = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if hiddenElements[n.Data] {
			return
		}
	}
	boundary := n.Type == html.ElementNode && !inlineElements[n.Data]
	if boundary {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if boundary {
		b.WriteByte(' ')
	}
}

// decodeCloudflareEmail reverses Cloudflare's email obfuscation: the first
// hex byte is an XOR key for the rest.
func decodeCloudflareEmail(enc string) string {
	raw, err := hex.DecodeString(strings.TrimSpace(enc))
	if err != nil || len(raw) < 2 {
		return ""
	}
	key := raw[0]
	var b strings.Builder
	for _, c := range raw[1:] {
		b.WriteByte(c ^ key)
	}
	return b.String()
}

var notNames = map[string]struct{}{
	"email": {}, "e-mail": {}, "mail": {}, "contact": {}, "contact us": {}, "here": {},
	"click here": {}, "email us": {}, "write to us": {}, "send email": {}, "get in touch": {},
}

func looksLikePersonName(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 60 || strings.Contains(s, "@") {
		return false
	}
	if _, ok := notNames[strings.ToLower(s)]; ok {
		return false
	}
	words := strings.Fields(s)
	if len(words) < 2 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		for _, r := range w {
			if !unicode.IsLetter(r) && r != '-' && r != '\'' && r != '.' {
				return false
			}
		}
		if !unicode.IsUpper([]rune(w)[0]) {
			return false
		}
	}
	return true
}

// dedupe keeps the first candidate per email.
func dedupe(in []contact.Candidate) []contact.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, c := range in {
		if _, ok := seen[c.Email]; ok {
			continue
		}
		seen[c.Email] = struct{}{}
		out = append(out, c)
	}
	return out
}

// matchesDomain reports whether email belongs to domain or one of its subdomains.
func matchesDomain(email, domain string) bool {
	d := contact.DomainOf(email)
	return d == domain || strings.HasSuffix(d, "."+domain)
}
