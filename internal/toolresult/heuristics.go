package toolresult

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// preservedFields are kept verbatim (but truncated) whatever their size.
var preservedFields = map[string]bool{
	"id": true, "uuid": true, "key": true, "slug": true,
	"title": true, "name": true, "subject": true, "label": true,
	"status": true, "state": true, "error": true, "message": true,
	"url": true, "link": true, "href": true, "permalink": true,
	"date": true, "time": true, "timestamp": true,
	"created": true, "updated": true, "published": true,
	"count": true, "total": true, "score": true,
}

// preservedSuffixes match identifier, timestamp, url and count fields such
// as thread_id, created_at, html_url and num_comments_count.
var preservedSuffixes = []string{"_id", "_at", "_time", "_date", "_url", "_count", "_total"}

// largeContentFields usually hold documents, markup or payloads.
var largeContentFields = map[string]bool{
	"content": true, "body": true, "html": true, "raw": true, "text_html": true,
	"payload": true, "attachment": true, "attachments": true, "blob": true,
	"base64": true, "encoded": true, "markdown": true, "source": true,
	"transcript": true, "page_content": true, "html_content": true,
	"message_text": true, "selftext_html": true,
}

// normalizeKey lowercases a field name and converts camelCase to snake_case.
func normalizeKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func preserved(key string) bool {
	if key == "" {
		return false
	}
	if preservedFields[key] {
		return true
	}
	for _, suf := range preservedSuffixes {
		if strings.HasSuffix(key, suf) {
			return true
		}
	}
	return false
}

func largeContent(key string) bool {
	return largeContentFields[key]
}

var base64Re = regexp.MustCompile(`^[A-Za-z0-9+/_-]+={0,2}$`)

// looksBase64 matches long unbroken runs of base64 (standard or URL-safe).
// Requiring mixed case and digits keeps ordinary long words out.
func looksBase64(s string) bool {
	if len(s) < 100 {
		return false
	}
	compact := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
	if !base64Re.MatchString(compact) {
		return false
	}
	var upper, lower, digit bool
	for _, r := range compact {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}

// looksBinary reports invalid UTF-8 or a high share of control characters.
func looksBinary(s string) bool {
	if len(s) == 0 {
		return false
	}
	if !utf8.ValidString(s) {
		return true
	}
	control := 0
	for _, r := range s {
		if r == 0 {
			return true
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			control++
		}
	}
	return control*10 > utf8.RuneCountInString(s)
}

func isDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s[:min(len(s), 100)], ",")
}

// dataURIFormat returns the media type of a data URI, e.g. image/png.
func dataURIFormat(s string) string {
	meta, _, _ := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	mediaType, _, _ := strings.Cut(meta, ";")
	if mediaType == "" {
		return "data-uri"
	}
	return mediaType
}

// looksLongURL matches single URLs long enough to be signed or tracking links.
func looksLongURL(s string, limit int) bool {
	if len(s) <= limit {
		return false
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	return !strings.ContainsAny(s, " \n\t")
}

var htmlTagRe = regexp.MustCompile(`(?i)<(p|div|a|span|br|h[1-6]|li|ul|ol|table|tr|td|body|head|script|style|img|meta|link)\b`)

func looksHTML(s string) bool {
	head := strings.ToLower(s[:min(len(s), 512)])
	if strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html") {
		return true
	}
	return len(htmlTagRe.FindAllStringIndex(s, 3)) >= 3
}

// htmlSummary reduces markup to its title, visible text and first links.
func htmlSummary(s string, preview, maxLinks int) map[string]any {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return textSummary(s, preview)
	}

	var (
		title string
		text  []string
		links []string
		seen  = map[string]bool{}
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case atom.A:
				for _, a := range n.Attr {
					if a.Key == "href" && a.Val != "" && !seen[a.Val] && len(links) < maxLinks {
						seen[a.Val] = true
						links = append(links, truncate(a.Val, preview))
					}
				}
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				text = append(text, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	body := strings.Join(strings.Fields(strings.Join(text, " ")), " ")
	if title == "" {
		title = firstHeading(doc)
	}
	if links == nil {
		links = []string{}
	}
	return map[string]any{
		"type":      TypeHTMLSummary,
		"title":     truncate(title, preview),
		"wordCount": len(strings.Fields(body)),
		"preview":   truncate(body, preview),
		"links":     links,
	}
}

func firstHeading(n *html.Node) string {
	if n.Type == html.ElementNode && (n.DataAtom == atom.H1 || n.DataAtom == atom.H2) {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return strings.TrimSpace(b.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := firstHeading(c); h != "" {
			return h
		}
	}
	return ""
}
