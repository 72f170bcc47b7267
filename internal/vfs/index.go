package vfs

import (
	"bytes"
	"io"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// maxIndexSize bounds how large a payload may be and still be considered a
// directory listing.
const maxIndexSize = 4 << 20

var parentLabels = map[string]bool{
	"..":               true,
	"../":              true,
	"Parent Directory": true,
}

// ParseIndex classifies body fetched for p. When it is an HTML directory
// listing titled "Index of p", it returns the child names with trailing
// slashes removed, the parent entry excluded, sorted and deduplicated.
func ParseIndex(p string, body []byte) ([]string, bool) {
	if len(body) > maxIndexSize || !mimetype.Detect(body).Is("text/html") {
		return nil, false
	}

	doc, err := htmlquery.Parse(decode(body))
	if err != nil {
		return nil, false
	}
	if !titled(doc, Clean(p)) {
		return nil, false
	}

	names := []string{}
	goquery.NewDocumentFromNode(doc).Find("a").Each(func(_ int, a *goquery.Selection) {
		label := strings.TrimSpace(a.Text())
		if label == "" || parentLabels[label] {
			return
		}
		// Column sort links in server-generated listings carry only a query.
		if href, ok := a.Attr("href"); ok && strings.HasPrefix(href, "?") {
			return
		}
		name := strings.TrimSuffix(label, "/")
		if name == "" || strings.Contains(name, "/") {
			return
		}
		names = append(names, name)
	})

	slices.Sort(names)
	return slices.Compact(names), true
}

func titled(doc *html.Node, p string) bool {
	title := htmlquery.FindOne(doc, "//title")
	if title == nil {
		return false
	}
	text := strings.TrimSpace(htmlquery.InnerText(title))
	rest, ok := strings.CutPrefix(text, "Index of ")
	if !ok {
		return false
	}
	rest = strings.TrimSpace(rest)
	if rest != "/" {
		rest = strings.TrimSuffix(rest, "/")
	}
	return rest == p
}

// decode converts body to UTF-8 using the detected charset, falling back to
// the raw bytes.
func decode(body []byte) io.Reader {
	result, err := chardet.NewTextDetector().DetectBest(body)
	if err != nil || result == nil {
		return bytes.NewReader(body)
	}
	r, err := charset.NewReader(bytes.NewReader(body), "text/html; charset="+strings.ToLower(result.Charset))
	if err != nil {
		return bytes.NewReader(body)
	}
	return r
}
