package parse

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// Outlink is a link found in a document, resolved against the document URL
type Outlink struct {
	URL        string `json:"url"`
	AnchorText string `json:"anchor_text,omitempty"`
	Rel        string `json:"rel,omitempty"`
}

// LinkExtractor finds the outlinks of an HTML document
type LinkExtractor interface {
	ExtractLinks(r io.Reader, base *url.URL) ([]Outlink, error)
}

// SimpleLinkExtractor extracts a[href] links with goquery. A robots meta tag
// with "nofollow" or "none" suppresses all links, and rel="nofollow" links
// are dropped. Only http and https links are returned, de-duplicated by
// normalized URL in document order.
type SimpleLinkExtractor struct {
	Log *logrus.Entry
}

// ExtractLinks implements LinkExtractor
func (e SimpleLinkExtractor) ExtractLinks(r io.Reader, base *url.URL) ([]Outlink, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: HTML document: %w", utils.ErrParsing, err)
	}
	return e.FromDocument(doc, base), nil
}

// FromDocument extracts links from an already parsed document
func (e SimpleLinkExtractor) FromDocument(doc *goquery.Document, base *url.URL) []Outlink {
	log := e.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if metaNofollow(doc) {
		log.Debug("Robots meta tag forbids following links")
		return nil
	}

	// <base href> overrides the document URL for relative links
	if href, ok := doc.Find("head base[href]").First().Attr("href"); ok && base != nil {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	seen := make(map[string]struct{})
	var links []Outlink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		rel, _ := sel.Attr("rel")
		if hasToken(rel, "nofollow") {
			return
		}

		var linkURL *url.URL
		var err error
		if base != nil {
			linkURL, err = base.Parse(href)
		} else {
			linkURL, err = url.Parse(href)
		}
		if err != nil {
			log.WithField("href", href).Debugf("Skipping unparseable link: %v", err)
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		linkURL.Fragment = ""

		key := DedupKey(linkURL)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		links = append(links, Outlink{
			URL:        linkURL.String(),
			AnchorText: strings.Join(strings.Fields(sel.Text()), " "),
			Rel:        strings.TrimSpace(rel),
		})
	})
	return links
}

// metaNofollow reports whether a <meta name="robots"> tag says nofollow or none
func metaNofollow(doc *goquery.Document) bool {
	found := false
	doc.Find("meta[name][content]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		name, _ := sel.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "robots") {
			return true
		}
		content, _ := sel.Attr("content")
		for _, directive := range strings.Split(content, ",") {
			switch strings.ToLower(strings.TrimSpace(directive)) {
			case "nofollow", "none":
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// hasToken reports whether the space-separated attribute value contains token
func hasToken(attr, token string) bool {
	for _, f := range strings.Fields(attr) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}
