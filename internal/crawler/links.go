package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// URL paths with these extensions are treated as files, not pages.
var skippedExtensions = []string{".pdf", ".doc", ".docx", ".jpg", ".png", ".gif", ".zip"}

// extractLinks returns absolute, deduplicated links from the page that stay
// within the allowed domains and look like crawlable pages.
func extractLinks(body []byte, pageURL string, allowed map[string]struct{}) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if link, ok := resolveLink(base, attr.Val, allowed); ok {
					if _, dup := seen[link]; !dup {
						seen[link] = struct{}{}
						links = append(links, link)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links
}

func resolveLink(base *url.URL, href string, allowed map[string]struct{}) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if _, ok := allowed[resolved.Host]; !ok {
		return "", false
	}

	lower := strings.ToLower(resolved.Path)
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return "", false
		}
	}

	resolved.Fragment = ""
	return resolved.String(), true
}
