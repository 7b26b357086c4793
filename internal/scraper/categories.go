// Package scraper turns the retailer's pages into catalog rows: the
// categories index into listing URLs, listing pages into product IDs, and
// product detail pages into full products with parsed nutrition.
package scraper

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"cravehy/internal/types"
)

// ParseCategories extracts subcategory listing links from the rendered
// categories page. Links look like /cn/<category>/<subcategory>/cid/<id>
// and are absolutized against baseURL. Duplicate URLs are dropped.
func ParseCategories(pageHTML, baseURL string) ([]types.Category, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]bool)
	var cats []types.Category

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attrValue(n, "href")
			if strings.HasPrefix(href, "/cn/") {
				ref, err := url.Parse(href)
				if err == nil {
					abs := base.ResolveReference(ref).String()
					if !seen[abs] {
						seen[abs] = true
						cats = append(cats, types.Category{
							Name: nodeText(n),
							URL:  abs,
						})
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	sort.Slice(cats, func(i, j int) bool { return cats[i].URL < cats[j].URL })
	return cats, nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nodeText collects and normalizes the text content under a node.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
