// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ptp

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

func parseHTML(body []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(body))
}

func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if fn(n) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if walk(c, fn) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// findAttr returns the first value of the attribute key anywhere in the document.
func findAttr(doc *html.Node, key string) string {
	var val string
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		if v, ok := attr(n, key); ok && v != "" {
			val = v
			return true
		}
		return false
	})
	return val
}

func hasLink(doc *html.Node, href string) bool {
	return walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return false
		}
		v, _ := attr(n, "href")
		return v == href
	})
}

// alertText returns the text of the first error alert box.
func alertText(doc *html.Node) string {
	var text string
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "div" {
			return false
		}
		class, _ := attr(n, "class")
		if !strings.Contains(class, "alert--error") {
			return false
		}
		text = strings.Join(strings.Fields(textContent(n)), " ")
		return true
	})
	return text
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
		return false
	})
	return sb.String()
}
