package inbox

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// newMessagePolicy returns the policy applied to message HTML before it is
// handed to a display surface.
func newMessagePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	p.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("strong", "em", "u", "s", "code", "pre", "blockquote")
	p.AllowElements("table", "thead", "tbody", "tr", "th", "td")

	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("style").OnElements("span", "div", "p", "td")
	p.AllowAttrs("align", "valign", "bgcolor").OnElements("table", "tr", "td", "th")

	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

var stripPolicy = bluemonday.StrictPolicy()

// PlainText strips all markup from s and collapses blank runs, for
// terminals and previews.
func PlainText(s string) string {
	text := html.UnescapeString(stripPolicy.Sanitize(s))
	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
