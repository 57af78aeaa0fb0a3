package skills

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
)

// RenderCatalog renders the skill library as a single HTML document
// for the catalog endpoint. Each skill's markdown body is converted
// with goldmark; malformed bodies fall back to preformatted text.
func RenderCatalog(skills []Skill) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Skills</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48em; margin: 2em auto;">
<h1>Skills</h1>
`)
	if len(skills) == 0 {
		b.WriteString("<p>No skills installed.</p>\n")
	}
	for _, s := range skills {
		fmt.Fprintf(&b, "<section>\n<h2>%s</h2>\n", html.EscapeString(s.Name))
		if s.Description != "" {
			fmt.Fprintf(&b, "<p><em>%s</em></p>\n", html.EscapeString(s.Description))
		}
		if s.Always() {
			b.WriteString("<p><code>activation: always</code></p>\n")
		}
		var body bytes.Buffer
		if err := goldmark.Convert([]byte(s.Body), &body); err != nil {
			fmt.Fprintf(&b, "<pre>%s</pre>\n", html.EscapeString(s.Body))
		} else {
			b.Write(body.Bytes())
		}
		b.WriteString("</section>\n")
	}
	b.WriteString("</body></html>\n")
	return b.String()
}
