package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// droppedTags are elements whose subtrees carry no readable content.
// Chrome like nav bars and footers goes too: fetch_url mostly pulls
// documentation pages, where the article body is what the model needs.
var droppedTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
}

// blockTags start a new paragraph in the extracted text.
var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figure: true, atom.Figcaption: true, atom.Details: true,
	atom.Summary: true, atom.Hr: true,
}

// extractHTML parses raw HTML and returns the page title and its
// readable text. Parse failures fall back to tokenizer-based tag
// stripping so the tool still returns something usable.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", stripTags(raw)
	}

	var ex extractor
	ex.walk(doc, false)
	return ex.title, collapseBlankLines(ex.out.String())
}

// extractor accumulates readable text during a single DOM walk,
// picking up the first <title> along the way. Text inside <pre> keeps
// its original whitespace; documentation pages carry code samples the
// model needs verbatim.
type extractor struct {
	title string
	out   strings.Builder
}

func (ex *extractor) walk(n *html.Node, inPre bool) {
	switch n.Type {
	case html.ElementNode:
		if n.DataAtom == atom.Title && ex.title == "" {
			ex.title = strings.TrimSpace(rawText(n))
			return
		}
		if droppedTags[n.DataAtom] {
			return
		}
		if blockTags[n.DataAtom] && ex.out.Len() > 0 {
			ex.out.WriteString("\n\n")
		}
		if n.DataAtom == atom.Pre {
			inPre = true
		}
	case html.TextNode:
		if inPre {
			ex.out.WriteString(n.Data)
			return
		}
		if t := strings.TrimSpace(n.Data); t != "" {
			ex.out.WriteString(t)
			ex.out.WriteByte(' ')
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		ex.walk(c, inPre)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		ex.out.WriteByte('\n')
	}
}

// rawText concatenates every text node under n.
func rawText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(rawText(c))
	}
	return b.String()
}

// collapseBlankLines squeezes intra-line whitespace runs and drops
// consecutive blank lines from the extracted text.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := lines[:0]
	blank := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// stripTags drops markup with the tokenizer when full parsing fails.
func stripTags(s string) string {
	tk := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tk.Next() {
		case html.ErrorToken:
			// EOF or a malformed document; partial output is still
			// better than none.
			return collapseBlankLines(b.String())
		case html.TextToken:
			b.WriteString(tk.Token().Data)
			b.WriteByte(' ')
		}
	}
}
