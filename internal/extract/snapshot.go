package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Snapshot is a parsed copy of a page's rendered markup. The same tree backs
// both the goquery document and the XPath queries.
type Snapshot struct {
	Markup string
	root   *html.Node
	doc    *goquery.Document
}

// NewSnapshot parses rendered markup.
func NewSnapshot(markup string) (*Snapshot, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Markup: markup,
		root:   root,
		doc:    goquery.NewDocumentFromNode(root),
	}, nil
}

// Document returns the goquery view of the snapshot.
func (s *Snapshot) Document() *goquery.Document {
	return s.doc
}

// Root returns the parsed node tree.
func (s *Snapshot) Root() *html.Node {
	return s.root
}

// hiddenTags never contribute to visible text.
var hiddenTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// visibleText returns the whitespace-normalized text a user would see inside
// n, skipping script and style content.
func visibleText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if hiddenTags[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// nextElementSibling skips text and comment nodes.
func nextElementSibling(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// occurrences returns the byte offset of every match of needle in s,
// overlapping matches included.
func occurrences(s, needle string) []int {
	if needle == "" {
		return nil
	}
	var out []int
	start := 0
	for start <= len(s) {
		i := strings.Index(s[start:], needle)
		if i < 0 {
			break
		}
		pos := start + i
		out = append(out, pos)
		start = pos + 1
	}
	return out
}

// window returns up to radius characters on each side of the byte offset
// pos. Offsets are counted in runes so accented names never split a
// character.
func window(s string, pos, radius int) string {
	start := pos
	for n := 0; n < radius && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(s[:start])
		start -= size
	}
	end := pos
	for n := 0; n < radius && end < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	return s[start:end]
}

// flatten turns a multi-line window into a single trimmed line.
func flatten(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}
