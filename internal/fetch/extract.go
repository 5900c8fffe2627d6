package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// challengeTitles are document titles served by the site's bot
// protection instead of the requested page.
var challengeTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
}

// Title returns the document's <title> text with whitespace collapsed.
// Empty if there is none.
func Title(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	t := findElement(doc, atom.Title)
	if t == nil {
		return ""
	}
	var b strings.Builder
	for c := t.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// IsChallenge reports whether markup is a bot-protection interstitial
// rather than the requested page.
func IsChallenge(markup string) bool {
	title := strings.ToLower(Title(markup))
	for _, t := range challengeTitles {
		if strings.HasPrefix(title, t) {
			return true
		}
	}
	return false
}

// findElement returns the first element with tag a, depth first.
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
