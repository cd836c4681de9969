package mail

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxEmojiSpans caps emoji wrapping. A body that would end up with more
// spans than this keeps its emojis as plain text.
const maxEmojiSpans = 200

const emojiClass = "o_mail_emoji"

// urlPattern matches bare links in text: a scheme or www. prefix, a host
// with a top-level domain, then an optional path.
var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[-a-z0-9@:%._+~#=\x{00C0}-\x{024F}\x{1E00}-\x{1EFF}]{1,256}\.[a-z]{2,13}\b[-a-z0-9@:%_+.~#?&'$/=;\x{1E00}-\x{1EFF}]*`)

// prettyBody decorates a server-sanitized HTML body for display: emojis
// standing alone are wrapped in emoji spans, and bare URLs in text become
// links. A body with nothing to decorate is returned byte for byte.
func prettyBody(body string) string {
	if strings.TrimSpace(body) == "" {
		return body
	}

	frame := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(body), frame)
	if err != nil {
		return body
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	changed := false
	texts := textNodes(root)
	if strings.Count(body, emojiClass)+countEmojis(texts) <= maxEmojiSpans {
		for _, n := range texts {
			if wrapEmojis(n) {
				changed = true
			}
		}
	}
	for _, n := range textNodes(root) {
		if linkify(n) {
			changed = true
		}
	}
	if !changed {
		return body
	}

	var b strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return body
		}
	}
	return b.String()
}

// textNodes collects the text nodes that may be decorated, skipping the
// inside of links, emoji spans and raw text elements.
func textNodes(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			out = append(out, n)
			return
		case n.Type != html.ElementNode:
			return
		case n.DataAtom == atom.A, n.DataAtom == atom.Script, n.DataAtom == atom.Style:
			return
		case n.DataAtom == atom.Span && hasClass(n, emojiClass):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && strings.Contains(" "+a.Val+" ", " "+class+" ") {
			return true
		}
	}
	return false
}

type segment struct {
	text  string
	emoji bool
}

// splitEmojis cuts text into runs, marking whitespace-delimited tokens that
// are exactly one known emoji.
func splitEmojis(text string) []segment {
	var segs []segment
	plain := func(s string) {
		if s == "" {
			return
		}
		if n := len(segs); n > 0 && !segs[n-1].emoji {
			segs[n-1].text += s
			return
		}
		segs = append(segs, segment{text: s})
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			j := i + size
			for j < len(text) {
				r, size := utf8.DecodeRuneInString(text[j:])
				if !unicode.IsSpace(r) {
					break
				}
				j += size
			}
			plain(text[i:j])
			i = j
			continue
		}
		j := i
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		if token := text[i:j]; emojis[token] {
			segs = append(segs, segment{text: token, emoji: true})
		} else {
			plain(token)
		}
		i = j
	}
	return segs
}

func countEmojis(texts []*html.Node) int {
	n := 0
	for _, t := range texts {
		for _, s := range splitEmojis(t.Data) {
			if s.emoji {
				n++
			}
		}
	}
	return n
}

// wrapEmojis replaces n with text and emoji span nodes. It reports whether
// anything was wrapped.
func wrapEmojis(n *html.Node) bool {
	segs := splitEmojis(n.Data)
	found := false
	for _, s := range segs {
		if s.emoji {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	parent := n.Parent
	for _, s := range segs {
		if !s.emoji {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: s.text}, n)
			continue
		}
		span := &html.Node{
			Type:     html.ElementNode,
			Data:     "span",
			DataAtom: atom.Span,
			Attr:     []html.Attribute{{Key: "class", Val: emojiClass}},
		}
		span.AppendChild(&html.Node{Type: html.TextNode, Data: s.text})
		parent.InsertBefore(span, n)
	}
	parent.RemoveChild(n)
	return true
}

// linkify turns URLs in the text node n into anchors. It reports whether
// any link was made.
func linkify(n *html.Node) bool {
	matches := urlPattern.FindAllStringIndex(n.Data, -1)
	if len(matches) == 0 {
		return false
	}

	parent := n.Parent
	text := n.Data
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		end = start + len(strings.TrimRight(text[start:end], ".,;:!?'"))
		if start > last {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[last:start]}, n)
		}
		url := text[start:end]
		href := url
		if !strings.HasPrefix(strings.ToLower(url), "http://") && !strings.HasPrefix(strings.ToLower(url), "https://") {
			href = "http://" + url
		}
		a := &html.Node{
			Type:     html.ElementNode,
			Data:     "a",
			DataAtom: atom.A,
			Attr: []html.Attribute{
				{Key: "target", Val: "_blank"},
				{Key: "rel", Val: "noreferrer noopener"},
				{Key: "href", Val: href},
			},
		}
		a.AppendChild(&html.Node{Type: html.TextNode, Data: url})
		parent.InsertBefore(a, n)
		last = end
	}
	if last < len(text) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[last:]}, n)
	}
	parent.RemoveChild(n)
	return true
}
