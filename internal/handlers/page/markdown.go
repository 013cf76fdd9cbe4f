package page

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockAtoms = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Div: true, atom.Dl: true, atom.Fieldset: true, atom.Figure: true,
	atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true,
	atom.Table: true, atom.Ul: true,
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// ToMarkdown renders the main content of an HTML document as Markdown and
// returns the document title alongside it. Links and images resolve against pageURL.
func ToMarkdown(body []byte, pageURL string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := collapse(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, template, svg, iframe").Remove()

	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	base, _ := url.Parse(pageURL)
	c := &converter{base: base}
	var blocks []string
	for _, n := range root.Nodes {
		blocks = c.blocks(n, blocks)
	}
	return title, strings.Join(blocks, "\n\n"), nil
}

type converter struct {
	base *url.URL
}

func (c *converter) blocks(n *html.Node, out []string) []string {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		out = c.block(child, out)
	}
	return out
}

func (c *converter) block(n *html.Node, out []string) []string {
	switch n.Type {
	case html.TextNode:
		if text := collapse(n.Data); text != "" {
			out = append(out, text)
		}
		return out
	case html.ElementNode:
	default:
		return out
	}

	if level, ok := headingLevels[n.DataAtom]; ok {
		if text := c.inline(n); text != "" {
			out = append(out, strings.Repeat("#", level)+" "+text)
		}
		return out
	}

	switch n.DataAtom {
	case atom.Ul, atom.Ol:
		return c.list(n, out, n.DataAtom == atom.Ol)
	case atom.Pre:
		if code := strings.Trim(textContent(n), "\n"); code != "" {
			out = append(out, "```\n"+code+"\n```")
		}
		return out
	case atom.Blockquote:
		inner := c.blocks(n, nil)
		if len(inner) == 0 {
			return out
		}
		lines := strings.Split(strings.Join(inner, "\n\n"), "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight("> "+line, " ")
		}
		return append(out, strings.Join(lines, "\n"))
	case atom.Hr:
		return append(out, "---")
	case atom.Table:
		return c.table(n, out)
	case atom.Br:
		return out
	}

	if containsBlock(n) {
		return c.blocks(n, out)
	}
	if text := c.inline(n); text != "" {
		out = append(out, text)
	}
	return out
}

func (c *converter) list(n *html.Node, out []string, ordered bool) []string {
	var lines []string
	i := 0
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		i++
		marker := "-"
		if ordered {
			marker = strconv.Itoa(i) + "."
		}
		if text := c.inline(li); text != "" {
			lines = append(lines, marker+" "+text)
		}
	}
	if len(lines) == 0 {
		return out
	}
	return append(out, strings.Join(lines, "\n"))
}

func (c *converter) table(n *html.Node, out []string) []string {
	var rows [][]string
	goquery.NewDocumentFromNode(n).Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Children().Each(func(_ int, cell *goquery.Selection) {
			if goquery.NodeName(cell) == "th" || goquery.NodeName(cell) == "td" {
				cells = append(cells, strings.ReplaceAll(c.inline(cell.Get(0)), "|", `\|`))
			}
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	if len(rows) == 0 {
		return out
	}
	lines := make([]string, 0, len(rows)+1)
	for i, row := range rows {
		lines = append(lines, "| "+strings.Join(row, " | ")+" |")
		if i == 0 {
			sep := make([]string, len(row))
			for j := range sep {
				sep[j] = "---"
			}
			lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
		}
	}
	return append(out, strings.Join(lines, "\n"))
}

func (c *converter) inline(n *html.Node) string {
	var sb strings.Builder
	c.writeInline(n, &sb)
	return collapse(sb.String())
}

func (c *converter) writeInline(n *html.Node, sb *strings.Builder) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case html.TextNode:
			sb.WriteString(child.Data)
		case html.ElementNode:
			c.writeElement(child, sb)
		}
	}
}

func (c *converter) writeElement(n *html.Node, sb *strings.Builder) {
	switch n.DataAtom {
	case atom.A:
		text := c.inline(n)
		href := c.resolve(attr(n, "href"))
		if text == "" || href == "" {
			sb.WriteString(text)
			return
		}
		fmt.Fprintf(sb, "[%s](%s)", text, href)
	case atom.Strong, atom.B:
		wrap(sb, "**", c.inline(n))
	case atom.Em, atom.I:
		wrap(sb, "*", c.inline(n))
	case atom.Code:
		wrap(sb, "`", c.inline(n))
	case atom.Img:
		if src := c.resolve(attr(n, "src")); src != "" {
			fmt.Fprintf(sb, "![%s](%s)", collapse(attr(n, "alt")), src)
		}
	case atom.Br:
		sb.WriteString(" ")
	default:
		c.writeInline(n, sb)
	}
}

func (c *converter) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if c.base == nil {
		return u.String()
	}
	return c.base.ResolveReference(u).String()
}

func wrap(sb *strings.Builder, mark, text string) {
	if text == "" {
		return
	}
	sb.WriteString(mark + text + mark)
}

func containsBlock(n *html.Node) bool {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		if blockAtoms[child.DataAtom] || containsBlock(child) {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
