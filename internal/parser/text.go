package parser

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// blockTags start a new line in the flattened text.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"header": true, "footer": true, "nav": true, "aside": true, "ul": true,
	"ol": true, "dl": true, "dt": true, "dd": true, "table": true, "thead": true,
	"tbody": true, "blockquote": true, "hr": true, "form": true, "details": true,
	"summary": true, "figure": true,
}

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "svg": true,
}

// HTMLToText flattens an HTML document into markdown-flavoured text so the
// document parser can read rendered API documentation. Headings become "#"
// lines, list items become "- " bullets, table rows become pipe rows and
// <pre> blocks become fenced blocks.
func HTMLToText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)

	var (
		b       strings.Builder
		skip    int
		pre     int
		cellPos int
	)
	newline := func() {
		s := b.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return normalizeText(b.String()), nil
			}
			return "", z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skipTags[tag]:
				skip++
			case tag == "br":
				b.WriteByte('\n')
			case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
				newline()
				b.WriteString(strings.Repeat("#", int(tag[1]-'0')) + " ")
			case tag == "li":
				newline()
				b.WriteString("- ")
			case tag == "tr":
				newline()
				b.WriteString("|")
				cellPos = 0
			case tag == "td" || tag == "th":
				cellPos++
				b.WriteByte(' ')
			case tag == "pre":
				newline()
				b.WriteString("```\n")
				pre++
			case tag == "strong" || tag == "b":
				b.WriteString("**")
			case tag == "code" && pre == 0:
				b.WriteByte('`')
			case blockTags[tag]:
				newline()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skipTags[tag]:
				if skip > 0 {
					skip--
				}
			case tag == "td" || tag == "th":
				b.WriteString(" |")
			case tag == "tr":
				if cellPos == 0 {
					b.WriteString("|")
				}
				b.WriteByte('\n')
			case tag == "pre":
				if pre > 0 {
					pre--
				}
				newline()
				b.WriteString("```\n")
			case tag == "strong" || tag == "b":
				b.WriteString("**")
			case tag == "code" && pre == 0:
				b.WriteByte('`')
			case blockTags[tag] || tag == "li" || (len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'):
				newline()
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			if pre > 0 {
				b.WriteString(text)
				continue
			}
			text = strings.Join(strings.Fields(text), " ")
			if text == "" {
				continue
			}
			s := b.String()
			if s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") &&
				!strings.HasSuffix(s, "**") && !strings.HasSuffix(s, "`") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
}

// normalizeText trims trailing spaces and collapses runs of blank lines.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
