package presenter

import (
	"html"
	"unicode/utf8"
)

// maxMessageRunes is the Bot API limit for one text message.
const maxMessageRunes = 4096

const emptyText = "(empty notification)"

// FormatText renders content as a plain-text message.
func FormatText(c Content) string {
	switch {
	case c.Title != "" && c.Body != "":
		return c.Title + "\n" + c.Body
	case c.Title != "":
		return c.Title
	case c.Body != "":
		return c.Body
	default:
		return emptyText
	}
}

// FormatHTML renders content for the Bot API HTML parse mode: a bold title
// line over an escaped body. Only the body is truncated, so tags stay balanced.
func FormatHTML(c Content) string {
	title := ""
	if c.Title != "" {
		title = "<b>" + html.EscapeString(truncRunes(c.Title, 256)) + "</b>"
	}
	if c.Body == "" {
		if title == "" {
			return html.EscapeString(emptyText)
		}
		return title
	}
	prefix := ""
	if title != "" {
		prefix = title + "\n"
	}
	budget := maxMessageRunes - utf8.RuneCountInString(prefix)
	body := html.EscapeString(c.Body)
	for utf8.RuneCountInString(body) > budget {
		// Escaping grows the text; shrink the source until the escaped form fits.
		over := utf8.RuneCountInString(body) - budget
		src := []rune(c.Body)
		keep := len(src) - over - 1
		if keep < 0 {
			keep = 0
		}
		c.Body = string(src[:keep])
		body = html.EscapeString(c.Body) + "…"
	}
	return prefix + body
}

// truncRunes returns s cut to at most n runes, with an ellipsis when cut.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
