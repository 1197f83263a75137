package core

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultFallbackTitle  = "(No Subject)"
	defaultDetailMaxChars = 1000
)

var (
	notePolicy       = newNotePolicy()
	whitespaceRun    = regexp.MustCompile(`[ \t\f\v]+`)
	blankLineRun     = regexp.MustCompile(`\n{3,}`)
	ticketTagSubject = regexp.MustCompile(`\[Ticket #(\d+)\]`)
)

func newNotePolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowURLSchemes("http", "https", "mailto", "cid")
	return policy
}

// SanitizeHTML removes active content such as script, iframe, object and
// embed elements and javascript: or vbscript: URIs.
func SanitizeHTML(body string) string {
	return strings.TrimSpace(notePolicy.Sanitize(body))
}

// HTMLToText strips markup, decodes entities and skips script and style content.
func HTMLToText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return normalizeText(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := atom.Lookup(name)
			if tag == atom.Script || tag == atom.Style || tag == atom.Head {
				skipDepth++
				continue
			}
			if breaksLine(tag) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := atom.Lookup(name)
			if (tag == atom.Script || tag == atom.Style || tag == atom.Head) && skipDepth > 0 {
				skipDepth--
				continue
			}
			if breaksLine(tag) {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			b.Write(tokenizer.Text())
		}
	}
}

func breaksLine(tag atom.Atom) bool {
	switch tag {
	case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Blockquote:
		return true
	default:
		return false
	}
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Truncate cuts text to at most max characters without splitting a rune.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}

// MessagePlainText converts the HTML body, falling back to the text part.
func MessagePlainText(msg Message) string {
	if strings.TrimSpace(msg.BodyHTML) != "" {
		return HTMLToText(msg.BodyHTML)
	}
	return normalizeText(msg.BodyText)
}

// TicketNumberFromSubject extracts N from a "[Ticket #N]" tag.
func TicketNumberFromSubject(subject string) (string, bool) {
	match := ticketTagSubject.FindStringSubmatch(subject)
	if len(match) != 2 {
		return "", false
	}
	return match[1], true
}
