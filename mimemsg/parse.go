package mimemsg

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/goliatone/go-ticketmail/core"
)

// Parsed is the subset of a raw message the ingestion engine consumes.
type Parsed struct {
	Subject           string
	From              core.EmailAddress
	To                []core.EmailAddress
	InternetMessageID string
	InReplyTo         string
	References        []string
	Date              time.Time
	HTML              string
	Text              string
	Headers           map[string]string
}

// Parse reads the header and the first text/plain and text/html inline parts
// of raw. Attachments are ignored.
func Parse(raw []byte) (Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Parsed{}, fmt.Errorf("mimemsg: read message: %w", err)
	}
	defer func() { _ = mr.Close() }()

	out := Parsed{Headers: map[string]string{}}
	header := mr.Header
	out.Subject, _ = header.Subject()
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		out.From = core.EmailAddress{Address: from[0].Address, Name: from[0].Name}
	}
	if to, err := header.AddressList("To"); err == nil {
		for _, address := range to {
			out.To = append(out.To, core.EmailAddress{Address: address.Address, Name: address.Name})
		}
	}
	if id, err := header.MessageID(); err == nil {
		out.InternetMessageID = Bracket(id)
	}
	if ids, err := header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		out.InReplyTo = Bracket(ids[0])
	}
	if ids, err := header.MsgIDList("References"); err == nil {
		for _, id := range ids {
			out.References = append(out.References, Bracket(id))
		}
	}
	if date, err := header.Date(); err == nil {
		out.Date = date.UTC()
	}
	fields := header.Fields()
	for fields.Next() {
		if _, exists := out.Headers[fields.Key()]; !exists {
			out.Headers[fields.Key()] = fields.Value()
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// keep whatever was read before the malformed part
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/html") && out.HTML == "":
			out.HTML = string(body)
		case strings.HasPrefix(contentType, "text/plain") && out.Text == "":
			out.Text = string(body)
		}
	}
	return out, nil
}

// Bracket wraps a message id in angle brackets unless it already has them.
func Bracket(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		return id
	}
	return "<" + strings.Trim(id, "<>") + ">"
}

// SplitMessageIDs splits a References style header into bracketed ids.
func SplitMessageIDs(value string) []string {
	out := []string{}
	for _, field := range strings.Fields(value) {
		if id := Bracket(field); id != "" {
			out = append(out, id)
		}
	}
	return out
}
