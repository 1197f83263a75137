package mimemsg

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/goliatone/go-ticketmail/core"
)

// Compose renders msg as a single text/html part. Message-ID, In-Reply-To,
// References and msg.Headers keep the exact field names used here.
func Compose(msg core.OutgoingMessage, now time.Time) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("mimemsg: at least one recipient is required")
	}

	var h mail.Header
	h.SetDate(now)
	if strings.TrimSpace(msg.From.Address) != "" {
		h.SetAddressList("From", []*mail.Address{{Name: msg.From.Name, Address: msg.From.Address}})
	}
	h.SetAddressList("To", recipientList(msg.To))
	h.SetSubject(cleanHeaderValue(msg.Subject))

	raw := []struct{ key, value string }{
		{"Message-ID", msg.MessageID},
		{"In-Reply-To", msg.InReplyTo},
		{"References", strings.Join(msg.References, " ")},
	}
	for _, field := range raw {
		if err := addRaw(&h, field.key, field.value); err != nil {
			return nil, err
		}
	}
	keys := make([]string, 0, len(msg.Headers))
	for key := range msg.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := addRaw(&h, key, msg.Headers[key]); err != nil {
			return nil, err
		}
	}

	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("mimemsg: create writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.HTMLBody); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("mimemsg: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("mimemsg: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Recipients returns the bare addresses of to, as an SMTP envelope needs them.
func Recipients(to []string) []string {
	out := make([]string, 0, len(to))
	for _, address := range recipientList(to) {
		out = append(out, address.Address)
	}
	return out
}

func recipientList(to []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(to))
	for _, recipient := range to {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		parsed, err := mail.ParseAddress(recipient)
		if err != nil {
			out = append(out, &mail.Address{Address: recipient})
			continue
		}
		out = append(out, parsed)
	}
	return out
}

func addRaw(h *mail.Header, key string, value string) error {
	key = strings.TrimSpace(key)
	value = cleanHeaderValue(value)
	if key == "" || value == "" {
		return nil
	}
	if !validHeaderName(key) {
		return fmt.Errorf("mimemsg: invalid header name %q", key)
	}
	h.AddRaw([]byte(key + ": " + value + "\r\n"))
	return nil
}

// validHeaderName accepts the printable ASCII field-name set of RFC 5322.
func validHeaderName(key string) bool {
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c <= ' ' || c >= 0x7f || c == ':' {
			return false
		}
	}
	return true
}

func cleanHeaderValue(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}
