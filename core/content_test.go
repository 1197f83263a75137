package core

import (
	"strings"
	"testing"
)

func TestSanitizeHTML_RemovesActiveContent(t *testing.T) {
	input := `<p onclick="steal()">Hi</p><script>alert(1)</script><iframe src="https://evil.example"></iframe>` +
		`<object data="x.swf"></object><embed src="x.swf"><a href="javascript:alert(1)">link</a><a href="vbscript:msgbox">vb</a>` +
		`<img src="cid:logo@mail">`
	got := SanitizeHTML(input)
	for _, forbidden := range []string{"<script", "alert(1)", "<iframe", "<object", "<embed", "onclick", "javascript:", "vbscript:"} {
		if strings.Contains(strings.ToLower(got), forbidden) {
			t.Fatalf("expected %q removed, got %q", forbidden, got)
		}
	}
	if !strings.Contains(got, "<p>Hi</p>") {
		t.Fatalf("expected safe markup kept, got %q", got)
	}
	if !strings.Contains(got, `src="cid:logo@mail"`) {
		t.Fatalf("expected inline cid images kept, got %q", got)
	}
}

func TestHTMLToText(t *testing.T) {
	input := `<html><head><title>ignored</title><style>p{color:red}</style></head>` +
		`<body><p>Hello&nbsp;&amp; welcome</p><div>Line   two</div><br><ul><li>one</li><li>two</li></ul></body></html>`
	got := HTMLToText(input)
	want := "Hello & welcome\n\nLine two\n\none\n\ntwo"
	if got != want {
		t.Fatalf("unexpected text\n got: %q\nwant: %q", got, want)
	}
	if HTMLToText("   ") != "" {
		t.Fatalf("expected empty text for blank html")
	}
}

func TestMessagePlainText_FallsBackToTextBody(t *testing.T) {
	got := MessagePlainText(Message{BodyText: "first line\r\n\r\n\r\n\r\nsecond line"})
	if got != "first line\n\nsecond line" {
		t.Fatalf("unexpected normalized text %q", got)
	}
}

func TestTruncate_IsRuneSafe(t *testing.T) {
	if got := Truncate("héllo wörld", 5); got != "héllo" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected short text unchanged, got %q", got)
	}
}

func TestTicketNumberFromSubject(t *testing.T) {
	number, ok := TicketNumberFromSubject("RE: [Ticket #4711] Printer")
	if !ok || number != "4711" {
		t.Fatalf("expected 4711, got %q %v", number, ok)
	}
	if _, ok := TicketNumberFromSubject("Ticket 4711"); ok {
		t.Fatalf("expected no match without the bracketed tag")
	}
}

func TestIsAutoResponse(t *testing.T) {
	cases := []struct {
		headers map[string]string
		want    bool
	}{
		{headers: map[string]string{"Auto-Submitted": "auto-replied"}, want: true},
		{headers: map[string]string{"Auto-Submitted": "no"}, want: false},
		{headers: map[string]string{"precedence": "bulk"}, want: true},
		{headers: map[string]string{"X-Autoreply": "yes"}, want: true},
		{headers: nil, want: false},
	}
	for _, tc := range cases {
		if got := isAutoResponse(Message{Headers: tc.headers}); got != tc.want {
			t.Fatalf("headers %#v: got %v want %v", tc.headers, got, tc.want)
		}
	}
}

func TestReferencedMessageIDs_Order(t *testing.T) {
	got := referencedMessageIDs(Message{
		InReplyTo:  "<c@x>",
		References: []string{"<a@x>", "<b@x>", "<c@x>"},
	})
	want := []string{"<c@x>", "<b@x>", "<a@x>"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
