package screen

import "testing"

func TestStripANSI(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"a\r\nb\tc", "a\nb\tc"},
		{"\x1b]0;title\x07visible", "visible"},
		{"\x1b[?1049h\x1b[Hfull\x1b[?1049l", "full"},
		{"bell\x07\x08", "bell"},
		{"\x1b[", ""},
		{"café", "café"},
	}
	for _, tc := range cases {
		if got := StripANSI([]byte(tc.in)); got != tc.want {
			t.Errorf("StripANSI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFilterUnsupported(t *testing.T) {
	in := "a\x1b[?2026hb\x1b[<uc\x1b[?2026ld\x1b[?25l"
	if got := string(FilterUnsupported([]byte(in))); got != "abcd\x1b[?25l" {
		t.Errorf("unexpected filtered output %q", got)
	}

	plain := []byte("nothing to do")
	if got := FilterUnsupported(plain); &got[0] != &plain[0] {
		t.Error("expected input returned unchanged when nothing matches")
	}
}

func TestVisibleText(t *testing.T) {
	got := VisibleText([]string{"", "  hello  ", "", "world", "   "})
	if got != "  hello\nworld" {
		t.Errorf("unexpected visible text %q", got)
	}
	if VisibleText(nil) != "" {
		t.Error("expected empty text for no lines")
	}
}
