package transcript

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStoreAppendAndRender(t *testing.T) {
	s := NewStore(1280)

	s.Append(SpeakerUser, "hello there")
	s.Append(SpeakerBot, "hi, how can I help?")

	want := "User: hello there\nBot: hi, how can I help?\n"
	if got := s.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestStoreIgnoresEmptyText(t *testing.T) {
	s := NewStore(1280)
	s.Append(SpeakerUser, "")
	if s.Len() != 0 {
		t.Errorf("Len() = %d after empty append, want 0", s.Len())
	}
}

func TestStoreEvictsOldestFirst(t *testing.T) {
	// Each entry renders as "User: xxxx\n" = 11 chars
	s := NewStore(30)

	s.Append(SpeakerUser, "aaaa")
	s.Append(SpeakerUser, "bbbb")
	s.Append(SpeakerUser, "cccc") // 33 chars, oldest must go

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("Len() = %d, want 2", len(entries))
	}
	if entries[0].Text != "bbbb" || entries[1].Text != "cccc" {
		t.Errorf("entries = %v, want bbbb then cccc", entries)
	}
	if s.Chars() > 30 {
		t.Errorf("Chars() = %d, exceeds bound 30", s.Chars())
	}
}

func TestStoreBoundHoldsUnderAnySequence(t *testing.T) {
	s := NewStore(100)

	texts := []string{"a", strings.Repeat("b", 40), strings.Repeat("c", 40),
		strings.Repeat("d", 90), "e", strings.Repeat("f", 500)}
	for i, text := range texts {
		speaker := SpeakerUser
		if i%2 == 1 {
			speaker = SpeakerBot
		}
		s.Append(speaker, text)
		if s.Chars() > 100 {
			t.Fatalf("Chars() = %d after append %d, exceeds bound", s.Chars(), i)
		}
	}
}

func TestStoreTrimsSingleOversizedEntry(t *testing.T) {
	s := NewStore(20)
	s.Append(SpeakerBot, strings.Repeat("x", 100))

	if s.Chars() > 20 {
		t.Errorf("Chars() = %d, exceeds bound 20", s.Chars())
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	// The surviving tail must come from the newest end of the text
	if got := s.Entries()[0].Text; !strings.HasSuffix("Bot: "+got+"\n", got+"\n") || !strings.Contains(got, "x") {
		t.Errorf("unexpected trimmed text %q", got)
	}
}

func TestStoreTrimKeepsValidUTF8(t *testing.T) {
	// 70 three-byte runes; the naive byte offset falls mid-rune
	s := NewStore(20)
	s.Append(SpeakerBot, strings.Repeat("语", 70))

	rendered := s.Render()
	if !utf8.ValidString(rendered) {
		t.Errorf("Render() produced invalid UTF-8: %q", rendered)
	}
	if s.Chars() > 20 {
		t.Errorf("Chars() = %d, exceeds bound 20", s.Chars())
	}
}
