package transcript

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

type Speaker string

const (
	SpeakerUser Speaker = "User"
	SpeakerBot  Speaker = "Bot"
)

// Entry is one conversation turn.
type Entry struct {
	Speaker Speaker
	Text    string
}

func (e Entry) line() string {
	return string(e.Speaker) + ": " + e.Text + "\n"
}

// Store is the rolling conversation context sent to the remote service on
// session (re)negotiation. It is bounded by rendered length in characters;
// when the bound is exceeded the oldest entries are evicted first.
type Store struct {
	mu       sync.Mutex
	entries  []Entry
	chars    int
	maxChars int
}

func NewStore(maxChars int) *Store {
	return &Store{
		maxChars: maxChars,
	}
}

// Append adds one turn to the context. Empty text is ignored.
func (s *Store) Append(speaker Speaker, text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{Speaker: speaker, Text: text}
	s.entries = append(s.entries, entry)
	s.chars += len(entry.line())

	for s.chars > s.maxChars && len(s.entries) > 1 {
		s.chars -= len(s.entries[0].line())
		s.entries = s.entries[1:]
	}

	// A single oversized turn is trimmed from its oldest end
	if s.chars > s.maxChars && len(s.entries) == 1 {
		excess := s.chars - s.maxChars
		e := s.entries[0]
		if excess < len(e.Text) {
			// Never cut a multi-byte rune in half
			for excess < len(e.Text) && !utf8.RuneStart(e.Text[excess]) {
				excess++
			}
			e.Text = e.Text[excess:]
		} else {
			e.Text = ""
		}
		s.entries[0] = e
		s.chars = len(e.line())
	}

	log.Debug().
		Str("speaker", string(speaker)).
		Int("entries", len(s.entries)).
		Int("chars", s.chars).
		Msg("Appended transcript entry")
}

// Entries returns a copy of the current turns, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Render returns the context as speaker-prefixed lines for embedding in
// session settings.
func (s *Store) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, e := range s.entries {
		b.WriteString(e.line())
	}
	return b.String()
}

// Chars returns the rendered length of the stored context.
func (s *Store) Chars() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
