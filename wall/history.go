package wall

import (
	"strings"
	"sync"
)

// History is the page's navigable address state. Fragments include the
// leading '#'; the empty fragment is the clean home URL.
type History interface {
	Fragment() string
	Push(fragment string)
	Replace(fragment string)
}

// HistoryOp is the kind of the most recent history write.
type HistoryOp string

const (
	HistoryNone    HistoryOp = ""
	HistoryPush    HistoryOp = "push"
	HistoryReplace HistoryOp = "replace"
)

// MemoryHistory is an in-memory browser history: a list of entries with a
// cursor. Pushing drops any forward entries.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []string
	cursor  int
	lastOp  HistoryOp
	seq     uint64
}

// NewMemoryHistory starts a history at fragment.
func NewMemoryHistory(fragment string) *MemoryHistory {
	return &MemoryHistory{entries: []string{fragment}}
}

func (h *MemoryHistory) Fragment() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.cursor]
}

func (h *MemoryHistory) Push(fragment string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.cursor+1], fragment)
	h.cursor++
	h.lastOp = HistoryPush
	h.seq++
}

func (h *MemoryHistory) Replace(fragment string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.cursor] = fragment
	h.lastOp = HistoryReplace
	h.seq++
}

// Back moves one entry back and returns the fragment now current.
func (h *MemoryHistory) Back() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor == 0 {
		return h.entries[0], false
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// Forward moves one entry forward and returns the fragment now current.
func (h *MemoryHistory) Forward() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor == len(h.entries)-1 {
		return h.entries[h.cursor], false
	}
	h.cursor++
	return h.entries[h.cursor], true
}

// Len is the number of entries.
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// LastWrite returns the kind and sequence number of the latest Push/Replace.
func (h *MemoryHistory) LastWrite() (HistoryOp, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastOp, h.seq
}

// EncodeFragment returns the address fragment for t.
func EncodeFragment(t Target) string {
	return "#" + t.Platform.String() + "/" + t.ID
}

// ParseFragment decodes an address fragment. Anything malformed or partial
// yields false; a "?query" appended by the browser is ignored.
func ParseFragment(fragment string) (Target, bool) {
	s := strings.TrimPrefix(fragment, "#")
	prefix, rest, ok := strings.Cut(s, "/")
	if !ok {
		return Target{}, false
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	p, ok := ParsePlatform(prefix)
	if !ok {
		return Target{}, false
	}
	switch p {
	case PlatformTwitch:
		login, err := ValidateChannel(rest)
		if err != nil {
			return Target{}, false
		}
		return Channel(login), true
	default:
		id := strings.TrimSpace(rest)
		if !IsVideoID(id) {
			return Target{}, false
		}
		return Video(id), true
	}
}

// Synchronizer mirrors the displayed Target into History. It is not safe for
// concurrent use; the Manager owns it.
type Synchronizer struct {
	home      Target
	history   History
	last      Target
	listeners []func(t Target, fromNavigation bool)
}

// NewSynchronizer returns a Synchronizer whose last known target is whatever
// the history currently encodes, or home.
func NewSynchronizer(home Target, history History) *Synchronizer {
	s := &Synchronizer{home: home, history: history, last: home}
	if t, ok := s.Current(); ok {
		s.last = t
	}
	return s
}

// OnChange registers fn for target changes. fromNavigation is true when the
// change came from the browser and still has to be applied.
func (s *Synchronizer) OnChange(fn func(t Target, fromNavigation bool)) {
	s.listeners = append(s.listeners, fn)
}

// Home returns the home target.
func (s *Synchronizer) Home() Target { return s.home }

// Last returns the last known target.
func (s *Synchronizer) Last() Target { return s.last }

// Current parses the target encoded in the history, if any.
func (s *Synchronizer) Current() (Target, bool) {
	return ParseFragment(s.history.Fragment())
}

// SetTarget writes t into the history. The home target is written as a clean
// URL. push selects a new entry over replacing the current one.
func (s *Synchronizer) SetTarget(t Target, push bool) {
	fragment := ""
	if t != s.home {
		fragment = EncodeFragment(t)
	}
	if s.history.Fragment() != fragment {
		if push {
			s.history.Push(fragment)
		} else {
			s.history.Replace(fragment)
		}
	}
	if s.last == t {
		return
	}
	s.last = t
	s.emit(t, false)
}

// Navigated handles a browser back/forward to fragment. It reports the target
// and whether it differs from the last known one; only then are listeners
// told, which keeps our own writes from echoing back as navigation.
func (s *Synchronizer) Navigated(fragment string) (Target, bool) {
	t, ok := ParseFragment(fragment)
	if !ok {
		// An unreadable fragment shows home, so the address shows it too.
		t, fragment = s.home, ""
	}
	if s.history.Fragment() != fragment {
		s.history.Replace(fragment)
	}
	if t == s.last {
		return t, false
	}
	s.last = t
	s.emit(t, true)
	return t, true
}

func (s *Synchronizer) emit(t Target, fromNavigation bool) {
	for _, fn := range s.listeners {
		fn(t, fromNavigation)
	}
}
