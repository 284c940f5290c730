package session

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Memory is the per-session record shared by the pipeline workers. Each field
// has one logical writer (the STT worker owns the cumulative transcript and
// cursor, the commit router owns the segment lists and dedup hash, the
// translation worker owns the translating flag, the summary worker owns the
// summary, the supervisor owns the lifecycle flags); the mutex exists so that
// the many readers observe consistent values.
type Memory struct {
	mu sync.RWMutex

	// Identity and languages, written once during init.
	titleID     string
	titleName   string
	clientClass string
	sttLang     string
	srcLang     string
	tgtLang     string

	// Persisted context loaded at init.
	persistedSource string
	persistedTarget string
	contextTail     string

	// Runtime buffers.
	sttCumulative  string
	committedLen   int
	lastSTTUpdate  time.Time
	srcSegments    []string
	tgtSegments    []string
	summary        string
	lastCommitHash uint64

	translating bool
	stopping    bool
	stopped     bool
}

// Snapshot is a consistent copy of the fields the finalizer needs.
type Snapshot struct {
	TitleID         string
	TitleName       string
	STTLang         string
	SrcLang         string
	TgtLang         string
	PersistedSource string
	PersistedTarget string
	ContextTail     string
	Cumulative      string
	SrcSegments     []string
	TgtSegments     []string
	Summary         string
}

// Init populates identity, languages, and persisted context. Resets all
// runtime buffers.
func (m *Memory) Init(titleID, titleName, sttLang, srcLang, tgtLang, clientClass string, persistedSource, persistedTarget, contextTail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titleID = titleID
	m.titleName = titleName
	m.clientClass = clientClass
	m.sttLang = sttLang
	m.srcLang = srcLang
	m.tgtLang = tgtLang
	m.persistedSource = persistedSource
	m.persistedTarget = persistedTarget
	m.contextTail = contextTail
	m.sttCumulative = ""
	m.committedLen = 0
	m.lastSTTUpdate = time.Now()
	m.srcSegments = nil
	m.tgtSegments = nil
	m.summary = ""
	m.lastCommitHash = 0
	m.translating = false
}

// SetCumulative replaces the cumulative transcript verbatim and re-normalizes
// the commit cursor against the new text. It reports whether the transcript
// actually changed; the update timestamp only refreshes on change, which is
// what lets the pause-commit path detect that the speaker has gone quiet.
func (m *Memory) SetCumulative(full string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if full == m.sttCumulative {
		return false
	}
	m.lastSTTUpdate = time.Now()
	m.sttCumulative = full
	m.committedLen = safeCursor(full, m.committedLen)
	return true
}

// Draft returns the uncommitted tail of the cumulative transcript.
func (m *Memory) Draft() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sttCumulative[m.committedLen:]
}

// AdvanceCursor moves the commit cursor forward by n bytes (relative to the
// current draft start) and re-normalizes it to a word boundary.
func (m *Memory) AdvanceCursor(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committedLen = safeCursor(m.sttCumulative, m.committedLen+n)
}

// Cursor returns the current commit cursor.
func (m *Memory) Cursor() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.committedLen
}

// LastSTTUpdate returns the timestamp of the most recent cumulative refresh.
func (m *Memory) LastSTTUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSTTUpdate
}

// TryCommit records a committed segment if it is not a duplicate of the
// previous one. Reports whether the segment was recorded.
func (m *Memory) TryCommit(text string) bool {
	h := fnv.New64a()
	h.Write([]byte(text))
	sum := h.Sum64()

	m.mu.Lock()
	defer m.mu.Unlock()
	if sum == m.lastCommitHash {
		return false
	}
	m.lastCommitHash = sum
	m.srcSegments = append(m.srcSegments, text)
	return true
}

// AppendTgtSegment records a committed target segment.
func (m *Memory) AppendTgtSegment(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tgtSegments = append(m.tgtSegments, text)
}

// SetSummary replaces the running summary wholesale.
func (m *Memory) SetSummary(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = s
}

// SetContextTail replaces the bilingual topic-memory tail.
func (m *Memory) SetContextTail(tail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contextTail = tail
}

// SetTranslating flips the in-flight translation flag.
func (m *Memory) SetTranslating(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.translating = v
}

// Translating reports whether a segment translation is in flight.
func (m *Memory) Translating() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.translating
}

// SetStopping marks the session as stopping. Monotonic.
func (m *Memory) SetStopping() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopping = true
}

// Stopping reports whether finalization has begun.
func (m *Memory) Stopping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopping
}

// SetStopped marks the session as stopped. Monotonic.
func (m *Memory) SetStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Stopped reports whether the session has shut down.
func (m *Memory) Stopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// Snapshot returns a consistent copy of the finalizer-relevant fields.
func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		TitleID:         m.titleID,
		TitleName:       m.titleName,
		STTLang:         m.sttLang,
		SrcLang:         m.srcLang,
		TgtLang:         m.tgtLang,
		PersistedSource: m.persistedSource,
		PersistedTarget: m.persistedTarget,
		ContextTail:     m.contextTail,
		Cumulative:      m.sttCumulative,
		SrcSegments:     append([]string(nil), m.srcSegments...),
		TgtSegments:     append([]string(nil), m.tgtSegments...),
		Summary:         m.summary,
	}
}

// normalizeSpace collapses all interior whitespace runs to single spaces and
// trims the ends.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// safeCursor clamps c to [0, len(s)], snaps it onto a rune boundary, and then
// retreats it until it no longer splits an alphanumeric token.
func safeCursor(s string, c int) int {
	if c <= 0 {
		return 0
	}
	if c >= len(s) {
		return len(s)
	}
	for c > 0 && !utf8.RuneStart(s[c]) {
		c--
	}
	for c > 0 && c < len(s) {
		prev, size := utf8.DecodeLastRuneInString(s[:c])
		next, _ := utf8.DecodeRuneInString(s[c:])
		if !isWordRune(prev) || !isWordRune(next) {
			break
		}
		c -= size
	}
	return c
}
