// Package memory implements the agent's rolling journal: a bounded,
// process-local deque of observations used to build the context section
// of every system prompt. It is lost on restart by design (spec.md §1
// Non-goals).
package memory

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// maxJournalEntries bounds the journal at 100 entries, matching
// original_source/src/memory/storage.rs's MAX_JOURNAL_ENTRIES.
const maxJournalEntries = 100

// recentHistoryCount is how many of the most recent entries Context()
// renders, matching original_source/src/memory/mod.rs.
const recentHistoryCount = 10

// Kind tags the variant an Entry carries, mirroring spec.md §3's
// SystemInfo | UserInteraction | ToolResult | Observation | ErrorEntry
// tagged union. Go has no native tagged enum, so Kind plus the typed
// fields on Entry stand in for it rather than an interface{} grab-bag.
type Kind int

const (
	KindSystemInfo Kind = iota
	KindUserInteraction
	KindToolResult
	KindObservation
	KindError
)

// Entry is one journal record. Only the fields relevant to Kind are set.
type Entry struct {
	Kind Kind

	// SystemInfo / Observation / Error.
	Text string

	// UserInteraction.
	Query    string
	Response string

	// ToolResult.
	Tool   string
	Result string
}

func (e Entry) render() string {
	switch e.Kind {
	case KindSystemInfo:
		return fmt.Sprintf("[system] %s", e.Text)
	case KindUserInteraction:
		return fmt.Sprintf("[interaction] user: %s | agent: %s", e.Query, e.Response)
	case KindToolResult:
		return fmt.Sprintf("[tool: %s] %s", e.Tool, e.Result)
	case KindObservation:
		return fmt.Sprintf("[observation] %s", e.Text)
	case KindError:
		return fmt.Sprintf("[error] %s", e.Text)
	default:
		return e.Text
	}
}

// Journal is the bounded, mutex-guarded memory the agent loop reads and
// writes. A single mutex is sufficient per spec.md §4.6/§5 ("Access is
// serialized by a single mutex").
type Journal struct {
	mu       sync.Mutex
	entries  []Entry
	topology []string
	identity string
}

// New creates a journal with an identity string derived from a fresh
// instance UUID and the host's name, grounded on the teacher's use of
// google/uuid for session/instance identifiers.
func New() *Journal {
	hostname, _ := os.Hostname()
	id := uuid.New().String()
	identity := fmt.Sprintf("shelly-agent instance %s on %s", id, hostname)
	return &Journal{identity: identity}
}

// Add pushes entry to the tail, evicting the oldest if capacity is
// exceeded.
func (j *Journal) Add(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	if len(j.entries) > maxJournalEntries {
		j.entries = j.entries[len(j.entries)-maxJournalEntries:]
	}
}

// AddSystemInfo appends a SystemInfo entry.
func (j *Journal) AddSystemInfo(text string) { j.Add(Entry{Kind: KindSystemInfo, Text: text}) }

// AddInteraction appends a UserInteraction entry.
func (j *Journal) AddInteraction(query, response string) {
	j.Add(Entry{Kind: KindUserInteraction, Query: query, Response: response})
}

// AddToolResult appends a ToolResult entry.
func (j *Journal) AddToolResult(tool, result string) {
	j.Add(Entry{Kind: KindToolResult, Tool: tool, Result: result})
}

// AddObservation appends an Observation entry.
func (j *Journal) AddObservation(text string) { j.Add(Entry{Kind: KindObservation, Text: text}) }

// AddError appends an Error entry.
func (j *Journal) AddError(text string) { j.Add(Entry{Kind: KindError, Text: text}) }

// AddTopology appends a line to the (unbounded) topology log.
func (j *Journal) AddTopology(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.topology = append(j.topology, line)
}

// Len reports the current journal length, used by tests to verify the
// capacity bound.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Context renders the markdown context section injected into every
// system prompt: identity (if set), topology (if any), and the last 10
// entries in original chronological order.
func (j *Journal) Context() string {
	j.mu.Lock()
	identity := j.identity
	topology := append([]string(nil), j.topology...)
	entries := append([]Entry(nil), j.entries...)
	j.mu.Unlock()

	var sections []string

	if identity != "" {
		sections = append(sections, "## Identity\n"+identity)
	}
	if len(topology) > 0 {
		sections = append(sections, "## Known Topology\n"+strings.Join(topology, "\n"))
	}

	recent := entries
	if len(recent) > recentHistoryCount {
		recent = recent[len(recent)-recentHistoryCount:]
	}
	if len(recent) > 0 {
		lines := make([]string, len(recent))
		for i, e := range recent {
			lines[i] = e.render()
		}
		sections = append(sections, "## Recent History\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}
