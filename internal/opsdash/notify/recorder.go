package notify

import "sync"

// Entry is one recorded message.
type Entry struct {
	Level   Level
	Message string
}

// Recorder keeps every message it receives.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Notify(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg})
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many messages at level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}
