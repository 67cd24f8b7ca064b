// Package logbuf keeps the recent console history of the supervised process
// so that consumers attaching after the fact can catch up.
package logbuf

import (
	"strings"
	"sync"
	"time"
)

// Stream identifies where a console line came from.
type Stream string

const (
	StreamOutput Stream = "output"
	StreamError  Stream = "error"
	StreamSystem Stream = "system" // start/exit notices written by the host
)

// Line is one console line.
type Line struct {
	Time   time.Time `json:"time"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
}

// Ring is a thread-safe ring buffer that stores the last N console lines.
// Chunks are split on newlines; an incomplete trailing line is held per
// stream until the rest arrives, so interleaved stdout and stderr chunks do
// not corrupt each other.
type Ring struct {
	mu      sync.Mutex
	lines   []Line
	size    int
	pos     int
	full    bool
	partial map[Stream]*strings.Builder
	now     func() time.Time
}

// New creates a ring buffer that stores the last n lines.
func New(n int) *Ring {
	if n <= 0 {
		n = 1
	}
	return &Ring{
		lines:   make([]Line, n),
		size:    n,
		partial: make(map[Stream]*strings.Builder),
		now:     time.Now,
	}
}

// Append adds a chunk of text from stream.
func (r *Ring) Append(stream Stream, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.partial[stream]
	if !ok {
		b = &strings.Builder{}
		r.partial[stream] = b
	}
	b.WriteString(chunk)

	buffered := b.String()
	idx := strings.LastIndexByte(buffered, '\n')
	if idx < 0 {
		return
	}

	complete, rest := buffered[:idx], buffered[idx+1:]
	b.Reset()
	b.WriteString(rest)

	for _, line := range strings.Split(complete, "\n") {
		r.addLine(Line{Time: r.now(), Stream: stream, Text: strings.TrimRight(line, "\r")})
	}
}

// Flush moves any incomplete trailing line of every stream into the buffer.
// Called when the process exits so unterminated last lines are not lost.
func (r *Ring) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stream := range []Stream{StreamOutput, StreamError, StreamSystem} {
		b, ok := r.partial[stream]
		if !ok || b.Len() == 0 {
			continue
		}
		r.addLine(Line{Time: r.now(), Stream: stream, Text: b.String()})
		b.Reset()
	}
}

func (r *Ring) addLine(line Line) {
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns all stored lines in order, oldest first.
func (r *Ring) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]Line, r.pos)
		copy(result, r.lines[:r.pos])
		return result
	}

	result := make([]Line, r.size)
	copy(result, r.lines[r.pos:])
	copy(result[r.size-r.pos:], r.lines[:r.pos])
	return result
}

// Last returns the last n lines, restricted to the given streams when any
// are passed. If fewer lines match, returns all of them.
func (r *Ring) Last(n int, streams ...Stream) []Line {
	all := r.Lines()
	if len(streams) > 0 {
		filtered := all[:0]
		for _, l := range all {
			for _, s := range streams {
				if l.Stream == s {
					filtered = append(filtered, l)
					break
				}
			}
		}
		all = filtered
	}
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear drops all stored lines.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	r.full = false
	r.partial = make(map[Stream]*strings.Builder)
}
