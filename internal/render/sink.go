package render

import (
	"strings"
	"sync"

	"github.com/roach88/limn/internal/wire"
)

// ChunkSink is the transport boundary. A render pass writes the initial
// document, then side-channel records and out-of-order fragments as they
// become available. Implementations must tolerate concurrent calls:
// records and fragments arrive from background goroutines.
type ChunkSink interface {
	// WriteHTML delivers a document chunk (the shell, in transport order).
	WriteHTML(html string) error

	// WriteRecord delivers one side-channel record.
	WriteRecord(rec wire.Record) error

	// FragmentArrived delivers a settled boundary fragment: the finished
	// HTML for the placeholder with the given boundary id, or the error
	// that sank it.
	FragmentArrived(id, html string, err error) error

	// Flush pushes buffered bytes to the client, if the transport buffers.
	Flush() error
}

// Fragment is one settled boundary fragment as observed by a sink.
type Fragment struct {
	ID   string
	HTML string
	Err  error
}

// Recorder is an in-memory ChunkSink. Tests and the journal use it to
// capture a full render pass for assertion and replay.
type Recorder struct {
	mu        sync.Mutex
	html      []string
	records   []wire.Record
	fragments []Fragment
	flushes   int
}

// WriteHTML implements ChunkSink.
func (r *Recorder) WriteHTML(html string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.html = append(r.html, html)
	return nil
}

// WriteRecord implements ChunkSink.
func (r *Recorder) WriteRecord(rec wire.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// FragmentArrived implements ChunkSink.
func (r *Recorder) FragmentArrived(id, html string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragments = append(r.fragments, Fragment{ID: id, HTML: html, Err: err})
	return nil
}

// Flush implements ChunkSink.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

// HTML returns the concatenated document chunks.
func (r *Recorder) HTML() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.html, "")
}

// Records returns a copy of the captured record stream, in arrival order.
func (r *Recorder) Records() []wire.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Record returns the first captured record for id.
func (r *Recorder) Record(id string) (wire.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return wire.Record{}, false
}

// RecordsFor returns every captured record for id, in arrival order.
func (r *Recorder) RecordsFor(id string) []wire.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.Record
	for _, rec := range r.records {
		if rec.ID == id {
			out = append(out, rec)
		}
	}
	return out
}

// Fragments returns the captured fragments in arrival order.
func (r *Recorder) Fragments() []Fragment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Fragment, len(r.fragments))
	copy(out, r.fragments)
	return out
}

// Fragment returns the captured fragment for the given boundary id.
func (r *Recorder) Fragment(id string) (Fragment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.fragments {
		if f.ID == id {
			return f, true
		}
	}
	return Fragment{}, false
}

// FinalHTML splices every settled fragment into its placeholder range,
// producing the document a client would show after the stream completes.
// Errored fragments leave their fallback in place.
func (r *Recorder) FinalHTML() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := strings.Join(r.html, "")
	for _, f := range r.fragments {
		if f.Err != nil {
			continue
		}
		doc = spliceFragment(doc, f.ID, f.HTML)
	}
	return doc
}

// spliceFragment replaces the placeholder range for id (the template
// marker through the trailing comment) with the fragment HTML.
func spliceFragment(doc, id, html string) string {
	open := PlaceholderOpen(id)
	close := PlaceholderClose(id)
	start := strings.Index(doc, open)
	if start < 0 {
		return doc
	}
	end := strings.Index(doc[start:], close)
	if end < 0 {
		return doc
	}
	return doc[:start] + html + doc[start+end+len(close):]
}
