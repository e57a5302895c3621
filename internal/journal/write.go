package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/limn/internal/render"
	"github.com/roach88/limn/internal/wire"
)

// Begin inserts the render row for a pass about to run. Duplicate tokens
// are rejected; render tokens are unique per pass.
func (j *Journal) Begin(ctx context.Context, token, page, mode string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO renders (token, page, mode, started_at)
		VALUES (?, ?, ?, ?)
	`, token, page, mode, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin render: %w", err)
	}
	j.log.Debug("render began", "token", token, "page", page, "mode", mode)
	return nil
}

// Complete stamps the render row with its outcome.
func (j *Journal) Complete(ctx context.Context, token string, renderErr error) error {
	msg := ""
	if renderErr != nil {
		msg = renderErr.Error()
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE renders SET completed_at = ?, error = ? WHERE token = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), msg, token)
	if err != nil {
		return fmt.Errorf("complete render: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete render: unknown token %s", token)
	}
	return nil
}

// Sink returns a ChunkSink that journals every chunk under token and
// forwards to next (which may be nil to journal only). The render row
// must exist; call Begin first.
//
// Chunks receive consecutive sequence numbers in arrival order, the
// order the transport would have delivered them.
func (j *Journal) Sink(ctx context.Context, token string, next render.ChunkSink) (render.ChunkSink, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq)+1, 0) FROM chunks WHERE render_token = ?
	`, token).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("journal sink: %w", err)
	}
	return &dbSink{j: j, token: token, next: next, seq: seq}, nil
}

// dbSink tees chunks into the journal. Records and fragments arrive from
// background goroutines, so writes serialize on the mutex.
type dbSink struct {
	j     *Journal
	token string
	next  render.ChunkSink
	mu    sync.Mutex
	seq   int64
}

func (s *dbSink) writeChunk(kind, boundaryID, payload, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.j.db.Exec(`
		INSERT INTO chunks (render_token, seq, kind, boundary_id, payload, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.token, s.seq, kind, boundaryID, payload, errMsg)
	if err != nil {
		return fmt.Errorf("journal chunk: %w", err)
	}
	s.seq++
	return nil
}

// WriteHTML implements render.ChunkSink.
func (s *dbSink) WriteHTML(html string) error {
	if err := s.writeChunk(KindHTML, "", html, ""); err != nil {
		return err
	}
	if s.next != nil {
		return s.next.WriteHTML(html)
	}
	return nil
}

// WriteRecord implements render.ChunkSink. Records are stored in their
// canonical wire encoding, so identical renders journal identical bytes.
func (s *dbSink) WriteRecord(rec wire.Record) error {
	data, err := wire.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("journal record: %w", err)
	}
	if err := s.writeChunk(KindRecord, rec.ID, string(data), ""); err != nil {
		return err
	}
	if s.next != nil {
		return s.next.WriteRecord(rec)
	}
	return nil
}

// FragmentArrived implements render.ChunkSink. The arrival is journaled
// in stream order and the boundary's end state upserted; fragments
// settle once, so a second arrival for an id is ignored.
func (s *dbSink) FragmentArrived(id, html string, err error) error {
	msg := ""
	state := "ok"
	if err != nil {
		msg = err.Error()
		state = "error"
	}
	if werr := s.writeChunk(KindFragment, id, html, msg); werr != nil {
		return werr
	}
	s.mu.Lock()
	_, ierr := s.j.db.Exec(`
		INSERT INTO fragments (render_token, boundary_id, state, html, error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(render_token, boundary_id) DO NOTHING
	`, s.token, id, state, html, msg)
	s.mu.Unlock()
	if ierr != nil {
		return fmt.Errorf("journal fragment: %w", ierr)
	}
	if s.next != nil {
		return s.next.FragmentArrived(id, html, err)
	}
	return nil
}

// Flush implements render.ChunkSink; only the forwarded sink buffers.
func (s *dbSink) Flush() error {
	if s.next != nil {
		return s.next.Flush()
	}
	return nil
}
