package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Render describes one journaled render pass.
type Render struct {
	Token       string
	Page        string
	Mode        string
	StartedAt   time.Time
	CompletedAt time.Time // zero until Complete
	Error       string
}

// Completed reports whether the render pass finished.
func (r Render) Completed() bool { return !r.CompletedAt.IsZero() }

// Event is one journaled chunk in transport order.
type Event struct {
	Seq        int64
	Kind       string
	BoundaryID string
	Payload    string
	Err        string
}

// FragmentState is the settled outcome of one streamed boundary.
type FragmentState struct {
	BoundaryID string
	State      string // "ok" or "error"
	HTML       string
	Error      string
}

// Lookup returns the render row for a token.
func (j *Journal) Lookup(ctx context.Context, token string) (Render, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT token, page, mode, started_at, completed_at, error
		FROM renders
		WHERE token = ?
	`, token)
	r, err := scanRender(row)
	if err == sql.ErrNoRows {
		return Render{}, fmt.Errorf("unknown render token %s", token)
	}
	if err != nil {
		return Render{}, fmt.Errorf("lookup render: %w", err)
	}
	return r, nil
}

// Renders lists all journaled render passes, oldest first. Ties on
// start time break on token for a stable listing.
func (j *Journal) Renders(ctx context.Context) ([]Render, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT token, page, mode, started_at, completed_at, error
		FROM renders
		ORDER BY started_at ASC, token COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query renders: %w", err)
	}
	defer rows.Close()

	renders := []Render{}
	for rows.Next() {
		r, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		renders = append(renders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate renders: %w", err)
	}
	return renders, nil
}

// Events returns a render's chunks in the order the transport delivered
// them.
func (j *Journal) Events(ctx context.Context, token string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, kind, boundary_id, payload, error
		FROM chunks
		WHERE render_token = ?
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.Kind, &e.BoundaryID, &e.Payload, &e.Err); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return events, nil
}

// Fragments returns the settled boundary outcomes for a render, ordered
// by boundary id.
func (j *Journal) Fragments(ctx context.Context, token string) ([]FragmentState, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT boundary_id, state, html, error
		FROM fragments
		WHERE render_token = ?
		ORDER BY boundary_id COLLATE BINARY ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	frags := []FragmentState{}
	for rows.Next() {
		var f FragmentState
		if err := rows.Scan(&f.BoundaryID, &f.State, &f.HTML, &f.Error); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		frags = append(frags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return frags, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRender(row rowScanner) (Render, error) {
	var r Render
	var started string
	var completed sql.NullString
	if err := row.Scan(&r.Token, &r.Page, &r.Mode, &started, &completed, &r.Error); err != nil {
		return Render{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Render{}, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = t
	if completed.Valid && completed.String != "" {
		t, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return Render{}, fmt.Errorf("parse completed_at: %w", err)
		}
		r.CompletedAt = t
	}
	return r, nil
}
