package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cerina/foundry/pkg/blackboard"
)

// SessionRow is one row of the protocol_sessions table.
type SessionRow struct {
	ThreadID      string
	Intent        string
	Status        string
	LatestDraft   sql.NullString
	SafetyScore   sql.NullFloat64
	EmpathyScore  sql.NullFloat64
	Iteration     int
	FinalProtocol sql.NullString
}

// UpsertSession writes the session-level view of a blackboard snapshot.
func (s *Store) UpsertSession(ctx context.Context, threadID string, st *blackboard.State, status blackboard.Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO protocol_sessions
			(thread_id, intent, status, latest_draft, safety_score, empathy_score, iteration, final_protocol)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (thread_id) DO UPDATE SET
			status         = EXCLUDED.status,
			latest_draft   = EXCLUDED.latest_draft,
			safety_score   = EXCLUDED.safety_score,
			empathy_score  = EXCLUDED.empathy_score,
			iteration      = EXCLUDED.iteration,
			final_protocol = EXCLUDED.final_protocol,
			updated_at     = NOW()`,
		threadID, st.Intent, string(status),
		nullString(st.CurrentDraft != "", st.CurrentDraft),
		nullFloat(st.SafetyScore), nullFloat(st.EmpathyScore),
		st.Iteration, nullStringPtr(st.FinalProtocol))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// InsertDraftVersions records any draft versions not yet persisted for the
// thread. Existing (thread, index) rows are left untouched.
func (s *Store) InsertDraftVersions(ctx context.Context, threadID string, st *blackboard.State) error {
	for i, content := range st.DraftVersions {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO draft_versions (thread_id, version_index, content, safety_score, empathy_score)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (thread_id, version_index) DO NOTHING`,
			threadID, i, content, nullFloat(st.SafetyScore), nullFloat(st.EmpathyScore))
		if err != nil {
			return fmt.Errorf("insert draft version %d: %w", i, err)
		}
	}
	return nil
}

// InsertAgentLog records one agent lifecycle entry.
func (s *Store) InsertAgentLog(ctx context.Context, threadID, agent, phase, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_logs (thread_id, agent_name, phase, message)
		VALUES ($1, $2, $3, $4)`,
		threadID, agent, phase, message)
	if err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

// Session reads back one session row.
func (s *Store) Session(ctx context.Context, threadID string) (*SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, intent, status, latest_draft, safety_score, empathy_score, iteration, final_protocol
		FROM protocol_sessions WHERE thread_id = $1`, threadID)

	var out SessionRow
	err := row.Scan(&out.ThreadID, &out.Intent, &out.Status, &out.LatestDraft,
		&out.SafetyScore, &out.EmpathyScore, &out.Iteration, &out.FinalProtocol)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &out, nil
}

// Recorder adapts the store to the streaming event relay: each relayed event
// becomes audit rows.
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder over an opened store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Record persists one engine event.
func (r *Recorder) Record(ctx context.Context, threadID string, ev *blackboard.Event) error {
	switch ev.Type {
	case blackboard.EventTypeAgent:
		if ev.Agent == nil {
			return fmt.Errorf("agent event without payload")
		}
		return r.store.InsertAgentLog(ctx, threadID, ev.Agent.Agent, string(ev.Agent.Phase), ev.Agent.DraftPreview)

	case blackboard.EventTypeState:
		if ev.State == nil {
			return fmt.Errorf("state event without payload")
		}
		if err := r.store.UpsertSession(ctx, threadID, ev.State, statusOf(ev.State)); err != nil {
			return err
		}
		return r.store.InsertDraftVersions(ctx, threadID, ev.State)

	case blackboard.EventTypeHalt:
		if ev.Halt == nil {
			return fmt.Errorf("halt event without payload")
		}
		return r.store.InsertAgentLog(ctx, threadID, ev.Halt.Node, string(ev.Halt.Type),
			blackboard.Preview(ev.Halt.Draft, blackboard.DraftPreviewLen))

	default:
		return fmt.Errorf("unknown event type: %s", ev.Type)
	}
}

// statusOf derives a session status from a snapshot, for rows written from
// the event stream where the live status key is not in hand.
func statusOf(st *blackboard.State) blackboard.Status {
	switch {
	case st.HaltedForHuman:
		return blackboard.StatusHaltedForHuman
	case st.FinalProtocol != nil:
		return blackboard.StatusCompleted
	default:
		return blackboard.StatusRunning
	}
}

func nullString(ok bool, v string) sql.NullString {
	return sql.NullString{String: v, Valid: ok}
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
