// Package projection maintains the SQLite read model of goals. It is fed by
// the event bus and can always be rebuilt from the event log.
package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"goalline/internal/clock"
	"goalline/internal/domain"
	"goalline/internal/events"
)

var ErrNotFound = errors.New("not found")

// GapError reports an event that does not directly follow the stored row.
// Current is 0 when the goal has no row yet.
type GapError struct {
	GoalID  domain.GoalID
	Current uint64
	Version uint64
}

func (e *GapError) Error() string {
	if e.Current == 0 {
		return fmt.Sprintf("projection: goal %s has no row, cannot apply version %d", e.GoalID, e.Version)
	}
	return fmt.Sprintf("projection: goal %s at version %d cannot apply version %d", e.GoalID, e.Current, e.Version)
}

// Projection reads and writes the goals table.
type Projection struct {
	DB  *sql.DB
	Log *zap.Logger
	// Source, when set, is read to fill gaps left by events published out
	// of order. Without it a gap is returned as *GapError.
	Source events.Log
}

func New(db *sql.DB, log *zap.Logger) *Projection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Projection{DB: db, Log: log}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Subscribe registers one handler per event type on bus.
func (p *Projection) Subscribe(bus *events.Bus) {
	for _, t := range domain.EventTypes {
		bus.Subscribe(t, p.Handle)
	}
}

// Handle applies evt to the read model. Events at or below the stored
// version are ignored. An event that skips versions first pulls the missing
// ones from Source, in the same transaction; without a Source it fails.
func (p *Projection) Handle(ctx context.Context, evt domain.Event) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := p.applyOrCatchUp(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Projection) applyOrCatchUp(ctx context.Context, q execer, evt domain.Event) error {
	err := p.apply(ctx, q, evt)
	var gap *GapError
	if !errors.As(err, &gap) || p.Source == nil {
		return err
	}
	stream, rerr := p.Source.ReadStream(ctx, evt.AggregateID)
	if rerr != nil {
		return fmt.Errorf("catch up %s: %w", evt.AggregateID, rerr)
	}
	if uint64(len(stream)) < evt.Version {
		return err
	}
	p.Log.Info("catching up read model",
		zap.String("goal_id", string(evt.AggregateID)),
		zap.Uint64("from", gap.Current+1),
		zap.Uint64("to", evt.Version))
	for _, missing := range stream[gap.Current:evt.Version] {
		if err := p.apply(ctx, q, missing); err != nil {
			return fmt.Errorf("catch up %s: %w", evt.AggregateID, err)
		}
	}
	return nil
}

func (p *Projection) apply(ctx context.Context, q execer, evt domain.Event) error {
	var current int64
	err := q.QueryRowContext(ctx, `SELECT version FROM goals WHERE id=?`, string(evt.AggregateID)).Scan(&current)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("read version of %s: %w", evt.AggregateID, err)
	}

	if evt.Type == domain.EventGoalAdded {
		if exists {
			return nil
		}
		return insertGoal(ctx, q, evt)
	}
	if !exists {
		return &GapError{GoalID: evt.AggregateID, Version: evt.Version}
	}
	if int64(evt.Version) <= current {
		p.Log.Debug("skip replayed event", zap.String("goal_id", string(evt.AggregateID)), zap.Uint64("version", evt.Version))
		return nil
	}
	if int64(evt.Version) != current+1 {
		return &GapError{GoalID: evt.AggregateID, Current: uint64(current), Version: evt.Version}
	}

	u := update{}
	u.set("status", string(evt.Payload.Status))
	switch evt.Type {
	case domain.EventGoalStarted, domain.EventGoalResumed:
		if c, ok := evt.Payload.Claim(evt.AggregateID); ok {
			u.set("claimed_by", string(c.ClaimedBy))
			u.set("claimed_at", clock.ISO(c.ClaimedAt))
			u.set("claim_expires_at", clock.ISO(c.ClaimExpiresAt))
		}
	case domain.EventGoalSubmittedForReview:
		u.set("review_turns", int64(evt.Payload.ReviewTurn))
	case domain.EventGoalQualified, domain.EventGoalCompleted:
		u.clearClaim()
	case domain.EventGoalReset:
		u.clearClaim()
		u.set("note", nil)
	}
	if evt.Payload.Note != nil {
		u.set("note", *evt.Payload.Note)
	}
	u.set("version", int64(evt.Version))
	u.set("updated_at", clock.ISO(evt.Timestamp))

	args := append(u.args, string(evt.AggregateID), current)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE goals SET %s WHERE id=? AND version=?`, strings.Join(u.fields, ",")), args...)
	if err != nil {
		return fmt.Errorf("apply %s to %s: %w", evt.Type, evt.AggregateID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("projection: goal %s changed while applying version %d", evt.AggregateID, evt.Version)
	}
	return nil
}

type update struct {
	fields []string
	args   []any
}

func (u *update) set(column string, v any) {
	u.fields = append(u.fields, column+"=?")
	u.args = append(u.args, v)
}

func (u *update) clearClaim() {
	u.set("claimed_by", nil)
	u.set("claimed_at", nil)
	u.set("claim_expires_at", nil)
}

func insertGoal(ctx context.Context, q execer, evt domain.Event) error {
	p := evt.Payload
	var planning any
	if !p.Planning.Empty() {
		data, err := json.Marshal(p.Planning)
		if err != nil {
			return err
		}
		planning = string(data)
	}
	ts := clock.ISO(evt.Timestamp)
	_, err := q.ExecContext(ctx, `INSERT INTO goals(id,objective,success_criteria,scope_in,scope_out,boundaries,planning,status,version,next_goal_id,review_turns,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,0,?,?)`,
		string(evt.AggregateID), p.Objective, jsonList(p.SuccessCriteria), jsonList(p.ScopeIn), jsonList(p.ScopeOut), jsonList(p.Boundaries),
		planning, string(p.Status), int64(evt.Version), nullable(string(p.NextGoalID)), ts, ts)
	if err != nil {
		return fmt.Errorf("insert goal %s: %w", evt.AggregateID, err)
	}
	return nil
}

func jsonList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const goalColumns = `id,objective,success_criteria,scope_in,scope_out,boundaries,planning,status,version,note,next_goal_id,review_turns,claimed_by,claimed_at,claim_expires_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (domain.GoalView, error) {
	var (
		v                                       domain.GoalView
		criteria, scopeIn, scopeOut, boundaries string
		planning, note, nextGoal                sql.NullString
		claimedBy, claimedAt, claimExpiresAt    sql.NullString
		createdAt, updatedAt                    string
		status                                  string
	)
	err := row.Scan(&v.ID, &v.Objective, &criteria, &scopeIn, &scopeOut, &boundaries, &planning, &status, &v.Version,
		&note, &nextGoal, &v.ReviewTurns, &claimedBy, &claimedAt, &claimExpiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Status = domain.Status(status)
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{criteria, &v.SuccessCriteria}, {scopeIn, &v.ScopeIn}, {scopeOut, &v.ScopeOut}, {boundaries, &v.Boundaries}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return v, fmt.Errorf("decode goal %s: %w", v.ID, err)
		}
		if len(*f.dst) == 0 {
			*f.dst = nil
		}
	}
	if planning.Valid {
		v.Planning = &domain.PlanningContext{}
		if err := json.Unmarshal([]byte(planning.String), v.Planning); err != nil {
			return v, fmt.Errorf("decode goal %s planning: %w", v.ID, err)
		}
	}
	v.Note = note.String
	v.NextGoalID = domain.GoalID(nextGoal.String)
	v.ClaimedBy = domain.WorkerID(claimedBy.String)
	if v.ClaimedAt, err = parseOptionalTime(claimedAt); err != nil {
		return v, err
	}
	if v.ClaimExpiresAt, err = parseOptionalTime(claimExpiresAt); err != nil {
		return v, err
	}
	if v.CreatedAt, err = clock.ParseISO(createdAt); err != nil {
		return v, err
	}
	if v.UpdatedAt, err = clock.ParseISO(updatedAt); err != nil {
		return v, err
	}
	return v, nil
}

func parseOptionalTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := clock.ParseISO(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByID returns the goal row or ErrNotFound.
func (p *Projection) FindByID(ctx context.Context, id domain.GoalID) (domain.GoalView, error) {
	return scanGoal(p.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, string(id)))
}

// Exists reports whether the goal has a row.
func (p *Projection) Exists(ctx context.Context, id domain.GoalID) (bool, error) {
	_, err := p.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Filter narrows List.
type Filter struct {
	Status    domain.Status
	ClaimedBy domain.WorkerID
	Limit     int
}

// List returns goals, most recently updated first.
func (p *Projection) List(ctx context.Context, f Filter) ([]domain.GoalView, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.ClaimedBy != "" {
		clauses = append(clauses, "claimed_by=?")
		args = append(args, string(f.ClaimedBy))
	}
	query := `SELECT ` + goalColumns + ` FROM goals`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GoalView
	for rows.Next() {
		v, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountByStatus returns the number of goals in each status. Statuses with
// no goals are present with a zero count.
func (p *Projection) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	counts := make(map[domain.Status]int, len(domain.Statuses))
	for _, s := range domain.Statuses {
		counts[s] = 0
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM goals GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}
