// Package postgres stores production-tracking state in PostgreSQL through the pgx stdlib driver.
// Transitions lock the affected shot rows FOR UPDATE in id order, so single and bulk writers
// touching the same shot serialize without deadlocking each other.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// driverName is the database/sql name registered by pgx/v5/stdlib.
const driverName = "pgx"

// Postgres error codes mapped onto app errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Repository is a PostgreSQL-backed app.Repository.
type Repository struct {
	db *sql.DB
}

var _ app.Repository = (*Repository)(nil)

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS acts (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shots (
			id BIGSERIAL PRIMARY KEY,
			act_code TEXT NOT NULL REFERENCES acts(code) ON DELETE CASCADE,
			code TEXT NOT NULL,
			frame_start INTEGER NOT NULL DEFAULT 1001,
			frame_end INTEGER NOT NULL DEFAULT 1120,
			priority TEXT NOT NULL DEFAULT 'medium',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (act_code, code)
		)`,
		`CREATE TABLE IF NOT EXISTS shot_statuses (
			shot_id BIGINT NOT NULL REFERENCES shots(id) ON DELETE CASCADE,
			department TEXT NOT NULL CHECK (department IN ('lookdev','blocking','spline','polish','lighting','rendering','comp')),
			status TEXT NOT NULL CHECK (status IN ('not-started','in-progress','review','revision','approved','final','omit')),
			assignee TEXT,
			updated_by TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (shot_id, department)
		)`,
		`CREATE TABLE IF NOT EXISTS status_log (
			id BIGSERIAL PRIMARY KEY,
			shot_id BIGINT NOT NULL REFERENCES shots(id) ON DELETE CASCADE,
			department TEXT NOT NULL,
			old_status TEXT,
			new_status TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shots_act_code ON shots (act_code, code)`,
		`CREATE INDEX IF NOT EXISTS idx_status_log_shot ON status_log (shot_id, department, id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// CreateAct persists act, assigning MAX(sort_order)+1 when requested.
func (r *Repository) CreateAct(ctx context.Context, act domain.Act, autoSortOrder bool) (domain.Act, error) {
	if !autoSortOrder {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO acts (code, name, sort_order, created_at)
			VALUES ($1, $2, $3, $4)
		`, act.Code, act.Name, act.SortOrder, act.CreatedAt.UTC())
		if err != nil {
			return domain.Act{}, translateError(err)
		}
		return act, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Act{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	// SHARE ROW EXCLUSIVE conflicts with itself, so concurrent auto-ordered creates read MAX one at a time.
	if _, err = tx.ExecContext(ctx, `LOCK TABLE acts IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return domain.Act{}, err
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO acts (code, name, sort_order, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(sort_order), 0) + 1 FROM acts), $3)
		RETURNING sort_order
	`, act.Code, act.Name, act.CreatedAt.UTC()).Scan(&act.SortOrder)
	if err != nil {
		err = translateError(err)
		return domain.Act{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Act{}, err
	}
	return act, nil
}

// GetAct returns act.
func (r *Repository) GetAct(ctx context.Context, code string) (domain.Act, error) {
	var act domain.Act
	err := r.db.QueryRowContext(ctx, `
		SELECT code, name, sort_order, created_at FROM acts WHERE code = $1
	`, code).Scan(&act.Code, &act.Name, &act.SortOrder, &act.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Act{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Act{}, err
	}
	act.CreatedAt = act.CreatedAt.UTC()
	return act, nil
}

// ListActs returns acts ordered by sort order, then code.
func (r *Repository) ListActs(ctx context.Context) ([]domain.Act, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, sort_order, created_at FROM acts ORDER BY sort_order ASC, code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Act, 0)
	for rows.Next() {
		var act domain.Act
		if err := rows.Scan(&act.Code, &act.Name, &act.SortOrder, &act.CreatedAt); err != nil {
			return nil, err
		}
		act.CreatedAt = act.CreatedAt.UTC()
		out = append(out, act)
	}
	return out, rows.Err()
}

// CreateShot persists shot and returns it with its assigned id.
func (r *Repository) CreateShot(ctx context.Context, shot domain.Shot) (domain.Shot, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO shots (act_code, code, frame_start, frame_end, priority, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		shot.ActCode,
		shot.Code,
		shot.FrameStart,
		shot.FrameEnd,
		string(shot.Priority),
		shot.Notes,
		shot.CreatedAt.UTC(),
		shot.UpdatedAt.UTC(),
	).Scan(&shot.ID)
	if err != nil {
		return domain.Shot{}, translateError(err)
	}
	return shot, nil
}

// GetShot returns a shot with its current department rows.
func (r *Repository) GetShot(ctx context.Context, id int64) (domain.ShotDetail, error) {
	shot, err := scanShot(r.db.QueryRowContext(ctx, shotColumns+` FROM shots s WHERE s.id = $1`, id))
	if err != nil {
		return domain.ShotDetail{}, err
	}
	statuses, err := r.listStatuses(ctx, []int64{id})
	if err != nil {
		return domain.ShotDetail{}, err
	}
	return domain.ShotDetail{Shot: shot, Departments: statuses[id]}, nil
}

// ListShots returns shots matching filter ordered by act sort order, act code, then shot code.
func (r *Repository) ListShots(ctx context.Context, filter domain.ShotFilter) ([]domain.ShotDetail, error) {
	where, args := shotFilterClause(filter)
	rows, err := r.db.QueryContext(ctx, shotColumns+` FROM shots s JOIN acts a ON a.code = s.act_code WHERE `+where+` ORDER BY a.sort_order, s.act_code, s.code, s.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	shots := make([]domain.Shot, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		shot, err := scanShot(rows)
		if err != nil {
			return nil, err
		}
		shots = append(shots, shot)
		ids = append(ids, shot.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	statuses, err := r.listStatuses(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ShotDetail, 0, len(shots))
	for _, shot := range shots {
		out = append(out, domain.ShotDetail{Shot: shot, Departments: statuses[shot.ID]})
	}
	return out, nil
}

// UpdateDepartmentStatus locks the shot, upserts its row and appends the audit entry.
func (r *Repository) UpdateDepartmentStatus(ctx context.Context, change domain.StatusChange, policy domain.TransitionPolicy) (domain.DepartmentStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DepartmentStatus{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked []int64
	locked, err = lockShots(ctx, tx, []int64{change.ShotID})
	if err != nil {
		return domain.DepartmentStatus{}, err
	}
	if len(locked) == 0 {
		err = app.ErrNotFound
		return domain.DepartmentStatus{}, err
	}
	var next domain.DepartmentStatus
	next, err = applyChange(ctx, tx, change, policy)
	if err != nil {
		return domain.DepartmentStatus{}, err
	}
	err = tx.Commit()
	if err != nil {
		return domain.DepartmentStatus{}, err
	}
	return next, nil
}

// BulkUpdateStatus locks every shot in id order, then applies change to each in one transaction.
func (r *Repository) BulkUpdateStatus(ctx context.Context, change domain.BulkStatusChange, policy domain.TransitionPolicy) (int, error) {
	ids := change.DistinctShotIDs()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked []int64
	locked, err = lockShots(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if len(locked) != len(ids) {
		found := make(map[int64]struct{}, len(locked))
		for _, id := range locked {
			found[id] = struct{}{}
		}
		var missing []int64
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		err = app.NewMissingShotsError(missing)
		return 0, err
	}
	for _, id := range ids {
		if _, err = applyChange(ctx, tx, change.Change(id), policy); err != nil {
			return 0, err
		}
	}
	err = tx.Commit()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ListStatusHistory returns audit entries newest first.
func (r *Repository) ListStatusHistory(ctx context.Context, shotID int64, department domain.Department, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, shot_id, department, old_status, new_status, changed_by, changed_at
		FROM status_log
		WHERE shot_id = $1 AND ($2 = '' OR department = $2)
		ORDER BY id DESC
		LIMIT $3
	`, shotID, string(department), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var (
			entry     domain.AuditEntry
			dep       string
			oldStatus sql.NullString
			newStatus string
		)
		if err := rows.Scan(&entry.ID, &entry.ShotID, &dep, &oldStatus, &newStatus, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.Department = domain.Department(dep)
		if oldStatus.Valid {
			entry.OldStatus = domain.Status(oldStatus.String)
		}
		entry.NewStatus = domain.Status(newStatus)
		entry.ChangedAt = entry.ChangedAt.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// lockShots locks the existing shots among ids and returns them.
func lockShots(ctx context.Context, tx *sql.Tx, ids []int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM shots WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]int64, 0, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// applyChange checks policy against the current row, then upserts it and appends the audit entry.
func applyChange(ctx context.Context, tx *sql.Tx, change domain.StatusChange, policy domain.TransitionPolicy) (domain.DepartmentStatus, error) {
	var prev *domain.DepartmentStatus
	row := tx.QueryRowContext(ctx, `
		SELECT shot_id, department, status, assignee, updated_by, updated_at
		FROM shot_statuses
		WHERE shot_id = $1 AND department = $2
	`, change.ShotID, string(change.Department))
	current, err := scanStatus(row)
	switch {
	case err == nil:
		prev = &current
	case errors.Is(err, sql.ErrNoRows):
	default:
		return domain.DepartmentStatus{}, err
	}
	var from domain.Status
	if prev != nil {
		from = prev.Status
	}
	if err := policy.Allow(from, change.Status); err != nil {
		return domain.DepartmentStatus{}, err
	}

	next := change.Apply(prev)
	var assignee any
	if next.Assignee != nil {
		assignee = *next.Assignee
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shot_statuses (shot_id, department, status, assignee, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (shot_id, department) DO UPDATE SET
			status = EXCLUDED.status,
			assignee = EXCLUDED.assignee,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, next.ShotID, string(next.Department), string(next.Status), assignee, next.UpdatedBy, next.UpdatedAt.UTC()); err != nil {
		return domain.DepartmentStatus{}, fmt.Errorf("upsert shot status: %w", translateError(err))
	}

	entry := change.AuditEntry(prev)
	var oldStatus any
	if entry.OldStatus != "" {
		oldStatus = string(entry.OldStatus)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_log (shot_id, department, old_status, new_status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ShotID, string(entry.Department), oldStatus, string(entry.NewStatus), entry.ChangedBy, entry.ChangedAt.UTC()); err != nil {
		return domain.DepartmentStatus{}, fmt.Errorf("insert status log: %w", translateError(err))
	}
	return next, nil
}

// listStatuses returns current rows for ids grouped by shot id, in department order.
func (r *Repository) listStatuses(ctx context.Context, ids []int64) (map[int64][]domain.DepartmentStatus, error) {
	out := map[int64][]domain.DepartmentStatus{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT shot_id, department, status, assignee, updated_by, updated_at
		FROM shot_statuses
		WHERE shot_id = ANY($1)
		ORDER BY shot_id, array_position(ARRAY['lookdev','blocking','spline','polish','lighting','rendering','comp'], department)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out[st.ShotID] = append(out[st.ShotID], st)
	}
	return out, rows.Err()
}

// shotColumns selects shot fields over alias s.
const shotColumns = `SELECT s.id, s.act_code, s.code, s.frame_start, s.frame_end, s.priority, s.notes, s.created_at, s.updated_at`

// shotFilterClause builds the WHERE clause for shot listings over alias s.
func shotFilterClause(filter domain.ShotFilter) (string, []any) {
	clauses := []string{"TRUE"}
	args := make([]any, 0, 5)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ActCode != "" {
		clauses = append(clauses, "s.act_code = "+next(filter.ActCode))
	}
	if filter.Priority != "" {
		clauses = append(clauses, "s.priority = "+next(string(filter.Priority)))
	}
	if filter.Search != "" {
		pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(filter.Search) + "%"
		clauses = append(clauses, "(s.act_code || '_' || s.code) ILIKE "+next(pattern))
	}
	if filter.Department != "" || filter.Status != "" {
		sub := "EXISTS (SELECT 1 FROM shot_statuses ss WHERE ss.shot_id = s.id"
		if filter.Department != "" {
			sub += " AND ss.department = " + next(string(filter.Department))
		}
		if filter.Status != "" {
			sub += " AND ss.status = " + next(string(filter.Status))
		}
		clauses = append(clauses, sub+")")
	}
	return strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShot(s scanner) (domain.Shot, error) {
	var (
		shot     domain.Shot
		priority string
	)
	if err := s.Scan(&shot.ID, &shot.ActCode, &shot.Code, &shot.FrameStart, &shot.FrameEnd, &priority, &shot.Notes, &shot.CreatedAt, &shot.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shot{}, app.ErrNotFound
		}
		return domain.Shot{}, err
	}
	shot.Priority = domain.Priority(priority)
	shot.CreatedAt = shot.CreatedAt.UTC()
	shot.UpdatedAt = shot.UpdatedAt.UTC()
	return shot, nil
}

// scanStatus returns sql.ErrNoRows unchanged so callers can tell an absent row apart.
func scanStatus(s scanner) (domain.DepartmentStatus, error) {
	var (
		st       domain.DepartmentStatus
		dep      string
		status   string
		assignee sql.NullString
	)
	if err := s.Scan(&st.ShotID, &dep, &status, &assignee, &st.UpdatedBy, &st.UpdatedAt); err != nil {
		return domain.DepartmentStatus{}, err
	}
	st.Department = domain.Department(dep)
	st.Status = domain.Status(status)
	if assignee.Valid {
		v := assignee.String
		st.Assignee = &v
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

// translateError maps constraint violations onto app errors.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", app.ErrConflict, pgErr.Message)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", app.ErrNotFound, pgErr.Message)
	default:
		return err
	}
}
