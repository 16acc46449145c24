package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// connPragmas are applied by the driver to every new connection.
const connPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Repository stores production-tracking state in one SQLite database.
// A single pooled connection serializes transactions, so a bulk batch and any
// single-shot transition touching the same rows never interleave.
type Repository struct {
	db *sql.DB
}

var _ app.Repository = (*Repository)(nil)

// Open opens the database at path, creating parent directories and schema as needed.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	return open("file:" + path + "?" + connPragmas)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	return open("file:shotboard-" + uuid.NewString() + "?mode=memory&cache=shared&" + connPragmas)
}

// open configures the pool and runs migrations.
func open(dsn string) (*Repository, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS acts (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS shots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			act_code TEXT NOT NULL,
			code TEXT NOT NULL,
			frame_start INTEGER NOT NULL DEFAULT 1001,
			frame_end INTEGER NOT NULL DEFAULT 1120,
			priority TEXT NOT NULL DEFAULT 'medium',
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(act_code, code),
			FOREIGN KEY(act_code) REFERENCES acts(code) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS shot_statuses (
			shot_id INTEGER NOT NULL,
			department TEXT NOT NULL CHECK (department IN ('lookdev','blocking','spline','polish','lighting','rendering','comp')),
			status TEXT NOT NULL CHECK (status IN ('not-started','in-progress','review','revision','approved','final','omit')),
			assignee TEXT,
			updated_by TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(shot_id, department),
			FOREIGN KEY(shot_id) REFERENCES shots(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS status_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shot_id INTEGER NOT NULL,
			department TEXT NOT NULL,
			old_status TEXT,
			new_status TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_at TEXT NOT NULL,
			FOREIGN KEY(shot_id) REFERENCES shots(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_shots_act_code ON shots(act_code, code);`,
		`CREATE INDEX IF NOT EXISTS idx_status_log_shot ON status_log(shot_id, department, id);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateAct persists act, assigning MAX(sort_order)+1 when requested.
func (r *Repository) CreateAct(ctx context.Context, act domain.Act, autoSortOrder bool) (domain.Act, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Act{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if autoSortOrder {
		if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order), 0) + 1 FROM acts`).Scan(&act.SortOrder); err != nil {
			return domain.Act{}, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO acts(code, name, sort_order, created_at)
		VALUES (?, ?, ?, ?)
	`, act.Code, act.Name, act.SortOrder, ts(act.CreatedAt))
	if err != nil {
		err = translateConstraint(err)
		return domain.Act{}, err
	}
	err = tx.Commit()
	if err != nil {
		return domain.Act{}, err
	}
	return act, nil
}

// GetAct returns act.
func (r *Repository) GetAct(ctx context.Context, code string) (domain.Act, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT code, name, sort_order, created_at
		FROM acts
		WHERE code = ?
	`, code)
	return scanAct(row)
}

// ListActs returns acts ordered by sort order, then code.
func (r *Repository) ListActs(ctx context.Context) ([]domain.Act, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, sort_order, created_at
		FROM acts
		ORDER BY sort_order ASC, code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Act, 0)
	for rows.Next() {
		act, err := scanAct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, rows.Err()
}

// CreateShot persists shot and returns it with its assigned id.
func (r *Repository) CreateShot(ctx context.Context, shot domain.Shot) (domain.Shot, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO shots(act_code, code, frame_start, frame_end, priority, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		shot.ActCode,
		shot.Code,
		shot.FrameStart,
		shot.FrameEnd,
		string(shot.Priority),
		shot.Notes,
		ts(shot.CreatedAt),
		ts(shot.UpdatedAt),
	)
	if err != nil {
		return domain.Shot{}, translateConstraint(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Shot{}, err
	}
	shot.ID = id
	return shot, nil
}

// GetShot returns a shot with its current department rows.
func (r *Repository) GetShot(ctx context.Context, id int64) (domain.ShotDetail, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, act_code, code, frame_start, frame_end, priority, notes, created_at, updated_at
		FROM shots
		WHERE id = ?
	`, id)
	shot, err := scanShot(row)
	if err != nil {
		return domain.ShotDetail{}, err
	}
	statuses, err := listStatuses(ctx, r.db, `shot_id = ?`, []any{id})
	if err != nil {
		return domain.ShotDetail{}, err
	}
	return domain.ShotDetail{Shot: shot, Departments: statuses[id]}, nil
}

// ListShots returns shots matching filter ordered by act sort order, act code, then shot code.
func (r *Repository) ListShots(ctx context.Context, filter domain.ShotFilter) ([]domain.ShotDetail, error) {
	where, args := shotFilterClause(filter)
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.act_code, s.code, s.frame_start, s.frame_end, s.priority, s.notes, s.created_at, s.updated_at
		FROM shots s
		JOIN acts a ON a.code = s.act_code
		WHERE `+where+`
		ORDER BY a.sort_order ASC, s.act_code ASC, s.code ASC, s.id ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	shots := make([]domain.Shot, 0)
	for rows.Next() {
		shot, err := scanShot(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		shots = append(shots, shot)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// The pool holds one connection, so the shot cursor must be closed before the next query.
	if err := rows.Close(); err != nil {
		return nil, err
	}

	statuses, err := listStatuses(ctx, r.db, `shot_id IN (SELECT s.id FROM shots s WHERE `+where+`)`, args)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ShotDetail, 0, len(shots))
	for _, shot := range shots {
		out = append(out, domain.ShotDetail{Shot: shot, Departments: statuses[shot.ID]})
	}
	return out, nil
}

// UpdateDepartmentStatus upserts one row and appends its audit entry in one transaction.
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

	var exists bool
	exists, err = shotExists(ctx, tx, change.ShotID)
	if err != nil {
		return domain.DepartmentStatus{}, err
	}
	if !exists {
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

// BulkUpdateStatus applies change to every distinct id in one transaction.
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

	var missing []int64
	for _, id := range ids {
		var exists bool
		exists, err = shotExists(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		if !exists {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
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
	query := `
		SELECT id, shot_id, department, old_status, new_status, changed_by, changed_at
		FROM status_log
		WHERE shot_id = ?`
	args := []any{shotID}
	if department != "" {
		query += ` AND department = ?`
		args = append(args, string(department))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var (
			entry      domain.AuditEntry
			department string
			oldStatus  sql.NullString
			newStatus  string
			changedRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.ShotID, &department, &oldStatus, &newStatus, &entry.ChangedBy, &changedRaw); err != nil {
			return nil, err
		}
		entry.Department = domain.Department(department)
		if oldStatus.Valid {
			entry.OldStatus = domain.Status(oldStatus.String)
		}
		entry.NewStatus = domain.Status(newStatus)
		entry.ChangedAt = parseTS(changedRaw)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// queryer represents a multi-row query contract used by DB and Tx implementations.
type queryer interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// txContext is the subset of *sql.Tx used by transition writes.
type txContext interface {
	queryRower
	execerContext
}

// shotExists reports whether a shot row exists.
func shotExists(ctx context.Context, q queryRower, id int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM shots WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// applyChange checks policy against the current row, then upserts the row and appends the audit entry.
func applyChange(ctx context.Context, tx txContext, change domain.StatusChange, policy domain.TransitionPolicy) (domain.DepartmentStatus, error) {
	prev, err := getStatus(ctx, tx, change.ShotID, change.Department)
	if err != nil {
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
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shot_statuses(shot_id, department, status, assignee, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(shot_id, department) DO UPDATE SET
			status = excluded.status,
			assignee = excluded.assignee,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`,
		next.ShotID,
		string(next.Department),
		string(next.Status),
		nullableString(next.Assignee),
		next.UpdatedBy,
		ts(next.UpdatedAt),
	); err != nil {
		return domain.DepartmentStatus{}, fmt.Errorf("upsert shot status: %w", err)
	}
	if err := insertAuditEntry(ctx, tx, change.AuditEntry(prev)); err != nil {
		return domain.DepartmentStatus{}, err
	}
	return next, nil
}

// getStatus returns the current row for a pair, or nil when none is recorded.
func getStatus(ctx context.Context, q queryRower, shotID int64, department domain.Department) (*domain.DepartmentStatus, error) {
	row := q.QueryRowContext(ctx, `
		SELECT shot_id, department, status, assignee, updated_by, updated_at
		FROM shot_statuses
		WHERE shot_id = ? AND department = ?
	`, shotID, string(department))
	st, err := scanStatus(row)
	if errors.Is(err, app.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// insertAuditEntry appends a status_log record.
func insertAuditEntry(ctx context.Context, execer execerContext, entry domain.AuditEntry) error {
	var oldStatus any
	if entry.OldStatus != "" {
		oldStatus = string(entry.OldStatus)
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO status_log(shot_id, department, old_status, new_status, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.ShotID,
		string(entry.Department),
		oldStatus,
		string(entry.NewStatus),
		entry.ChangedBy,
		ts(entry.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

// listStatuses returns current rows grouped by shot id, in department order.
func listStatuses(ctx context.Context, q queryer, where string, args []any) (map[int64][]domain.DepartmentStatus, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT shot_id, department, status, assignee, updated_by, updated_at
		FROM shot_statuses
		WHERE `+where+`
		ORDER BY shot_id ASC, CASE department
			WHEN 'lookdev' THEN 0 WHEN 'blocking' THEN 1 WHEN 'spline' THEN 2 WHEN 'polish' THEN 3
			WHEN 'lighting' THEN 4 WHEN 'rendering' THEN 5 ELSE 6 END
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]domain.DepartmentStatus{}
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out[st.ShotID] = append(out[st.ShotID], st)
	}
	return out, rows.Err()
}

// shotFilterClause builds the WHERE clause for shot listings over alias s.
func shotFilterClause(filter domain.ShotFilter) (string, []any) {
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 5)
	if filter.ActCode != "" {
		clauses = append(clauses, "s.act_code = ?")
		args = append(args, filter.ActCode)
	}
	if filter.Priority != "" {
		clauses = append(clauses, "s.priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Search != "" {
		clauses = append(clauses, `LOWER(s.act_code || '_' || s.code) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Search))+"%")
	}
	if filter.Department != "" || filter.Status != "" {
		sub := "EXISTS (SELECT 1 FROM shot_statuses ss WHERE ss.shot_id = s.id"
		if filter.Department != "" {
			sub += " AND ss.department = ?"
			args = append(args, string(filter.Department))
		}
		if filter.Status != "" {
			sub += " AND ss.status = ?"
			args = append(args, string(filter.Status))
		}
		clauses = append(clauses, sub+")")
	}
	return strings.Join(clauses, " AND "), args
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(v string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(v)
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanAct handles scan act.
func scanAct(s scanner) (domain.Act, error) {
	var (
		act        domain.Act
		createdRaw string
	)
	if err := s.Scan(&act.Code, &act.Name, &act.SortOrder, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Act{}, app.ErrNotFound
		}
		return domain.Act{}, err
	}
	act.CreatedAt = parseTS(createdRaw)
	return act, nil
}

// scanShot handles scan shot.
func scanShot(s scanner) (domain.Shot, error) {
	var (
		shot       domain.Shot
		priority   string
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(
		&shot.ID,
		&shot.ActCode,
		&shot.Code,
		&shot.FrameStart,
		&shot.FrameEnd,
		&priority,
		&shot.Notes,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shot{}, app.ErrNotFound
		}
		return domain.Shot{}, err
	}
	shot.Priority = domain.Priority(priority)
	shot.CreatedAt = parseTS(createdRaw)
	shot.UpdatedAt = parseTS(updatedRaw)
	return shot, nil
}

// scanStatus handles scan status.
func scanStatus(s scanner) (domain.DepartmentStatus, error) {
	var (
		st         domain.DepartmentStatus
		department string
		status     string
		assignee   sql.NullString
		updatedRaw string
	)
	if err := s.Scan(&st.ShotID, &department, &status, &assignee, &st.UpdatedBy, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DepartmentStatus{}, app.ErrNotFound
		}
		return domain.DepartmentStatus{}, err
	}
	st.Department = domain.Department(department)
	st.Status = domain.Status(status)
	if assignee.Valid {
		v := assignee.String
		st.Assignee = &v
	}
	st.UpdatedAt = parseTS(updatedRaw)
	return st, nil
}

// translateConstraint maps SQLite constraint failures onto app errors.
func translateConstraint(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	msg := sqliteErr.Error()
	switch code := sqliteErr.Code(); {
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", app.ErrNotFound, err)
	case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", app.ErrConflict, err)
	default:
		return err
	}
}

// nullableString handles nullable string.
func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
