package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/domain/worker"
	"github.com/hivetown/swarmd/internal/port/database"
)

// Store implements database.Store on a pgx connection pool. Group lock
// operations run inside a transaction with row locks, so the all-or-nothing
// guarantee holds across concurrent daemons sharing one database.
type Store struct {
	pool *pgxpool.Pool

	// Now is overridable in tests.
	Now func() time.Time
}

var _ database.Store = (*Store)(nil)

const uniqueViolation = "23505"

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, Now: time.Now}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	touched, err := json.Marshal(t.TouchedFiles)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	deliverables, err := json.Marshal(t.Deliverables)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (lane, id, type, status, wave, objective, assigned_to,
		                   touched_files, deliverables, origin, notes, version,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (lane, id) DO NOTHING`,
		t.Lane, t.ID, t.Type, t.Status, t.Wave, t.Objective, t.AssignedTo,
		touched, deliverables, t.Origin, t.Notes, t.Version,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create task %s: %w", t.Key(), domain.ErrConflict)
	}
	return nil
}

const taskColumns = `lane, id, type, status, wave, objective, assigned_to,
	touched_files, deliverables, origin, notes, version, created_at, updated_at`

func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	var touched, deliverables []byte
	err := row.Scan(&t.Lane, &t.ID, &t.Type, &t.Status, &t.Wave, &t.Objective,
		&t.AssignedTo, &touched, &deliverables, &t.Origin, &t.Notes,
		&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(touched, &t.TouchedFiles); err != nil {
		return nil, fmt.Errorf("decode touched_files: %w", err)
	}
	if err := json.Unmarshal(deliverables, &t.Deliverables); err != nil {
		return nil, fmt.Errorf("decode deliverables: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, lane task.Lane, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE lane = $1 AND id = $2`, lane, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", task.Key(lane, id), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", task.Key(lane, id), err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, lane task.Lane) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at, lane, id`
	args := []any{}
	if lane != "" {
		query = `SELECT ` + taskColumns + ` FROM tasks WHERE lane = $1 ORDER BY created_at, lane, id`
		args = append(args, lane)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask applies a version-checked update and bumps the version on
// success. A stale version yields domain.ErrConflict, a missing row
// domain.ErrNotFound.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	touched, err := json.Marshal(t.TouchedFiles)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	deliverables, err := json.Marshal(t.Deliverables)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	now := s.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET type = $3, status = $4, wave = $5, objective = $6, assigned_to = $7,
		    touched_files = $8, deliverables = $9, origin = $10, notes = $11,
		    version = version + 1, updated_at = $12
		WHERE lane = $1 AND id = $2 AND version = $13
		RETURNING version`,
		t.Lane, t.ID, t.Type, t.Status, t.Wave, t.Objective, t.AssignedTo,
		touched, deliverables, t.Origin, t.Notes, now, t.Version)

	var newVersion int
	if err := row.Scan(&newVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.classifyTaskMiss(ctx, t.Lane, t.ID)
		}
		return fmt.Errorf("update task %s: %w", t.Key(), err)
	}
	t.Version = newVersion
	t.UpdatedAt = now
	return nil
}

func (s *Store) classifyTaskMiss(ctx context.Context, lane task.Lane, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tasks WHERE lane = $1 AND id = $2)`, lane, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.Key(lane, id), err)
	}
	if exists {
		return fmt.Errorf("update task %s: %w", task.Key(lane, id), domain.ErrConflict)
	}
	return fmt.Errorf("update task %s: %w", task.Key(lane, id), domain.ErrNotFound)
}

func (s *Store) DeleteTask(ctx context.Context, lane task.Lane, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE lane = $1 AND id = $2`, lane, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", task.Key(lane, id), err)
	}
	return nil
}

func (s *Store) CreateWorker(ctx context.Context, w *worker.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (name, lane, task_id, wave, ttl_seconds, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.Name, w.Lane, w.TaskID, w.Wave, w.TTLSeconds, w.RegisteredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create worker %s: %w", w.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create worker %s: %w", w.Name, err)
	}
	return nil
}

func (s *Store) GetWorker(ctx context.Context, name string) (*worker.Worker, error) {
	var w worker.Worker
	err := s.pool.QueryRow(ctx, `
		SELECT name, lane, task_id, wave, ttl_seconds, registered_at
		FROM workers WHERE name = $1`, name).
		Scan(&w.Name, &w.Lane, &w.TaskID, &w.Wave, &w.TTLSeconds, &w.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get worker %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get worker %s: %w", name, err)
	}
	return &w, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]worker.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, lane, task_id, wave, ttl_seconds, registered_at
		FROM workers ORDER BY registered_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []worker.Worker
	for rows.Next() {
		var w worker.Worker
		if err := rows.Scan(&w.Name, &w.Lane, &w.TaskID, &w.Wave, &w.TTLSeconds, &w.RegisteredAt); err != nil {
			return nil, fmt.Errorf("list workers: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func (s *Store) DeleteWorker(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM workers WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete worker %s: %w", name, err)
	}
	return nil
}

// AcquireLocks checks and writes the whole group inside one transaction,
// holding row locks on the paths involved so two daemons cannot interleave.
func (s *Store) AcquireLocks(ctx context.Context, locks []lock.Lock) ([]lock.Lock, error) {
	paths := make([]string, len(locks))
	for i, l := range locks {
		paths[i] = l.Path
	}

	var conflicts []lock.Lock
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT path, holder, token, ttl_seconds, acquired_at
			FROM locks WHERE path = ANY($1) FOR UPDATE`, paths)
		if err != nil {
			return err
		}
		current := make(map[string]lock.Lock)
		for rows.Next() {
			var l lock.Lock
			if err := rows.Scan(&l.Path, &l.Holder, &l.Token, &l.TTLSeconds, &l.AcquiredAt); err != nil {
				rows.Close()
				return err
			}
			current[l.Path] = l
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := s.Now()
		for _, l := range locks {
			if cur, ok := current[l.Path]; ok && !cur.Expired(now) && cur.Holder != l.Holder {
				conflicts = append(conflicts, cur)
			}
		}
		if len(conflicts) > 0 {
			return nil
		}

		for _, l := range locks {
			_, err := tx.Exec(ctx, `
				INSERT INTO locks (path, holder, token, ttl_seconds, acquired_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (path) DO UPDATE
				SET holder = EXCLUDED.holder, token = EXCLUDED.token,
				    ttl_seconds = EXCLUDED.ttl_seconds, acquired_at = EXCLUDED.acquired_at`,
				l.Path, l.Holder, l.Token, l.TTLSeconds, l.AcquiredAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquire locks: %w", err)
	}
	return conflicts, nil
}

func (s *Store) ReleaseLocks(ctx context.Context, paths []string, holder string) ([]string, error) {
	var released []string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT path, holder, ttl_seconds, acquired_at
			FROM locks WHERE path = ANY($1) FOR UPDATE`, paths)
		if err != nil {
			return err
		}
		var mine, expired []string
		now := s.Now()
		for rows.Next() {
			var l lock.Lock
			if err := rows.Scan(&l.Path, &l.Holder, &l.TTLSeconds, &l.AcquiredAt); err != nil {
				rows.Close()
				return err
			}
			switch {
			case l.Holder == holder:
				mine = append(mine, l.Path)
			case l.Expired(now):
				expired = append(expired, l.Path)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Expired records held by others are cleaned up in passing.
		if len(expired) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM locks WHERE path = ANY($1)`, expired); err != nil {
				return err
			}
		}
		if len(mine) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM locks WHERE path = ANY($1)`, mine); err != nil {
				return err
			}
		}
		released = mine
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("release locks: %w", err)
	}
	return released, nil
}

func (s *Store) ListLocks(ctx context.Context) ([]lock.Lock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, holder, token, ttl_seconds, acquired_at
		FROM locks ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var locks []lock.Lock
	for rows.Next() {
		var l lock.Lock
		if err := rows.Scan(&l.Path, &l.Holder, &l.Token, &l.TTLSeconds, &l.AcquiredAt); err != nil {
			return nil, fmt.Errorf("list locks: %w", err)
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

func (s *Store) GetWave(ctx context.Context) (*wave.Wave, error) {
	var w wave.Wave
	var members []byte
	err := s.pool.QueryRow(ctx, `
		SELECT number, members, status, version, updated_at FROM wave`).
		Scan(&w.Number, &members, &w.Status, &w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &wave.Wave{Number: 0, Status: wave.StatusComposing}, nil
		}
		return nil, fmt.Errorf("get wave: %w", err)
	}
	if err := json.Unmarshal(members, &w.Members); err != nil {
		return nil, fmt.Errorf("get wave: decode members: %w", err)
	}
	return &w, nil
}

// PutWave persists the singleton with a version check, inserting the row on
// first use. The commit makes the record durable before the bumped version
// is handed back to the caller.
func (s *Store) PutWave(ctx context.Context, w *wave.Wave) error {
	members, err := json.Marshal(w.Members)
	if err != nil {
		return fmt.Errorf("put wave: %w", err)
	}

	now := s.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE wave
		SET number = $1, members = $2, status = $3, version = version + 1, updated_at = $4
		WHERE version = $5
		RETURNING version`,
		w.Number, members, w.Status, now, w.Version)

	var newVersion int
	switch err := row.Scan(&newVersion); {
	case err == nil:
		w.Version = newVersion
		w.UpdatedAt = now
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// No row updated: either the singleton does not exist yet or the
		// caller's version is stale.
		if w.Version != 0 {
			return fmt.Errorf("put wave: %w", domain.ErrConflict)
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO wave (singleton, number, members, status, version, updated_at)
			VALUES (TRUE, $1, $2, $3, 1, $4)
			ON CONFLICT (singleton) DO NOTHING`,
			w.Number, members, w.Status, now)
		if err != nil {
			return fmt.Errorf("put wave: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("put wave: %w", domain.ErrConflict)
		}
		w.Version = 1
		w.UpdatedAt = now
		return nil
	default:
		return fmt.Errorf("put wave: %w", err)
	}
}

func resultName(r *result.Result) string {
	return string(r.Lane) + "_" + r.TaskID + "_RESULT"
}

func (s *Store) PutResult(ctx context.Context, r *result.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("put result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO results (name, state, payload, submitted_at)
		VALUES ($1, 'pending', $2, $3)
		ON CONFLICT (name) WHERE state = 'pending'
		DO UPDATE SET payload = EXCLUDED.payload, submitted_at = EXCLUDED.submitted_at`,
		resultName(r), payload, r.SubmittedAt)
	if err != nil {
		return fmt.Errorf("%w: put result %s: %v", domain.ErrDurability, resultName(r), err)
	}
	return nil
}

func (s *Store) ListPendingResults(ctx context.Context) ([]database.PendingResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, payload FROM results WHERE state = 'pending' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var pending []database.PendingResult
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		p := database.PendingResult{Name: name}
		var r result.Result
		if err := json.Unmarshal(payload, &r); err != nil {
			p.Err = fmt.Errorf("decode %s: %w", name, err)
		} else {
			p.Result = &r
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (s *Store) ArchiveResult(ctx context.Context, name string) error {
	return s.moveResult(ctx, name, "archived")
}

func (s *Store) QuarantineResult(ctx context.Context, name string) error {
	return s.moveResult(ctx, name, "quarantined")
}

func (s *Store) moveResult(ctx context.Context, name, state string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE results SET state = $2, collected_at = $3
		WHERE name = $1 AND state = 'pending'`, name, state, s.Now())
	if err != nil {
		return fmt.Errorf("%w: move result %s: %v", domain.ErrDurability, name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("move result %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE tasks, workers, locks, wave, results`)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
