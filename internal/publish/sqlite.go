package publish

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// JobStore is the durable job table. Every state transition of a job goes
// through one of these methods; each runs in its own transaction.
type JobStore interface {
	// Insert adds a Pending job. It returns false without error when the
	// tempId is already known as a job or a receipt.
	Insert(ctx context.Context, job *Job) (bool, error)
	Get(ctx context.Context, tempID string) (*Job, error)
	Receipt(ctx context.Context, tempID string) (*Receipt, error)

	// ResetInFlight returns jobs left InFlight by a crash to Pending, or
	// resolves them as Cancelled when cancellation was requested.
	ResetInFlight(ctx context.Context, now time.Time) (int, error)
	// ClaimNext moves the earliest-due Pending job to InFlight.
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)
	// NextDue returns the earliest NextRetryAt among Pending jobs.
	NextDue(ctx context.Context) (time.Time, bool, error)

	// Reschedule returns a job to Pending unconditionally, dropping any cancel
	// request. It is used only after an upload already succeeded.
	Reschedule(ctx context.Context, tempID string, attempts int, next time.Time, lastErr string) error
	// Settle records a failed attempt as Pending (due at next) or Failed. A
	// cancellation requested during the attempt wins: the job is finished as
	// Cancelled instead. It returns the status the job ended up in.
	Settle(ctx context.Context, tempID string, to Status, attempts int, next time.Time, lastErr string, now time.Time) (Status, error)
	Finish(ctx context.Context, tempID string, status Status, attempts int, lastErr string) error

	// RequestCancel cancels a Pending or Failed job outright and flags an
	// InFlight one. It returns the job's status after the call.
	RequestCancel(ctx context.Context, tempID string, now time.Time) (Status, error)
	ListFailed(ctx context.Context) ([]Job, error)
	Requeue(ctx context.Context, tempID string, now time.Time) error
	Discard(ctx context.Context, tempID string, now time.Time) error

	// LockWorker claims the right to run the worker loop on this store. The
	// returned function releases it.
	LockWorker() (func(), error)

	Close() error
}

// SQLiteStore implements JobStore on a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ JobStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	temp_id          TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	result           TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	next_retry_at    INTEGER NOT NULL,
	status           TEXT NOT NULL,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS jobs_due ON jobs (status, next_retry_at);
CREATE TABLE IF NOT EXISTS receipts (
	temp_id       TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	attempt_count INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL,
	last_error    TEXT NOT NULL DEFAULT ''
);`

// OpenSQLite opens (creating if needed) the queue database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// One connection serializes every transition on the job table.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("Publish queue database opened")
	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const jobColumns = `temp_id, user_id, result, created_at, attempt_count, next_retry_at, status, cancel_requested, last_error`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j               Job
		result          string
		created, next   int64
		status          string
		cancelRequested int
	)
	if err := row.Scan(&j.TempID, &j.UserID, &result, &created, &j.AttemptCount, &next, &status, &cancelRequested, &j.LastError); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(result), &j.Result); err != nil {
		return nil, fmt.Errorf("decode job %s result: %w", j.TempID, err)
	}
	j.CreatedAt = time.Unix(0, created)
	j.NextRetryAt = time.Unix(0, next)
	j.Status = Status(status)
	j.CancelRequested = cancelRequested != 0
	return &j, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func hasReceipt(ctx context.Context, tx *sql.Tx, tempID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM receipts WHERE temp_id = ?`, tempID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func finishTx(ctx context.Context, tx *sql.Tx, tempID string, status Status, attempts int, lastErr string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE temp_id = ?`, tempID); err != nil {
		return fmt.Errorf("delete job %s: %w", tempID, err)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO receipts (temp_id, status, attempt_count, finished_at, last_error) VALUES (?, ?, ?, ?, ?)`,
		tempID, string(status), attempts, now.UnixNano(), lastErr)
	if err != nil {
		return fmt.Errorf("write receipt %s: %w", tempID, err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, job *Job) (bool, error) {
	result, err := json.Marshal(job.Result)
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}

	inserted := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		done, err := hasReceipt(ctx, tx, job.TempID)
		if err != nil || done {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, 0, '')`,
			job.TempID, job.UserID, string(result), job.CreatedAt.UnixNano(), job.AttemptCount,
			job.NextRetryAt.UnixNano(), string(StatusPending))
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.TempID, err)
		}
		n, err := res.RowsAffected()
		inserted = n == 1
		return err
	})
	return inserted, err
}

func (s *SQLiteStore) Get(ctx context.Context, tempID string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE temp_id = ?`, tempID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", tempID, err)
	}
	return j, nil
}

func (s *SQLiteStore) Receipt(ctx context.Context, tempID string) (*Receipt, error) {
	var (
		r        Receipt
		status   string
		finished int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT temp_id, status, attempt_count, finished_at, last_error FROM receipts WHERE temp_id = ?`, tempID).
		Scan(&r.TempID, &status, &r.AttemptCount, &finished, &r.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", tempID, err)
	}
	r.Status = Status(status)
	r.FinishedAt = time.Unix(0, finished)
	return &r, nil
}

func (s *SQLiteStore) ResetInFlight(ctx context.Context, now time.Time) (int, error) {
	count := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT temp_id, attempt_count, last_error FROM jobs WHERE status = ? AND cancel_requested = 1`, string(StatusInFlight))
		if err != nil {
			return err
		}
		type cancelled struct {
			id       string
			attempts int
			lastErr  string
		}
		var toCancel []cancelled
		for rows.Next() {
			var c cancelled
			if err := rows.Scan(&c.id, &c.attempts, &c.lastErr); err != nil {
				rows.Close()
				return err
			}
			toCancel = append(toCancel, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, c := range toCancel {
			if err := finishTx(ctx, tx, c.id, StatusCancelled, c.attempts, c.lastErr, now); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE status = ?`, string(StatusPending), string(StatusInFlight))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		count = int(n) + len(toCancel)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset in-flight jobs: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		j, err := scanJob(tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND cancel_requested = 0 AND next_retry_at <= ?
			 ORDER BY next_retry_at, created_at LIMIT 1`,
			string(StatusPending), now.UnixNano()))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE temp_id = ? AND status = ?`,
			string(StatusInFlight), j.TempID, string(StatusPending)); err != nil {
			return err
		}
		j.Status = StatusInFlight
		job = j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) NextDue(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MIN(next_retry_at) FROM jobs WHERE status = ?`, string(StatusPending)).Scan(&next)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next due: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, next.Int64), true, nil
}

func (s *SQLiteStore) Reschedule(ctx context.Context, tempID string, attempts int, next time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempt_count = ?, next_retry_at = ?, last_error = ?, cancel_requested = 0 WHERE temp_id = ?`,
		string(StatusPending), attempts, next.UnixNano(), lastErr, tempID)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", tempID, err)
	}
	return nil
}

func (s *SQLiteStore) Settle(ctx context.Context, tempID string, to Status, attempts int, next time.Time, lastErr string, now time.Time) (Status, error) {
	if to != StatusPending && to != StatusFailed {
		return "", fmt.Errorf("settle job %s: cannot settle as %s", tempID, to)
	}
	var after Status
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cancelRequested int
		err := tx.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE temp_id = ?`, tempID).Scan(&cancelRequested)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if cancelRequested != 0 {
			after = StatusCancelled
			return finishTx(ctx, tx, tempID, StatusCancelled, attempts, lastErr, now)
		}

		after = to
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, attempt_count = ?, next_retry_at = ?, last_error = ? WHERE temp_id = ?`,
			string(to), attempts, next.UnixNano(), lastErr, tempID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("settle job %s: %w", tempID, err)
	}
	return after, nil
}

func (s *SQLiteStore) Finish(ctx context.Context, tempID string, status Status, attempts int, lastErr string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return finishTx(ctx, tx, tempID, status, attempts, lastErr, time.Now())
	})
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, tempID string, now time.Time) (Status, error) {
	var after Status
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE temp_id = ?`, tempID))
		if errors.Is(err, sql.ErrNoRows) {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM receipts WHERE temp_id = ?`, tempID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			after = Status(status)
			return err
		}
		if err != nil {
			return err
		}
		if j.Status == StatusInFlight {
			after = StatusInFlight
			_, err := tx.ExecContext(ctx, `UPDATE jobs SET cancel_requested = 1 WHERE temp_id = ?`, tempID)
			return err
		}
		after = StatusCancelled
		return finishTx(ctx, tx, tempID, StatusCancelled, j.AttemptCount, j.LastError, now)
	})
	return after, err
}

func (s *SQLiteStore) ListFailed(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at`, string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) Requeue(ctx context.Context, tempID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempt_count = 0, next_retry_at = ?, last_error = '' WHERE temp_id = ? AND status = ?`,
		string(StatusPending), now.UnixNano(), tempID, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("requeue %s: %w", tempID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Discard(ctx context.Context, tempID string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE temp_id = ? AND status = ?`,
			tempID, string(StatusFailed)))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return finishTx(ctx, tx, tempID, StatusCancelled, j.AttemptCount, j.LastError, now)
	})
}
