package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
)

// TransactionRepo provides data access to the reserve transactions
// table. The mutable transaction payload (tentative reservations and
// rate-limit holds) lives in a JSON document column; status columns
// stay relational so conditional transitions remain single
// statements.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo returns a TransactionRepo bound to the provided
// database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, transaction_number, status, object, potential_actions,
       tasks_exported, expires_at, started_at, ended_at`

// Start inserts a new InProgress transaction. A unique index on
// transaction_number turns a concurrent Start with the same derived
// number into errs.ErrConflict, which callers treat as benign: they
// may re-fetch the existing record and proceed.
func (r *TransactionRepo) Start(ctx context.Context, tx *model.ReserveTransaction) error {
	object, err := json.Marshal(tx.Object)
	if err != nil {
		return fmt.Errorf("marshal transaction object: %w", err)
	}
	const q = `INSERT INTO transactions (id, transaction_number, status, object, potential_actions,
               tasks_exported, expires_at, started_at, ended_at)
               VALUES (?, ?, ?, ?, NULL, 0, ?, ?, NULL)`
	_, err = r.db.ExecContext(ctx, q,
		tx.ID, tx.TransactionNumber, string(tx.Status), string(object),
		tx.ExpiresAt.UTC(), tx.StartedAt.UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return errs.ErrConflict
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// isDuplicateKey recognises unique-constraint violations from both
// supported drivers: MySQL error 1062 in production, the SQLite
// UNIQUE message in tests.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FindByID loads a transaction in any status.
func (r *TransactionRepo) FindByID(ctx context.Context, id string) (*model.ReserveTransaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select transaction: %w", err)
	}
	return tx, nil
}

// FindInProgressByID loads a transaction that is still InProgress.
// A terminal transaction surfaces as not found, matching the caller's
// view that there is no longer anything to mutate.
func (r *TransactionRepo) FindInProgressByID(ctx context.Context, id string) (*model.ReserveTransaction, error) {
	return r.findInProgress(ctx, `id`, id)
}

// FindInProgressByNumber is FindInProgressByID keyed by the issued
// transaction number.
func (r *TransactionRepo) FindInProgressByNumber(ctx context.Context, number string) (*model.ReserveTransaction, error) {
	return r.findInProgress(ctx, `transaction_number`, number)
}

func (r *TransactionRepo) findInProgress(ctx context.Context, column, value string) (*model.ReserveTransaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + column + ` = ? AND status = ?`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, q, value, string(model.TransactionStatusInProgress)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("transaction in progress", value)
	}
	if err != nil {
		return nil, fmt.Errorf("select transaction: %w", err)
	}
	return tx, nil
}

// UpdateObject rewrites the transaction's JSON payload. The status
// guard keeps the write from landing on a transaction another caller
// already drove to a terminal state.
func (r *TransactionRepo) UpdateObject(ctx context.Context, id string, object model.TransactionObject) error {
	raw, err := json.Marshal(object)
	if err != nil {
		return fmt.Errorf("marshal transaction object: %w", err)
	}
	const q = `UPDATE transactions SET object = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(raw), id, string(model.TransactionStatusInProgress))
	if err != nil {
		return fmt.Errorf("update transaction object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction object: %w", err)
	}
	if n == 0 {
		return errs.NewNotFound("transaction in progress", id)
	}
	return nil
}

// Confirm moves an InProgress transaction to Confirmed and stores the
// potential actions computed at confirmation time.
func (r *TransactionRepo) Confirm(ctx context.Context, id string, actions model.PotentialActions) error {
	raw, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal potential actions: %w", err)
	}
	return r.finish(ctx, id, model.TransactionStatusConfirmed, string(raw))
}

// Cancel moves an InProgress transaction to Canceled.
func (r *TransactionRepo) Cancel(ctx context.Context, id string) error {
	return r.finish(ctx, id, model.TransactionStatusCanceled, "")
}

func (r *TransactionRepo) finish(ctx context.Context, id string, status model.TransactionStatus, actions string) error {
	var actionsArg interface{}
	if actions != "" {
		actionsArg = actions
	}
	const q = `UPDATE transactions SET status = ?, potential_actions = ?, ended_at = ?
               WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(status), actionsArg, time.Now().UTC(), id, string(model.TransactionStatusInProgress))
	if err != nil {
		return fmt.Errorf("finish transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish transaction: %w", err)
	}
	if n == 0 {
		return errs.NewNotFound("transaction in progress", id)
	}
	return nil
}

// MakeExpired sweeps every InProgress transaction past its expiry to
// Expired and returns the ids it touched, so callers can run the
// cancellation compensation for each.
func (r *TransactionRepo) MakeExpired(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM transactions WHERE status = ? AND expires_at <= ?`,
		string(model.TransactionStatusInProgress), now)
	if err != nil {
		return nil, fmt.Errorf("select expired transactions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	expired := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx,
			`UPDATE transactions SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
			string(model.TransactionStatusExpired), now, id, string(model.TransactionStatusInProgress))
		if err != nil {
			return expired, fmt.Errorf("expire transaction: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// FindOneTasksUnexported returns one terminal transaction whose
// follow-up tasks have not been exported yet, or nil when none
// remains.
func (r *TransactionRepo) FindOneTasksUnexported(ctx context.Context) (*model.ReserveTransaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions
          WHERE tasks_exported = 0 AND status IN (?, ?, ?)
          ORDER BY started_at ASC LIMIT 1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, q,
		string(model.TransactionStatusConfirmed),
		string(model.TransactionStatusCanceled),
		string(model.TransactionStatusExpired)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select unexported transaction: %w", err)
	}
	return tx, nil
}

// MarkTasksExported records that the transaction's follow-up tasks
// have been handed to the queue.
func (r *TransactionRepo) MarkTasksExported(ctx context.Context, id string) error {
	const q = `UPDATE transactions SET tasks_exported = 1 WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("mark tasks exported: %w", err)
	}
	return nil
}

func scanTransaction(row rowScanner) (*model.ReserveTransaction, error) {
	var (
		tx            model.ReserveTransaction
		status        string
		object        string
		actions       sql.NullString
		tasksExported bool
		endedAt       sql.NullTime
	)
	if err := row.Scan(
		&tx.ID, &tx.TransactionNumber, &status, &object, &actions,
		&tasksExported, &tx.ExpiresAt, &tx.StartedAt, &endedAt,
	); err != nil {
		return nil, err
	}
	tx.Status = model.TransactionStatus(status)
	if err := json.Unmarshal([]byte(object), &tx.Object); err != nil {
		return nil, fmt.Errorf("unmarshal transaction object: %w", err)
	}
	if actions.Valid {
		var pa model.PotentialActions
		if err := json.Unmarshal([]byte(actions.String), &pa); err != nil {
			return nil, fmt.Errorf("unmarshal potential actions: %w", err)
		}
		tx.PotentialActions = &pa
	}
	tx.TasksExported = tasksExported
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		tx.EndedAt = &t
	}
	tx.ExpiresAt = tx.ExpiresAt.UTC()
	tx.StartedAt = tx.StartedAt.UTC()
	return &tx, nil
}
