package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pixelmint/genstudio/internal/domain"
)

// Ledger owns the authoritative credit balance per user and the
// append-only transaction log. Every balance mutation and its log row
// are written in the same database transaction under the user's row
// lock, so concurrent debits on one user serialize and the log always
// sums to the balance.
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Ledger
func New(db *sqlx.DB, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
	}
}

// DebitTx decrements a user's balance inside the caller's transaction.
// Returns domain.ErrInsufficientCredits when the locked balance is short;
// in that case nothing is written.
func (l *Ledger) DebitTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int64, kind, relatedJobID, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	var credits int64
	err := tx.QueryRowContext(ctx,
		`SELECT credits FROM credit_balances WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&credits)

	if err != nil {
		if err == sql.ErrNoRows {
			// No balance row means the user has never been credited
			return 0, domain.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("failed to lock balance row: %w", err)
	}

	if credits < amount {
		return 0, domain.ErrInsufficientCredits
	}

	newBalance := credits - amount

	_, err = tx.ExecContext(ctx, `
		UPDATE credit_balances
		SET credits = $1,
		    total_spent = total_spent + $2,
		    updated_at = NOW()
		WHERE user_id = $3
	`, newBalance, amount, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := l.appendTransaction(ctx, tx, userID, kind, -amount, newBalance, relatedJobID, description); err != nil {
		return 0, err
	}

	l.logger.Debug("Credits debited",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("new_balance", newBalance),
		slog.String("kind", kind),
	)

	return newBalance, nil
}

// Debit decrements a user's balance in its own transaction
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, kind, relatedJobID, description string) (int64, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newBalance, err := l.DebitTx(ctx, tx, userID, amount, kind, relatedJobID, description)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}

	return newBalance, nil
}

// CreditTx increments a user's balance inside the caller's transaction.
// Creates the balance row on first credit. Never fails on balance grounds.
func (l *Ledger) CreditTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int64, kind, relatedJobID, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var newBalance int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_balances (user_id, credits, total_earned, total_spent, updated_at)
		VALUES ($1, $2, $2, 0, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET credits = credit_balances.credits + $2,
		    total_earned = credit_balances.total_earned + $2,
		    updated_at = NOW()
		RETURNING credits
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}

	if err := l.appendTransaction(ctx, tx, userID, kind, amount, newBalance, relatedJobID, description); err != nil {
		return 0, err
	}

	l.logger.Debug("Credits credited",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("new_balance", newBalance),
		slog.String("kind", kind),
	)

	return newBalance, nil
}

// Credit increments a user's balance in its own transaction
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, kind, relatedJobID, description string) (int64, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newBalance, err := l.CreditTx(ctx, tx, userID, amount, kind, relatedJobID, description)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit credit: %w", err)
	}

	return newBalance, nil
}

// appendTransaction writes one append-only log row. Amount is signed.
func (l *Ledger) appendTransaction(ctx context.Context, tx *sqlx.Tx, userID, kind string, amount, balanceAfter int64, relatedJobID, description string) error {
	var jobID sql.NullString
	if relatedJobID != "" {
		jobID = sql.NullString{String: relatedJobID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (tx_id, user_id, kind, amount, balance_after, related_job_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, uuid.New().String(), userID, kind, amount, balanceAfter, jobID, description)
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}

	return nil
}

// Check is a non-authoritative pre-flight read. The balance can change
// between a check and the debit, so callers must still treat a late
// ErrInsufficientCredits from Debit as authoritative.
func (l *Ledger) Check(ctx context.Context, userID string, amount int64) (bool, int64, error) {
	var credits int64
	err := l.db.GetContext(ctx, &credits,
		`SELECT credits FROM credit_balances WHERE user_id = $1`, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, amount, nil
		}
		return false, 0, fmt.Errorf("failed to read balance: %w", err)
	}

	if credits >= amount {
		return true, 0, nil
	}
	return false, amount - credits, nil
}

// Balance returns the current credit position for a user. Users with no
// ledger activity get a zero balance rather than an error.
func (l *Ledger) Balance(ctx context.Context, userID string) (*domain.Balance, error) {
	var balance domain.Balance
	err := l.db.GetContext(ctx, &balance, `
		SELECT user_id, credits, total_earned, total_spent, updated_at
		FROM credit_balances
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return &domain.Balance{UserID: userID, UpdatedAt: time.Now()}, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &balance, nil
}

// TxFilter selects transaction-log rows for listing
type TxFilter struct {
	UserID   string
	Kind     string
	PageSize int
	Cursor   *TxCursor
}

// TxCursor is a keyset-pagination position in the transaction log
type TxCursor struct {
	CreatedAt time.Time
	TxID      string
}

// ListTransactions returns a page of a user's transaction log, newest
// first. Fetches one extra row so callers can detect another page.
func (l *Ledger) ListTransactions(ctx context.Context, filter TxFilter) ([]domain.CreditTransaction, error) {
	query := `
		SELECT tx_id, user_id, kind, amount, balance_after, related_job_id, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
	`
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, tx_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.TxID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, tx_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var txs []domain.CreditTransaction
	if err := l.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txs, nil
}
