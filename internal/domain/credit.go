package domain

import (
	"database/sql"
	"time"
)

// Credit transaction kinds
const (
	TxKindConsume  = "consume"
	TxKindRefund   = "refund"
	TxKindRecharge = "recharge"
	TxKindGift     = "gift"
)

// ValidTxKind reports whether k is a known transaction kind.
func ValidTxKind(k string) bool {
	switch k {
	case TxKindConsume, TxKindRefund, TxKindRecharge, TxKindGift:
		return true
	}
	return false
}

// Balance is the authoritative credit position for one user.
// Mutated only inside a ledger transaction holding the row lock.
type Balance struct {
	UserID      string    `db:"user_id"`
	Credits     int64     `db:"credits"`
	TotalEarned int64     `db:"total_earned"`
	TotalSpent  int64     `db:"total_spent"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// CreditTransaction is one append-only ledger row. Summing a user's
// Amount values always equals their current balance.
type CreditTransaction struct {
	TxID         string         `db:"tx_id"`
	UserID       string         `db:"user_id"`
	Kind         string         `db:"kind"`
	Amount       int64          `db:"amount"` // signed: negative for consume
	BalanceAfter int64          `db:"balance_after"`
	RelatedJobID sql.NullString `db:"related_job_id"`
	Description  string         `db:"description"`
	CreatedAt    time.Time      `db:"created_at"`
}
