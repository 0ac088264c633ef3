package dto

import (
	"time"

	"github.com/pixelmint/genstudio/internal/domain"
)

type BalanceResponse struct {
	UserID      string `json:"user_id"`
	Credits     int64  `json:"credits"`
	TotalEarned int64  `json:"total_earned"`
	TotalSpent  int64  `json:"total_spent"`
	UpdatedAt   string `json:"updated_at"`
}

// FromBalance converts a ledger balance into its API shape
func FromBalance(b *domain.Balance) BalanceResponse {
	resp := BalanceResponse{
		UserID:      b.UserID,
		Credits:     b.Credits,
		TotalEarned: b.TotalEarned,
		TotalSpent:  b.TotalSpent,
	}
	if !b.UpdatedAt.IsZero() {
		resp.UpdatedAt = b.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

type CheckBalanceResponse struct {
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Sufficient bool   `json:"sufficient"`
	Shortfall  int64  `json:"shortfall"`
}

type RechargeRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type RechargeResponse struct {
	UserID  string `json:"user_id"`
	Credits int64  `json:"credits"`
}

type ListTransactionsRequest struct {
	Kind     string `form:"kind"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListTransactionsResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

type TransactionDTO struct {
	TxID         string `json:"tx_id"`
	UserID       string `json:"user_id"`
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	RelatedJobID string `json:"related_job_id,omitempty"`
	Description  string `json:"description,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// FromTransaction converts a ledger row into its API shape
func FromTransaction(tx *domain.CreditTransaction) TransactionDTO {
	d := TransactionDTO{
		TxID:         tx.TxID,
		UserID:       tx.UserID,
		Kind:         tx.Kind,
		Amount:       tx.Amount,
		BalanceAfter: tx.BalanceAfter,
		Description:  tx.Description,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.RelatedJobID.Valid {
		d.RelatedJobID = tx.RelatedJobID.String
	}
	return d
}
