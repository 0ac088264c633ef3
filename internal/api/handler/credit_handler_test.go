package handler

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/genstudio/internal/api/dto"
	"github.com/pixelmint/genstudio/internal/domain"
)

func TestGetBalance(t *testing.T) {
	r := newTestRouter(&Dependencies{
		Ledger: &fakeCredits{balance: &domain.Balance{
			UserID:      "user-1",
			Credits:     42,
			TotalEarned: 100,
			TotalSpent:  58,
			UpdatedAt:   time.Now(),
		}},
	})

	w := doJSON(t, r, http.MethodGet, "/api/v1/credits/user-1", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.BalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Credits)
	assert.Equal(t, int64(58), resp.TotalSpent)
}

func TestGetBalance_UnknownUserReadsZero(t *testing.T) {
	r := newTestRouter(&Dependencies{
		Ledger: &fakeCredits{balance: &domain.Balance{UserID: "user-9"}},
	})

	w := doJSON(t, r, http.MethodGet, "/api/v1/credits/user-9", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.BalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Credits)
}

func TestCheckBalance(t *testing.T) {
	t.Run("sufficient", func(t *testing.T) {
		credits := &fakeCredits{balance: &domain.Balance{UserID: "user-1", Credits: 42}}
		r := newTestRouter(&Dependencies{Ledger: credits})

		w := doJSON(t, r, http.MethodGet, "/api/v1/credits/user-1/check?amount=30", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(30), credits.checkedAmount)

		var resp dto.CheckBalanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Sufficient)
		assert.Zero(t, resp.Shortfall)
	})

	t.Run("reports shortfall", func(t *testing.T) {
		credits := &fakeCredits{balance: &domain.Balance{UserID: "user-1", Credits: 10}}
		r := newTestRouter(&Dependencies{Ledger: credits})

		w := doJSON(t, r, http.MethodGet, "/api/v1/credits/user-1/check?amount=25", nil)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.CheckBalanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Sufficient)
		assert.Equal(t, int64(15), resp.Shortfall)
	})

	t.Run("rejects bad amount", func(t *testing.T) {
		r := newTestRouter(&Dependencies{Ledger: &fakeCredits{}})

		for _, query := range []string{"", "?amount=0", "?amount=-3", "?amount=lots"} {
			w := doJSON(t, r, http.MethodGet, "/api/v1/credits/user-1/check"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	})
}

func TestRecharge(t *testing.T) {
	t.Run("adds credits", func(t *testing.T) {
		credits := &fakeCredits{newBalance: 150}
		r := newTestRouter(&Dependencies{Ledger: credits})

		w := doJSON(t, r, http.MethodPost, "/api/v1/credits/user-1/recharge", dto.RechargeRequest{
			Amount: 100,
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(100), credits.creditedAmount)
		assert.Equal(t, domain.TxKindRecharge, credits.creditedKind)

		var resp dto.RechargeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(150), resp.Credits)
	})

	t.Run("gift kind", func(t *testing.T) {
		credits := &fakeCredits{newBalance: 10}
		r := newTestRouter(&Dependencies{Ledger: credits})

		w := doJSON(t, r, http.MethodPost, "/api/v1/credits/user-1/recharge", dto.RechargeRequest{
			Amount: 10,
			Kind:   domain.TxKindGift,
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.TxKindGift, credits.creditedKind)
	})

	t.Run("rejects bad kind", func(t *testing.T) {
		r := newTestRouter(&Dependencies{Ledger: &fakeCredits{}})

		w := doJSON(t, r, http.MethodPost, "/api/v1/credits/user-1/recharge", dto.RechargeRequest{
			Amount: 10,
			Kind:   domain.TxKindConsume,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		r := newTestRouter(&Dependencies{Ledger: &fakeCredits{}})

		w := doJSON(t, r, http.MethodPost, "/api/v1/credits/user-1/recharge", map[string]interface{}{
			"amount": -5,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListTransactions(t *testing.T) {
	transactions := []domain.CreditTransaction{
		{TxID: "tx-1", UserID: "user-1", Kind: domain.TxKindConsume, Amount: -20, BalanceAfter: 80, CreatedAt: time.Now()},
		{TxID: "tx-2", UserID: "user-1", Kind: domain.TxKindRefund, Amount: 20, BalanceAfter: 100, CreatedAt: time.Now()},
	}

	r := newTestRouter(&Dependencies{Ledger: &fakeCredits{transactions: transactions}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/credits/user-1/transactions", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListTransactionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, int64(-20), resp.Transactions[0].Amount)
	assert.Empty(t, resp.NextCursor)
}

func TestListTransactions_UnknownKind(t *testing.T) {
	r := newTestRouter(&Dependencies{Ledger: &fakeCredits{}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/credits/user-1/transactions?kind=bogus", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
