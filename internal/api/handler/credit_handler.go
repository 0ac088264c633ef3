package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pixelmint/genstudio/internal/api/dto"
	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/ledger"
)

// GetBalance handles GET /api/v1/credits/:user_id
// Users without any ledger history read as a zero balance
func (h *CreditHandler) GetBalance(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to read balance",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromBalance(balance))
}

// CheckBalance handles GET /api/v1/credits/:user_id/check?amount=N
// Pre-flight affordability check: reports whether the user could cover
// a debit of the given amount, and the shortfall if not. Advisory only;
// the submit path re-checks inside its transaction.
func (h *CreditHandler) CheckBalance(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "amount must be a positive integer",
		})
		return
	}

	sufficient, shortfall, err := h.ledger.Check(c.Request.Context(), userID, amount)
	if err != nil {
		h.logger.Error("Failed to check balance",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check balance",
		})
		return
	}

	c.JSON(http.StatusOK, dto.CheckBalanceResponse{
		UserID:     userID,
		Amount:     amount,
		Sufficient: sufficient,
		Shortfall:  shortfall,
	})
}

// ListTransactions handles GET /api/v1/credits/:user_id/transactions
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	var req dto.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Kind != "" && !domain.ValidTxKind(req.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown transaction kind",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeTxCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := ledger.TxFilter{
		UserID:   userID,
		Kind:     req.Kind,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	transactions, err := h.ledger.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list transactions",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list transactions",
		})
		return
	}

	hasMore := len(transactions) > req.PageSize
	if hasMore {
		transactions = transactions[:req.PageSize]
	}

	txResponse := make([]dto.TransactionDTO, len(transactions))
	for i := range transactions {
		txResponse[i] = dto.FromTransaction(&transactions[i])
	}

	var nextCursor string
	if hasMore {
		last := transactions[len(transactions)-1]
		nextCursor = EncodeTxCursor(&ledger.TxCursor{
			CreatedAt: last.CreatedAt,
			TxID:      last.TxID,
		})
	}

	c.JSON(http.StatusOK, dto.ListTransactionsResponse{
		Transactions: txResponse,
		NextCursor:   nextCursor,
	})
}

// Recharge handles POST /api/v1/credits/:user_id/recharge
// Adds credits to the user's balance
func (h *CreditHandler) Recharge(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	var req dto.RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "amount must be positive",
		})
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.TxKindRecharge
	}
	if kind != domain.TxKindRecharge && kind != domain.TxKindGift {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "kind must be recharge or gift",
		})
		return
	}

	newBalance, err := h.ledger.Credit(c.Request.Context(), userID, req.Amount, kind, "", req.Description)
	if err != nil {
		h.logger.Error("Failed to recharge",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to recharge",
		})
		return
	}

	h.logger.Info("Credits added",
		slog.String("user_id", userID),
		slog.String("kind", kind),
		slog.Int64("amount", req.Amount),
		slog.Int64("balance", newBalance),
	)

	c.JSON(http.StatusOK, dto.RechargeResponse{
		UserID:  userID,
		Credits: newBalance,
	})
}
