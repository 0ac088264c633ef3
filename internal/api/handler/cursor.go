package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pixelmint/genstudio/internal/jobstore"
	"github.com/pixelmint/genstudio/internal/ledger"
)

// Cursors are opaque to clients: base64("<unix-nanos>|<id>").

func decodeCursor(cursorStr string) (time.Time, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return time.Time{}, "", err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return time.Time{}, "", fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return time.Unix(0, nanos), parts[1], nil
}

func encodeCursor(createdAt time.Time, id string) string {
	cs := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}

func DecodeJobCursor(cursorStr string) (*jobstore.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	createdAt, jobID, err := decodeCursor(cursorStr)
	if err != nil {
		return nil, err
	}

	return &jobstore.JobCursor{CreatedAt: createdAt, JobID: jobID}, nil
}

func EncodeJobCursor(cursor *jobstore.JobCursor) string {
	return encodeCursor(cursor.CreatedAt, cursor.JobID)
}

func DecodeTxCursor(cursorStr string) (*ledger.TxCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	createdAt, txID, err := decodeCursor(cursorStr)
	if err != nil {
		return nil, err
	}

	return &ledger.TxCursor{CreatedAt: createdAt, TxID: txID}, nil
}

func EncodeTxCursor(cursor *ledger.TxCursor) string {
	return encodeCursor(cursor.CreatedAt, cursor.TxID)
}
