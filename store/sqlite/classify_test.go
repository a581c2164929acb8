package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/warp/bakery-ops/docstore"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		is        error
	}{
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true, docstore.ErrStoreUnavailable},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true, docstore.ErrStoreUnavailable},
		{"interrupted", sqlite3.Error{Code: sqlite3.ErrInterrupt}, true, docstore.ErrStoreUnavailable},
		{"deadline", context.DeadlineExceeded, true, context.DeadlineExceeded},
		{"cancelled", context.Canceled, true, context.Canceled},
		{"tx done", sql.ErrTxDone, true, sql.ErrTxDone},
		{"unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, false, docstore.ErrDuplicateKey},
		{"trigger", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintTrigger}, false, docstore.ErrAppendOnly},
		{"corrupt", sqlite3.Error{Code: sqlite3.ErrCorrupt}, false, nil},
		{"other", errors.New("disk on fire"), false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("get", docstore.Inventory, tt.err)

			assert.Equal(t, tt.retryable, docstore.IsRetryable(err), "%v", err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	assert.NoError(t, classify("get", docstore.Inventory, nil))
}
