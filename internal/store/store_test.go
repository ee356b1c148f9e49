package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sablewing/modelgrab/internal/extract"
)

var itemColumns = []string{"id", "run_id", "site", "name", "url", "page", "scraped_at"}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	st, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return mockPool, st
}

func TestNewStore(t *testing.T) {
	t.Run("propagates ping failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, st := newMockStore(t)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()
	items := []extract.Item{
		{Site: "kaggle", Name: "bert", URL: "https://www.kaggle.com/models/google/bert", Page: 1},
		{Site: "kaggle", Name: "gemma", URL: "https://www.kaggle.com/models/google/gemma", Page: 2},
	}

	t.Run("inserts run and items in one transaction", func(t *testing.T) {
		mockPool, st := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO crawl_runs")).
			WithArgs(pgxmock.AnyArg(), "kaggle", pgxmock.AnyArg(), 2, 2).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"model_items"}, itemColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()

		runID, err := st.SaveRun(ctx, "kaggle", 2, items)
		require.NoError(t, err)
		assert.NotEqual(t, runID.String(), "00000000-0000-0000-0000-000000000000")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("skips the copy for an empty batch", func(t *testing.T) {
		mockPool, st := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO crawl_runs")).
			WithArgs(pgxmock.AnyArg(), "nvidia", pgxmock.AnyArg(), 1, 0).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		_, err := st.SaveRun(ctx, "nvidia", 1, nil)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("propagates begin failure", func(t *testing.T) {
		mockPool, st := newMockStore(t)

		beginErr := errors.New("connection lost")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		_, err := st.SaveRun(ctx, "kaggle", 1, items)
		require.ErrorIs(t, err, beginErr)
	})

	t.Run("rolls back on copy failure", func(t *testing.T) {
		mockPool, st := newMockStore(t)

		copyErr := errors.New("constraint violation")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO crawl_runs")).
			WithArgs(pgxmock.AnyArg(), "kaggle", pgxmock.AnyArg(), 2, 2).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"model_items"}, itemColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		_, err := st.SaveRun(ctx, "kaggle", 2, items)
		require.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("fails when the copy count disagrees", func(t *testing.T) {
		mockPool, st := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO crawl_runs")).
			WithArgs(pgxmock.AnyArg(), "kaggle", pgxmock.AnyArg(), 2, 2).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"model_items"}, itemColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		_, err := st.SaveRun(ctx, "kaggle", 2, items)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch")
	})
}
