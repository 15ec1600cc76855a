package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestStore_PutResource_UpsertsDocument(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := resource.New(resource.TypeCNT, now)
	r.RI = "cnt-1"
	r.PI = "ae-1"
	r.RN = "testCNT"

	mock.ExpectExec(`INSERT INTO cse_resources`).
		WithArgs(r.RI, int(r.Ty), r.PI, r.RN, sqlmock.AnyArg(), r.CT, r.LT, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.PutResource(ctx, r)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetResource_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT document FROM cse_resources WHERE ri = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetResource(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetResource_Found(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := resource.New(resource.TypeCIN, now)
	r.RI = "cin-1"
	doc, err := json.Marshal(r)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"document"}).AddRow(doc)
	mock.ExpectQuery(`SELECT document FROM cse_resources WHERE ri = \$1`).
		WithArgs("cin-1").
		WillReturnRows(rows)

	got, err := s.GetResource(ctx, "cin-1")
	require.NoError(t, err)
	assert.Equal(t, "cin-1", got.RI)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountNotifications(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"count"}).AddRow(2)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM cse_batch_notifications`).
		WithArgs("sub-1", "http://example.org/notify").
		WillReturnRows(rows)

	count, err := s.CountNotifications(ctx, "sub-1", "http://example.org/notify")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteIdentifier(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM cse_identifiers WHERE ri = \$1`).
		WithArgs("ri-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.DeleteIdentifier(ctx, "ri-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
