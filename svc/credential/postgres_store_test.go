package credential_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/plan"
)

var credentialColumns = []string{"id", "user_id", "tier", "api_key", "is_active", "created_at", "updated_at"}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *credential.PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock, credential.NewPostgresStore(mock)
}

func TestPostgresStore_Upsert(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO api_credentials (id,user_id,tier,api_key,is_active) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (user_id, tier) DO UPDATE SET api_key = EXCLUDED.api_key, is_active = TRUE")).
		WithArgs(pgxmock.AnyArg(), "user_1", "Basic", "kt_new", true).
		WillReturnRows(pgxmock.NewRows(credentialColumns).AddRow(id, "user_1", "Basic", "kt_new", true, now, now))

	c, err := store.Upsert(context.Background(), "user_1", plan.Basic, "kt_new")
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, plan.Basic, c.Tier)
	assert.Equal(t, "kt_new", c.APIKey)
	assert.True(t, c.IsActive)
}

func TestPostgresStore_UpsertKeyCollision(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO api_credentials")).
		WithArgs(pgxmock.AnyArg(), "user_1", "Pro", "kt_dup", true).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "api_credentials_api_key_key"})

	_, err := store.Upsert(context.Background(), "user_1", plan.Pro, "kt_dup")
	require.ErrorIs(t, err, credential.ErrKeyCollision)
}

func TestPostgresStore_RotateMissingRow(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE api_credentials SET api_key = $1, updated_at = now() WHERE tier = $2 AND user_id = $3 RETURNING")).
		WithArgs("kt_rot", "Pro", "user_1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Rotate(context.Background(), "user_1", plan.Pro, "kt_rot")
	require.ErrorIs(t, err, credential.ErrNotFound)
}

func TestPostgresStore_SetActive(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE api_credentials SET is_active = $1, updated_at = now() WHERE id = $2 AND user_id = $3")).
		WithArgs(false, id.String(), "user_1").
		WillReturnRows(pgxmock.NewRows(credentialColumns).AddRow(id, "user_1", "Free", "kt_a", false, now, now))

	c, err := store.SetActive(context.Background(), "user_1", id, false)
	require.NoError(t, err)
	assert.False(t, c.IsActive)
}

func TestPostgresStore_RotateByID(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE api_credentials SET api_key = $1, updated_at = now() WHERE id = $2 AND user_id = $3 RETURNING")).
		WithArgs("kt_next", id.String(), "user_1").
		WillReturnRows(pgxmock.NewRows(credentialColumns).AddRow(id, "user_1", "Pro", "kt_next", true, now, now))

	c, err := store.RotateByID(context.Background(), "user_1", id, "kt_next")
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, "kt_next", c.APIKey)
}

func TestPostgresStore_DeactivateTiers(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_credentials SET is_active = $1, updated_at = now() WHERE is_active = $2 AND tier IN ($3,$4) AND user_id = $5")).
		WithArgs(false, true, "Basic", "Pro", "user_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := store.DeactivateTiers(context.Background(), "user_1", []plan.Tier{plan.Basic, plan.Pro})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.DeactivateTiers(context.Background(), "user_1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresStore_ListByUser(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, tier, api_key, is_active, created_at, updated_at FROM api_credentials WHERE user_id = $1 ORDER BY created_at")).
		WithArgs("user_1").
		WillReturnRows(pgxmock.NewRows(credentialColumns).
			AddRow(uuid.New(), "user_1", "Free", "kt_free", false, now, now).
			AddRow(uuid.New(), "user_1", "Basic", "kt_basic", true, now, now))

	list, err := store.ListByUser(context.Background(), "user_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, plan.Free, list[0].Tier)
	assert.Equal(t, plan.Basic, list[1].Tier)
}

func TestPostgresStore_ListUserIDs(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT user_id FROM api_credentials WHERE is_active = $1 AND tier IN ($2,$3)")).
		WithArgs(true, "Basic", "Pro").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user_1").AddRow("user_2"))

	ids, err := store.ListUserIDs(context.Background(), []plan.Tier{plan.Basic, plan.Pro})
	require.NoError(t, err)
	assert.Equal(t, []string{"user_1", "user_2"}, ids)
}

func TestPostgresStore_DeleteAllForUser(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM api_credentials WHERE user_id = $1")).
		WithArgs("user_1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.DeleteAllForUser(context.Background(), "user_1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestPostgresStore_ErrorsAreSurfaced(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT").WithArgs("kt_x").WillReturnError(boom)

	_, err := store.GetByKey(context.Background(), "kt_x")
	require.ErrorIs(t, err, credential.ErrStore)
	require.ErrorIs(t, err, boom)
}

func TestPostgresStore_GetByKey(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, tier, api_key, is_active, created_at, updated_at FROM api_credentials WHERE api_key = $1")).
		WithArgs("kt_lookup").
		WillReturnRows(pgxmock.NewRows(credentialColumns).AddRow(id, "user_1", "Basic", "kt_lookup", true, now, now))

	c, err := store.GetByKey(context.Background(), "kt_lookup")
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, plan.Basic, c.Tier)
}
