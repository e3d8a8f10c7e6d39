package keyresolver

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Resolver{
		db:         db,
		surrogates: map[string][]string{},
		cache:      map[string][]string{},
		colCache:   map[string][]string{},
	}, mock
}

func TestResolve_PreferSurrogate(t *testing.T) {
	r, mock := newTestResolver(t)
	r.surrogates["db.t"] = []string{"uuid"}

	cols, err := r.Resolve("db", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"uuid"}, cols)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_PrimaryKeyFromInformationSchema(t *testing.T) {
	r, mock := newTestResolver(t)

	rows := sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "ORDINAL_POSITION"}).
		AddRow("PRIMARY", "b", 2).
		AddRow("PRIMARY", "a", 1)
	mock.ExpectQuery("KEY_COLUMN_USAGE").WithArgs("db", "t").WillReturnRows(rows)

	cols, err := r.Resolve("db", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cols)
}

func TestResolve_NoKey_ReturnsErrNoKey(t *testing.T) {
	r, mock := newTestResolver(t)

	rows := sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "ORDINAL_POSITION"})
	mock.ExpectQuery("KEY_COLUMN_USAGE").WithArgs("db", "t").WillReturnRows(rows)

	_, err := r.Resolve("db", "t")
	require.ErrorIs(t, err, ErrNoKey)
}

func TestColumns_OrdinalOrderAndCached(t *testing.T) {
	r, mock := newTestResolver(t)

	rows := sqlmock.NewRows([]string{"COLUMN_NAME"}).
		AddRow("id").
		AddRow("name").
		AddRow("created_at")
	mock.ExpectQuery("information_schema.COLUMNS").WithArgs("db", "t").WillReturnRows(rows)

	cols, err := r.Columns("db", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "created_at"}, cols)

	// Second call must come from the cache, not a second query.
	cols, err = r.Columns("db", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "created_at"}, cols)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestColumns_UnknownTableErrors(t *testing.T) {
	r, mock := newTestResolver(t)

	mock.ExpectQuery("information_schema.COLUMNS").WithArgs("db", "gone").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}))

	_, err := r.Columns("db", "gone")
	require.Error(t, err)
}

func TestResolve_CachesAfterFirstLookup(t *testing.T) {
	r, mock := newTestResolver(t)

	rows := sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "ORDINAL_POSITION"}).
		AddRow("PRIMARY", "id", 1)
	mock.ExpectQuery("KEY_COLUMN_USAGE").WithArgs("db", "t").WillReturnRows(rows)

	_, err := r.Resolve("db", "t")
	require.NoError(t, err)
	_, err = r.Resolve("db", "t")
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
