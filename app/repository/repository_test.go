package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/vibast-solutions/ms-go-accounts/app/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID        uint64
	Name      string
	Score     int64
	IsDeleted bool
}

var itemSchema = &repository.Schema[item]{
	Table:   "items",
	Key:     "id",
	Columns: []string{"id", "name", "score", "is_deleted"},
	Scan: func(scan repository.RowScanner) (*item, error) {
		it := &item{}
		if err := scan(&it.ID, &it.Name, &it.Score, &it.IsDeleted); err != nil {
			return nil, err
		}
		return it, nil
	},
}

var itemColumns = []string{"id", "name", "score", "is_deleted"}

const (
	selectItemByName = `SELECT id, name, score, is_deleted FROM items WHERE name = \? LIMIT 2`
	selectItemByID   = `SELECT id, name, score, is_deleted FROM items WHERE id = \?$`
	insertItem       = `INSERT INTO items \(name, score\) VALUES \(\?, \?\)`
)

func duplicateEntry() error {
	return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a' for key 'items.name'"}
}

func newItemRepo(t *testing.T) (*repository.Repository[item], sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return repository.New(itemSchema, db), mock
}

func byName(name string) repository.Fields {
	return repository.Fields{repository.F("name", name)}
}

func TestGetOrCreate_ReturnsExisting(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(3), "a", int64(1), false))

	got, created, err := repo.GetOrCreate(context.Background(), byName("a"), repository.Fields{repository.F("score", 10)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uint64(3), got.ID)
	assert.Equal(t, int64(1), got.Score)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_InsertsLookupAndDefaults(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertItem).
		WithArgs("a", 10).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(selectItemByID).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(7), "a", int64(10), false))
	mock.ExpectCommit()

	got, created, err := repo.GetOrCreate(context.Background(), byName("a"), repository.Fields{repository.F("score", 10)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint64(7), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_RecoversFromConcurrentInsert(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertItem).
		WithArgs("a", 10).
		WillReturnError(duplicateEntry())
	mock.ExpectRollback()
	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(4), "a", int64(10), false))

	got, created, err := repo.GetOrCreate(context.Background(), byName("a"), repository.Fields{repository.F("score", 10)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uint64(4), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreate_ConflictWithoutRowIsFatal(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertItem).
		WithArgs("a", 10).
		WillReturnError(duplicateEntry())
	mock.ExpectRollback()
	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns))

	got, created, err := repo.GetOrCreate(context.Background(), byName("a"), repository.Fields{repository.F("score", 10)})
	require.Error(t, err)
	assert.True(t, repository.IsConflict(err))
	assert.Nil(t, got)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrCreate_UpdatesExisting(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(3), "a", int64(1), false))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE items SET score = \? WHERE name = \?`).
		WithArgs(5, "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(3), "a", int64(5), false))
	mock.ExpectCommit()

	got, created, err := repo.UpdateOrCreate(context.Background(), byName("a"),
		repository.Fields{repository.F("score", 5)}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(5), got.Score)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrCreate_CreatesWithUpdateOverDefaults(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertItem).
		WithArgs("a", 5).
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectQuery(selectItemByID).
		WithArgs(uint64(8)).
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(8), "a", int64(5), false))
	mock.ExpectCommit()

	got, created, err := repo.UpdateOrCreate(context.Background(), byName("a"),
		repository.Fields{repository.F("score", 5)},
		repository.Fields{repository.F("score", 1)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), got.Score)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrCreate_RecoveredConflictAppliesUpdate(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertItem).
		WithArgs("a", 5).
		WillReturnError(duplicateEntry())
	mock.ExpectRollback()
	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(4), "a", int64(1), false))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE items SET score = \? WHERE name = \?`).
		WithArgs(5, "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(uint64(4), "a", int64(5), false))
	mock.ExpectCommit()

	got, created, err := repo.UpdateOrCreate(context.Background(), byName("a"),
		repository.Fields{repository.F("score", 5)}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uint64(4), got.ID)
	assert.Equal(t, int64(5), got.Score)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOne_MultipleRows(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(selectItemByName).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow(uint64(1), "a", int64(1), false).
			AddRow(uint64(2), "a", int64(2), false))

	got, err := repo.FindOne(context.Background(), byName("a"))
	assert.ErrorIs(t, err, repository.ErrMultipleRows)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAll_EmptyTable(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(`SELECT id, name, score, is_deleted FROM items$`).
		WillReturnRows(sqlmock.NewRows(itemColumns))

	got, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpdate_SkipsItemsWithoutKeyAndKeepsSuccesses(t *testing.T) {
	repo, mock := newItemRepo(t)

	updateScore := regexp.QuoteMeta("UPDATE items SET score = ? WHERE id = ?")
	mock.ExpectBegin()
	mock.ExpectExec(updateScore).
		WithArgs(5, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateScore).
		WithArgs(6, 2).
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectExec(updateScore).
		WithArgs(7, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.BulkUpdate(context.Background(), []repository.Fields{
		{repository.F("id", 1), repository.F("score", 5)},
		{repository.F("score", 9)},
		{repository.F("id", 2), repository.F("score", 6)},
		{repository.F("id", 4), repository.F("colour", "red")},
		{repository.F("id", 3), repository.F("score", 7)},
	}, "id")

	assert.Equal(t, int64(2), updated)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrUnknownColumn)
	assert.Contains(t, err.Error(), "lock wait timeout")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpdate_Empty(t *testing.T) {
	repo, mock := newItemRepo(t)

	updated, err := repo.BulkUpdate(context.Background(), nil, "id")
	require.NoError(t, err)
	assert.Zero(t, updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWhere_GuardsOnEveryFilter(t *testing.T) {
	repo, mock := newItemRepo(t)

	guarded := regexp.QuoteMeta("UPDATE items SET score = ?, name = ? WHERE id = ? AND name = ?")
	mock.ExpectBegin()
	mock.ExpectExec(guarded).WithArgs(10, "b", 1, "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(guarded).WithArgs(10, "b", 1, "a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	filters := repository.Fields{repository.F("id", 1), repository.F("name", "a")}
	fields := repository.Fields{repository.F("score", 10), repository.F("name", "b")}

	n, err := repo.UpdateWhere(context.Background(), filters, fields)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.UpdateWhere(context.Background(), filters, fields)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.UpdateWhere(context.Background(), nil, fields)
	assert.ErrorIs(t, err, repository.ErrNoFields)
	_, err = repo.UpdateWhere(context.Background(), repository.Fields{repository.F("owner", 1)}, fields)
	assert.ErrorIs(t, err, repository.ErrUnknownColumn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteThenRestore(t *testing.T) {
	repo, mock := newItemRepo(t)

	setFlag := regexp.QuoteMeta("UPDATE items SET is_deleted = ? WHERE id = ?")
	mock.ExpectBegin()
	mock.ExpectExec(setFlag).WithArgs(true, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(setFlag).WithArgs(false, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(setFlag).WithArgs(true, 99).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.SoftDelete(context.Background(), 1, "is_deleted")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Restore(context.Background(), 1, "is_deleted")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SoftDelete(context.Background(), 99, "is_deleted")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.SoftDelete(context.Background(), 1, "deleted_at")
	assert.ErrorIs(t, err, repository.ErrUnknownColumn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregates_EmptySet(t *testing.T) {
	repo, mock := newItemRepo(t)
	filter := byName("none")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(id) FROM items WHERE name = ?")).
		WithArgs("none").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MIN(score) FROM items WHERE name = ?")).
		WithArgs("none").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(score) FROM items WHERE name = ?")).
		WithArgs("none").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT AVG(score) FROM items WHERE name = ?")).
		WithArgs("none").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT SUM(score) FROM items WHERE name = ?")).
		WithArgs("none").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	n, err := repo.Count(context.Background(), filter)
	require.NoError(t, err)
	assert.Zero(t, n)

	lo, err := repo.Min(context.Background(), "score", filter)
	require.NoError(t, err)
	assert.False(t, lo.Valid)

	hi, err := repo.Max(context.Background(), "score", filter)
	require.NoError(t, err)
	assert.False(t, hi.Valid)

	avg, err := repo.Avg(context.Background(), "score", filter)
	require.NoError(t, err)
	assert.False(t, avg.Valid)

	sum, err := repo.Sum(context.Background(), "score", filter)
	require.NoError(t, err)
	assert.False(t, sum.Valid)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregates_Values(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(score) FROM items")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(9)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT AVG(score) FROM items")).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow([]byte("4.5000")))

	hi, err := repo.Max(context.Background(), "score", nil)
	require.NoError(t, err)
	assert.True(t, hi.Valid)
	assert.Equal(t, int64(9), hi.V)

	avg, err := repo.Avg(context.Background(), "score", nil)
	require.NoError(t, err)
	assert.True(t, avg.Valid)
	assert.InDelta(t, 4.5, avg.Float64, 0.0001)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupBy(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, COUNT(id) FROM items WHERE is_deleted = ? GROUP BY name")).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).
			AddRow([]byte("a"), int64(2)).
			AddRow([]byte("b"), int64(1)))

	groups, err := repo.GroupBy(context.Background(), "name", "id", repository.AggCount,
		repository.Fields{repository.F("is_deleted", false)})
	require.NoError(t, err)
	assert.Equal(t, []repository.Group{{Key: "a", Value: int64(2)}, {Key: "b", Value: int64(1)}}, groups)

	_, err = repo.GroupBy(context.Background(), "name", "id", repository.Aggregate("MEDIAN"), nil)
	assert.ErrorIs(t, err, repository.ErrUnsupportedAggregate)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawQuery(t *testing.T) {
	repo, mock := newItemRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, score FROM items WHERE score > ?")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"name", "score"}).AddRow([]byte("a"), int64(5)))

	rows, err := repo.RawQuery(context.Background(), "SELECT name, score FROM items WHERE score > ?", 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, repository.Row{"name": "a", "score": int64(5)}, rows[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOne_NoFields(t *testing.T) {
	repo, mock := newItemRepo(t)

	_, err := repo.AddOne(context.Background(), nil)
	assert.ErrorIs(t, err, repository.ErrNoFields)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = repository.WithTx(context.Background(), db, func(tx repository.DBTX) error {
			panic("boom")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}
