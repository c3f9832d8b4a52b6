package identity

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock"), time.Second), mock
}

func TestStore_MappingsLowercasesAccounts(t *testing.T) {
	store, mock := mockStore(t)

	rows := sqlmock.NewRows([]string{"account", "identity"}).
		AddRow("Alice", 7).
		AddRow("bob", 9)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT account, identity")).
		WithArgs("creators").
		WillReturnRows(rows)

	got, err := store.Mappings(context.Background(), "creators")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 7, "bob": 9}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MappingsPropagatesQueryErrors(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT account, identity")).
		WithArgs("creators").
		WillReturnError(context.DeadlineExceeded)

	_, err := store.Mappings(context.Background(), "creators")
	require.Error(t, err)
}

func TestStore_Upsert(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO identity_mappings")).
		WithArgs("creators", "alice", 7, "ref-77").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Upsert(context.Background(), Mapping{
		Pool:     "creators",
		Account:  "Alice",
		Identity: 7,
		Tag:      "ref-77",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertRejectsEmptyAccount(t *testing.T) {
	store, _ := mockStore(t)

	err := store.Upsert(context.Background(), Mapping{Pool: "creators", Identity: 7})
	require.Error(t, err)
}

func TestStore_List(t *testing.T) {
	store, mock := mockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"pool", "account", "identity", "tag", "updated_at"}).
		AddRow("creators", "alice", 7, "ref-77", now).
		AddRow("creators", "bob", 9, "", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT pool, account, identity, tag, updated_at")).
		WithArgs("creators").
		WillReturnRows(rows)

	got, err := store.List(context.Background(), "creators")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Account)
	assert.Equal(t, 7, got[0].Identity)
}

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver(map[string]int{"Alice": 7}, 114, false)

	id, ok := r.Resolve("ALICE")
	assert.True(t, ok)
	assert.Equal(t, 7, id)

	_, ok = r.Resolve("stranger")
	assert.False(t, ok, "unmapped accounts earn nothing")
}

func TestResolver_SimulateRedirectsUnmapped(t *testing.T) {
	r := NewResolver(map[string]int{"alice": 7}, 114, true)

	id, ok := r.Resolve("stranger")
	assert.True(t, ok)
	assert.Equal(t, 114, id, "simulation funnels unmapped authors to the no-code identity")

	id, ok = r.Resolve("alice")
	assert.True(t, ok)
	assert.Equal(t, 7, id)
}
