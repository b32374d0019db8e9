package db

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var purgeQuery = regexp.QuoteMeta("DELETE FROM vault_records")

func TestClearedRecordCleaner_PurgeOnceCountsPerVault(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	now := time.Unix(1_700_000_000, 0)
	mock.ExpectQuery(purgeQuery).
		WithArgs(now.Add(-time.Hour).Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"vault_key"}).
			AddRow("session").
			AddRow("session/policy").
			AddRow("session"))

	core, logs := observer.New(zapcore.InfoLevel)
	purged := map[string]int64{}
	c := &ClearedRecordCleaner{
		DB:        dbMock,
		Retention: time.Hour,
		Log:       zap.New(core),
		OnPurge:   func(vault string, n int64) { purged[vault] += n },
		now:       func() time.Time { return now },
	}

	removed, err := c.PurgeOnce(context.Background())
	require.NoError(t, err)
	want := map[string]int64{"session": 2, "session/policy": 1}
	assert.Equal(t, want, removed)
	assert.Equal(t, want, purged)

	entries := logs.FilterMessage("purged cleared vault records").All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		vault := e.ContextMap()["vault"].(string)
		assert.Equal(t, want[vault], e.ContextMap()["removed"])
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearedRecordCleaner_NothingToPurge(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	mock.ExpectQuery(purgeQuery).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"vault_key"}))

	called := false
	c := &ClearedRecordCleaner{DB: dbMock, OnPurge: func(string, int64) { called = true }}
	removed, err := c.PurgeOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearedRecordCleaner_StartPurges(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	mock.ExpectQuery(purgeQuery).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"vault_key"}).AddRow("session"))

	var mu sync.Mutex
	var total int64
	c := &ClearedRecordCleaner{
		DB:        dbMock,
		Retention: time.Hour,
		Log:       zap.NewNop(),
		OnPurge: func(_ string, n int64) {
			mu.Lock()
			defer mu.Unlock()
			total += n
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearedRecordCleaner_ErrorLogged(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	mock.ExpectQuery(purgeQuery).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("db fail"))

	core, logs := observer.New(zapcore.ErrorLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &ClearedRecordCleaner{DB: dbMock, Retention: time.Hour, Log: zap.New(core)}
	c.Start(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("failed to purge cleared vault records").Len() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearedRecordCleaner_CancelBeforeTick(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbMock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := &ClearedRecordCleaner{DB: dbMock, Retention: time.Hour}
	c.Start(ctx, 100*time.Millisecond)
	cancel()

	time.Sleep(150 * time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet(), "no queries after cancel")
}
