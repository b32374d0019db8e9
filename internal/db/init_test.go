package db

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitPostgres_Unreachable(t *testing.T) {
	_, err := InitPostgres("host=127.0.0.1 port=1 sslmode=disable connect_timeout=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
}

func TestApplySchema(t *testing.T) {
	query := regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS vault_records")

	t.Run("created", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, applySchema(sqlDB))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec error", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectExec(query).WillReturnError(errors.New("permission denied"))
		err = applySchema(sqlDB)
		assert.ErrorContains(t, err, "create schema")
	})
}
