package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "villages", []string{"id", "name"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"villages"}, []string{"id", "name"}).WillReturnResult(2)

	rows := [][]any{{"v1", "Bhamragad"}, {"v2", "Etapalli"}}
	n, err := CopyFrom(context.Background(), mock, "villages", []string{"id", "name"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"villages"}, []string{"id", "name"}).
		WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"v1", "Bhamragad"}}
	_, err = CopyFrom(context.Background(), mock, "villages", []string{"id", "name"}, rows)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
