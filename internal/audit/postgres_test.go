package audit

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSink_Write(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := &PostgresSink{pool: mock}
	rec := testRecord("rec-1")

	mock.ExpectExec("INSERT INTO validation_audit").
		WithArgs(rec.ID, rec.Company, rec.Request, rec.Response, rec.CreatedAt.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Write(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_WriteError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := &PostgresSink{pool: mock}

	mock.ExpectExec("INSERT INTO validation_audit").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(eris.New("connection lost"))

	err = sink.Write(context.Background(), testRecord("rec-1"))
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
