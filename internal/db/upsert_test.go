package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aggregateUpsert = UpsertConfig{
	Table:        "monthly_aggregates",
	Columns:      []string{"location_id", "year", "month", "crime_count"},
	ConflictKeys: []string{"location_id", "year", "month"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, aggregateUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "monthly_aggregates",
		ConflictKeys: []string{"location_id"},
	}, [][]any{{"loc_A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "monthly_aggregates",
		Columns: []string{"location_id"},
	}, [][]any{{"loc_A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_tmp_upsert_monthly_aggregates" (LIKE "monthly_aggregates" INCLUDING DEFAULTS) ON COMMIT DROP`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_monthly_aggregates"}, aggregateUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(UpsertSQL(aggregateUpsert))).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	rows := [][]any{{"loc_A", 2024, 1, 12}, {"loc_A", 2024, 2, 30}}
	n, err := BulkUpsert(context.Background(), mock, aggregateUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBulkUpsert_CopyFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_monthly_aggregates"}, aggregateUpsert.Columns).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, aggregateUpsert, [][]any{{"loc_A", 2024, 1, 12}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for monthly_aggregates")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	got := UpsertSQL(aggregateUpsert)
	assert.Equal(t,
		`INSERT INTO "monthly_aggregates" ("location_id", "year", "month", "crime_count") `+
			`SELECT "location_id", "year", "month", "crime_count" FROM "_tmp_upsert_monthly_aggregates" `+
			`ON CONFLICT ("location_id", "year", "month") DO UPDATE SET "crime_count" = EXCLUDED."crime_count"`,
		got)

	nothing := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}})
	assert.Contains(t, nothing, "ON CONFLICT (\"id\") DO NOTHING")
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"crime.records", `"crime"."records"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, identifier(tt.input).Sanitize())
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_crime_records", TempTableName("crime.records"))
}
