package persistence

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-core/pkg/db"
)

func openDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func countRows(t *testing.T, d *db.Database, table string) int {
	t.Helper()
	var n int
	require.NoError(t, d.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 3, time.Hour, zerolog.Nop())
	defer bw.Close()

	for i := 0; i < 3; i++ {
		bw.WriteQuery("price_events", db.InsertPriceEventSQL, db.PriceEventRow{RunID: "r", Name: "insideVA", Time: int64(i), Price: 1}.Args()...)
	}

	assert.Equal(t, 0, bw.Pending())
	assert.Equal(t, 3, countRows(t, database, "price_events"))
	m := bw.GetMetrics()
	assert.Equal(t, uint64(3), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 3, m.LastBatchSize)
}

func TestBatchWriterCloseFlushesRemainder(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, zerolog.Nop())

	bw.WriteQuery("price_events", db.InsertPriceEventSQL, db.PriceEventRow{RunID: "r", Name: "skip", Time: 1, Price: 1}.Args()...)
	assert.Equal(t, 1, bw.Pending())

	require.NoError(t, bw.Close())
	require.NoError(t, bw.Close())
	assert.Equal(t, 1, countRows(t, database, "price_events"))
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, zerolog.Nop())
	defer bw.Close()

	bw.WriteQuery("price_events", db.InsertPriceEventSQL, db.PriceEventRow{RunID: "r", Name: "skip", Time: 1, Price: 1}.Args()...)
	bw.WriteQuery("missing", "INSERT INTO missing_table VALUES (1)")

	require.Error(t, bw.Flush())
	assert.Equal(t, 0, countRows(t, database, "price_events"))
	assert.Equal(t, uint64(1), bw.GetMetrics().TotalErrors)
}
