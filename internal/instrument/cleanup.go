package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"registrar-backend/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays from the _events
// table. The cutoff is formatted without a timezone so it compares correctly
// against both TIMESTAMPTZ and SQLite text timestamps.
func CleanupOldEvents(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02 15:04:05")
	pb := dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _events WHERE created_at < %s", pb.Add(cutoff))
	result, err := db.ExecContext(ctx, sqlStr, pb.Params()...)
	if err != nil {
		log.Printf("ERROR: event cleanup: %v", err)
		return
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Printf("ERROR: event cleanup rows affected: %v", err)
		return
	}
	if rowsAffected > 0 {
		log.Printf("Event cleanup: deleted %d old events", rowsAffected)
	}
}
