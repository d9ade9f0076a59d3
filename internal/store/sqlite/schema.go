package sqlite

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    -- record id (UUID)
    id TEXT PRIMARY KEY,
    -- entity name, e.g. oss_subscription
    entity TEXT NOT NULL,
    -- field values as a JSON document; lookup fields are
    -- {"entity": ..., "id": ...} objects
    fields TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_records_entity ON records(entity);
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
