package audit

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。監査ログは追記専用で、更新・削除は行わない。
const schema = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    identity TEXT NOT NULL,
    backend TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_decisions_identity
    ON decisions(identity);

CREATE INDEX IF NOT EXISTS idx_decisions_kind
    ON decisions(kind);

CREATE INDEX IF NOT EXISTS idx_decisions_created_at
    ON decisions(created_at);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
