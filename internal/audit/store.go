// Package audit は認証・ルーティング判断の監査ログを提供する。
//
// ログは追記専用のSQLiteテーブルで、運用者の事後調査のためにある。
// 記録の失敗はログに残すだけで、リクエスト処理を妨げることはない。
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// 監査レコードの種別。
const (
	// KindPubkey は公開鍵認証の判定。
	KindPubkey = "pubkey"
	// KindConfig はルーティング判断。
	KindConfig = "config"
)

// Record は監査ログ1件を表す。
type Record struct {
	// ID はレコードの一意識別子。
	ID string
	// Kind はレコードの種別(KindPubkey / KindConfig)。
	Kind string
	// Identity は判定対象のユーザー名。
	Identity string
	// Backend は決定したバックエンド識別子。判定前に失敗した場合は空。
	Backend string
	// Outcome は判定結果("accepted"、"rejected"、"routed"、エラー種別など)。
	Outcome string
	// Detail は運用者向けの補足情報。
	Detail string
	// CreatedAt は記録日時。
	CreatedAt time.Time
}

// Store は監査ログの追記と参照を行う。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open は指定パスのSQLiteデータベースを開き、スキーマを適用して返す。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("監査データベースへの接続に失敗: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Append は監査レコードを1件追記する。
// 監査は副次的な関心事のため、失敗してもエラーは返さずログに残すだけにする。
func (s *Store) Append(ctx context.Context, kind, identity, backend, outcome, detail string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, kind, identity, backend, outcome, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), kind, identity, backend, outcome, detail,
	)
	if err != nil {
		log.Printf("[Audit] 監査レコードの追記に失敗: kind=%s identity=%s: %v", kind, identity, err)
	}
}

// RecentByIdentity は指定ユーザーの監査レコードを新しい順に返す。
func (s *Store) RecentByIdentity(ctx context.Context, identity string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, identity, backend, outcome, detail, created_at
		 FROM decisions WHERE identity = ? ORDER BY created_at DESC, id LIMIT ?`,
		identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("監査レコードの取得に失敗: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Kind, &r.Identity, &r.Backend, &r.Outcome, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("監査レコードの読み取りに失敗: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監査レコードの走査に失敗: %w", err)
	}
	return records, nil
}
