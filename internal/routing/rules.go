// Package routing はユーザー名からバックエンドを決定するプレフィックスルールと、
// バックエンド識別子を実際の接続先に解決するレジストリを提供する。
package routing

import "strings"

// Rule はプレフィックスベースのルーティングルール1件を表す。
// ルールはコードではなくデータとして保持し、設定ファイルから差し替えられる。
type Rule struct {
	// Prefixes はこのルールにマッチするユーザー名の接頭辞（大文字小文字を区別）。
	Prefixes []string `yaml:"prefixes"`
	// Backend はマッチした場合のルーティング先バックエンド識別子。
	Backend string `yaml:"backend"`
}

// Table は宣言順に評価されるルーティングルールの集合。
// 複数のルールにマッチするユーザー名は、宣言順で先にあるルールが勝つ。
type Table struct {
	rules          []Rule
	defaultBackend string
}

// NewTable は新しいルーティングテーブルを生成する。
// rulesは宣言順のまま保持され、どのルールにもマッチしない場合は
// defaultBackendが使われる。
func NewTable(rules []Rule, defaultBackend string) *Table {
	return &Table{
		rules:          rules,
		defaultBackend: defaultBackend,
	}
}

// Route はユーザー名にマッチする最初のルールのバックエンドを返す。
// どのルールにもマッチしない場合はデフォルトバックエンドを返す。
func (t *Table) Route(identity string) string {
	for _, rule := range t.rules {
		for _, prefix := range rule.Prefixes {
			if strings.HasPrefix(identity, prefix) {
				return rule.Backend
			}
		}
	}
	return t.defaultBackend
}

// DefaultBackend はどのルールにもマッチしなかった場合のバックエンドを返す。
// ディレクトリエントリにバックエンド指定がない場合の補完にも使う。
func (t *Table) DefaultBackend() string {
	return t.defaultBackend
}

// DefaultRules は参照構成のルーティングルールを返す。
// admin/ops系はvm1、dev/test系はvm2へ振り分ける。
func DefaultRules() []Rule {
	return []Rule{
		{Prefixes: []string{"admin", "ops"}, Backend: "vm1"},
		{Prefixes: []string{"dev", "test"}, Backend: "vm2"},
	}
}
