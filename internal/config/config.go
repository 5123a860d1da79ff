// Package config はサービスの設定を提供する。
//
// 設定は「組み込みデフォルト → YAMLファイル → 環境変数」の順で上書きされる。
// バックエンドやルーティングルールはYAMLに書くデータであり、運用者は
// コードを変更せずにバックエンドを追加できる。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/gatekeeper/internal/routing"
)

// Config はサービス全体の設定を表す。
type Config struct {
	// Port はWebhook APIのリッスンポート。
	Port string `yaml:"port"`
	// UsersMapPath はユーザーディレクトリ(users_map.json)のパス。
	UsersMapPath string `yaml:"users_map_path"`
	// ServiceKeyPath はゲートウェイがバックエンド接続に使うサービス秘密鍵のパス。
	ServiceKeyPath string `yaml:"service_key_path"`
	// ServicePublicKeyPath はバックエンドの信頼鍵に追記するサービス公開鍵のパス。
	// 空の場合はServiceKeyPath + ".pub"を使う。
	ServicePublicKeyPath string `yaml:"service_public_key_path"`
	// AuditDBPath は監査ログ(SQLite)のパス。
	AuditDBPath string `yaml:"audit_db_path"`
	// ClaimsSecret はクレームトークン検証用の共有シークレット。
	// 空の場合はクレームトークンを受け付けない。
	ClaimsSecret string `yaml:"-"`
	// ExecMode はバックエンドコマンドの実行方式("ssh"または"docker")。
	ExecMode string `yaml:"exec_mode"`
	// CommandTimeoutSeconds は外部コマンド1回あたりの制限時間(秒)。
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
	// DefaultBackend はどのルールにもマッチしない場合のバックエンド。
	DefaultBackend string `yaml:"default_backend"`
	// Rules は宣言順に評価されるルーティングルール。
	Rules []routing.Rule `yaml:"rules"`
	// Backends はバックエンド識別子から接続情報へのマップ。
	Backends map[string]routing.Backend `yaml:"backends"`
}

// Default は参照構成のデフォルト設定を返す。
func Default() *Config {
	return &Config{
		Port:                  "8080",
		UsersMapPath:          "/data/users_map.json",
		ServiceKeyPath:        "/etc/containerssh/keys/backend_id_ed25519",
		AuditDBPath:           "/data/gatekeeper.db",
		ExecMode:              "ssh",
		CommandTimeoutSeconds: 10,
		DefaultBackend:        "vm1",
		Rules:                 routing.DefaultRules(),
		Backends: map[string]routing.Backend{
			"vm1": {Host: "vm1", Port: 22},
			"vm2": {Host: "vm2", Port: 22},
		},
	}
}

// Load はデフォルト設定にYAMLファイルと環境変数を重ねた設定を返す。
// pathが空の場合はファイルを読み込まない。ファイルが指定されているのに
// 読めない・解析できない場合はエラーを返す。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv は環境変数による上書きを適用する。
func (c *Config) applyEnv() {
	c.Port = getEnvOr("PORT", c.Port)
	c.UsersMapPath = getEnvOr("USERS_MAP_PATH", c.UsersMapPath)
	c.ServiceKeyPath = getEnvOr("SERVICE_KEY_PATH", c.ServiceKeyPath)
	c.AuditDBPath = getEnvOr("AUDIT_DB_PATH", c.AuditDBPath)
	c.ExecMode = getEnvOr("EXEC_MODE", c.ExecMode)
	c.ClaimsSecret = getEnvOr("CLAIMS_SECRET", c.ClaimsSecret)
}

// validate は設定の整合性を検証する。
func (c *Config) validate() error {
	if c.ExecMode != "ssh" && c.ExecMode != "docker" {
		return fmt.Errorf("exec_modeは\"ssh\"または\"docker\"を指定してください: %q", c.ExecMode)
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("バックエンドが1つも設定されていません")
	}
	if _, ok := c.Backends[c.DefaultBackend]; !ok {
		return fmt.Errorf("デフォルトバックエンド %q が未登録です", c.DefaultBackend)
	}
	for _, rule := range c.Rules {
		if _, ok := c.Backends[rule.Backend]; !ok {
			return fmt.Errorf("ルールが未登録のバックエンド %q を指しています", rule.Backend)
		}
	}
	return nil
}

// CommandTimeout は外部コマンド1回あたりの制限時間を返す。
func (c *Config) CommandTimeout() time.Duration {
	if c.CommandTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// PublicKeyPath はサービス公開鍵のパスを返す。未指定の場合は秘密鍵のパスに
// ".pub"を付けたものを使う。
func (c *Config) PublicKeyPath() string {
	if c.ServicePublicKeyPath != "" {
		return c.ServicePublicKeyPath
	}
	return c.ServiceKeyPath + ".pub"
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
