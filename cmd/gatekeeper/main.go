// 認証・ルーティング判断サービスのエントリポイント。
// SSHゲートウェイ(ContainerSSH)からのWebhookを受け、公開鍵認証の判定と
// セッションのバックエンド振り分け・アカウントのプロビジョニングを行う。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/nao1215/gatekeeper/internal/audit"
	"github.com/nao1215/gatekeeper/internal/backend"
	"github.com/nao1215/gatekeeper/internal/config"
	"github.com/nao1215/gatekeeper/internal/credential"
	"github.com/nao1215/gatekeeper/internal/decision"
	"github.com/nao1215/gatekeeper/internal/directory"
	"github.com/nao1215/gatekeeper/internal/provision"
	"github.com/nao1215/gatekeeper/internal/routing"
	"github.com/nao1215/gatekeeper/internal/webhook"
)

func main() {
	// .envは開発用。無くてもエラーにしない
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("GATEKEEPER_CONFIG"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	store := directory.New(cfg.UsersMapPath)
	if err := store.Load(); err != nil {
		// 起動は継続するが、復旧するまで/configと/pubkeyはフェイルクローズする
		log.Printf("[Main] ユーザーディレクトリの初回読み込みに失敗: %v", err)
	} else {
		log.Printf("[Main] ユーザーディレクトリを読み込みました: %d件", store.Len())
	}

	executor, err := newExecutor(cfg)
	if err != nil {
		log.Fatalf("エグゼキュータの初期化に失敗: %v", err)
	}

	servicePublicKey, err := os.ReadFile(cfg.PublicKeyPath())
	if err != nil {
		log.Fatalf("サービス公開鍵の読み込みに失敗: %v", err)
	}

	auditStore, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Fatalf("監査ストアの初期化に失敗: %v", err)
	}
	defer auditStore.Close()

	registry := routing.NewRegistry(cfg.Backends)
	table := routing.NewTable(cfg.Rules, cfg.DefaultBackend)
	agent := provision.New(executor, string(servicePublicKey), cfg.CommandTimeout())
	engine := decision.NewEngine(store, table, registry, agent, cfg.ServiceKeyPath)
	verifier := credential.NewVerifier(store)

	server := webhook.NewServer(cfg.Port, verifier, engine, auditStore, cfg.ClaimsSecret)

	log.Printf("[Main] 認証・ルーティング判断サービスを起動します: :%s (backends=%v)", cfg.Port, registry.Names())
	if err := server.Run(); err != nil {
		log.Fatalf("サービスの起動に失敗: %v", err)
	}
}

// newExecutor は設定された実行方式のエグゼキュータを生成する。
func newExecutor(cfg *config.Config) (backend.Executor, error) {
	if cfg.ExecMode == "docker" {
		return backend.NewDockerExecutor(), nil
	}
	return backend.NewSSHExecutor(cfg.ServiceKeyPath, cfg.CommandTimeout())
}
