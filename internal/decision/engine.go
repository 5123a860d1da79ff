// Package decision はルーティング要求に対する最終判断を組み立てる。
//
// ユーザーディレクトリの明示的な割り当て、パターンルール、バックエンド
// レジストリ、プロビジョニングエージェントを順に束ね、セッションを
// どのバックエンドへ・どの接続情報で転送すべきかを決定する。
package decision

import (
	"context"
	"fmt"
	"log"

	"github.com/nao1215/gatekeeper/internal/directory"
	"github.com/nao1215/gatekeeper/internal/identity"
	"github.com/nao1215/gatekeeper/internal/provision"
	"github.com/nao1215/gatekeeper/internal/routing"
)

// Directory はルーティング判断に必要なディレクトリ参照を表す。
type Directory interface {
	// Lookup はユーザー名に対応するエントリを返す。
	Lookup(identity string) (directory.Entry, bool, error)
}

// Provisioner はバックエンドアカウントの存在保証を表す。
type Provisioner interface {
	// Ensure は対象バックエンドにアカウントが存在する状態を保証する。
	Ensure(ctx context.Context, identity string, target routing.Backend) (provision.State, error)
}

// Decision はルーティング要求1件に対する最終判断を表す。
// リクエストごとに新しく生成され、永続化はしない。
type Decision struct {
	// Backend は決定したバックエンド識別子。
	Backend string
	// Host はバックエンドの接続先ホスト。
	Host string
	// Port はバックエンドの接続先ポート。
	Port int
	// Username は接続に使うユーザー名(正規化済み)。
	Username string
	// ServiceKeyPath はゲートウェイがバックエンド接続に使うサービス秘密鍵のパス。
	ServiceKeyPath string
	// HostKeyFingerprints は許可するバックエンドホスト鍵のフィンガープリント。
	HostKeyFingerprints []string
}

// Engine はディレクトリ・ルール・レジストリ・プロビジョニングを束ねる決定エンジン。
type Engine struct {
	// directory は明示的な割り当ての参照先。
	directory Directory
	// table はパターンルーティングのルール表。
	table *routing.Table
	// registry はバックエンド識別子の解決先。
	registry *routing.Registry
	// provisioner はアカウント存在保証の実行者。
	provisioner Provisioner
	// serviceKeyPath は決定に含めるサービス秘密鍵のパス。
	serviceKeyPath string
}

// NewEngine は新しい決定エンジンを作成する。
func NewEngine(d Directory, table *routing.Table, registry *routing.Registry, p Provisioner, serviceKeyPath string) *Engine {
	return &Engine{
		directory:      d,
		table:          table,
		registry:       registry,
		provisioner:    p,
		serviceKeyPath: serviceKeyPath,
	}
}

// Resolve はユーザー名からルーティング判断を導く。
//
// 明示的なディレクトリエントリが常にパターンルールより優先される。
// ディレクトリが利用できない場合はパターンルーティングへ黙って退避せず、
// ErrUnavailableで失敗する(明示的な割り当てはセキュリティ上の指定であり、
// 無視して既定経路に流してはならない)。プロビジョニングに失敗した場合も
// 別のバックエンドへ振り替えることはない。
func (e *Engine) Resolve(ctx context.Context, name string) (Decision, error) {
	name, err := identity.Normalize(name)
	if err != nil {
		return Decision{}, err
	}

	backendName := ""
	portOverride := 0

	entry, ok, err := e.directory.Lookup(name)
	switch {
	case err != nil:
		return Decision{}, fmt.Errorf("ディレクトリを参照できないため判断を拒否: %w", err)
	case ok:
		backendName = entry.Backend
		if backendName == "" {
			backendName = e.table.DefaultBackend()
		}
		portOverride = entry.Port
		log.Printf("[Decision] 明示的な割り当て: %s -> %s", name, backendName)
	default:
		backendName = e.table.Route(name)
		log.Printf("[Decision] パターンルーティング: %s -> %s", name, backendName)
	}

	target, err := e.registry.Resolve(backendName)
	if err != nil {
		return Decision{}, err
	}

	state, err := e.provisioner.Ensure(ctx, name, target)
	if err != nil {
		return Decision{}, fmt.Errorf("バックエンド %s のアカウント保証に失敗: %w", target.Name, err)
	}
	if state != provision.StatePresent {
		return Decision{}, fmt.Errorf("%w: 状態%sのアカウントには転送できません", provision.ErrProvisioningFailed, state)
	}

	port := target.Port
	if portOverride != 0 {
		port = portOverride
	}

	return Decision{
		Backend:             target.Name,
		Host:                target.Host,
		Port:                port,
		Username:            name,
		ServiceKeyPath:      e.serviceKeyPath,
		HostKeyFingerprints: target.HostKeyFingerprints,
	}, nil
}
