package backend

import (
	"context"

	"github.com/nao1215/gatekeeper/internal/routing"
)

// Result はバックエンド上で実行したコマンド1回分の結果を表す。
type Result struct {
	// ExitCode はコマンドの終了コード。
	ExitCode int
	// Stdout はコマンドの標準出力。
	Stdout string
	// Stderr はコマンドの標準エラー出力。
	Stderr string
}

// Executor はバックエンドホスト上での管理コマンド実行を抽象化する。
//
// 戻り値のerrorは「バックエンドに到達できなかった・コマンドを起動
// できなかった」場合のみ非nilとなる。コマンドが起動して非ゼロ終了した
// 場合はerrorではなくResult.ExitCodeで表現する。
type Executor interface {
	// Exec は対象バックエンド上でコマンドを実行し、結果を返す。
	// stdinが空でない場合はコマンドの標準入力に書き込む。
	Exec(ctx context.Context, target routing.Backend, stdin string, name string, args ...string) (Result, error)
}
