// Package provision はバックエンドホスト上のアカウント作成を冪等に行う。
//
// 状態は Unknown → Creating → Present | Failed と遷移し、呼び出しごとに
// 必ずUnknownから再出発する(バックエンドの状態は管理者操作で変わりうる
// ため、キャッシュせず毎回実地を確認する)。同一の(ユーザー名, バックエンド)
// ペアに対する作成処理はキー付きミューテックスで直列化し、無関係なペアは
// 並行してプロビジョニングできる。
package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"

	"github.com/nao1215/gatekeeper/internal/backend"
	"github.com/nao1215/gatekeeper/internal/metrics"
	"github.com/nao1215/gatekeeper/internal/routing"
)

// ErrProvisioningFailed はアカウント作成を完了できなかったことを表す。
// このエラーを受け取ったセッションは該当バックエンドへ転送してはならない。
var ErrProvisioningFailed = errors.New("アカウントのプロビジョニングに失敗しました")

// ErrBackendUnreachable はバックエンドへの到達自体に失敗したことを表す。
// 呼び出し側の扱いはErrProvisioningFailedと同じで、内部ログのみ詳細に残す。
var ErrBackendUnreachable = errors.New("バックエンドに到達できません")

// State はプロビジョニングの進行状態を表す。
type State int

const (
	// StateUnknown は実地確認前の初期状態。
	StateUnknown State = iota
	// StateCreating はアカウント作成を実行中の状態。
	StateCreating
	// StatePresent はアカウントが存在し利用可能な状態。
	StatePresent
	// StateFailed はアカウントを利用可能にできなかった状態。
	StateFailed
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateCreating:
		return "creating"
	case StatePresent:
		return "present"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// useraddExitExists はuseraddが「ユーザーは既に存在する」場合に返す終了コード。
// 水平スケール構成で別インスタンスが先に作成を終えた場合に起こりうるため、
// 成功として扱う(バックエンド上のアカウントはどちらにせよ存在している)。
const useraddExitExists = 9

// Agent はバックエンドアカウントの冪等なプロビジョニングを行う。
type Agent struct {
	// exec はバックエンドへのコマンド実行手段。
	exec backend.Executor
	// servicePublicKey はアカウントの信頼鍵に追記するサービス公開鍵の行。
	servicePublicKey string
	// timeout は外部コマンド1回あたりの制限時間。
	timeout time.Duration
	// locks は(ユーザー名, バックエンド)ペアごとの排他制御。
	locks *kmutex.Kmutex
}

// New は新しいプロビジョニングエージェントを作成する。
// servicePublicKeyはauthorized_keys形式の1行で、前後の空白は除去して保持する。
func New(exec backend.Executor, servicePublicKey string, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Agent{
		exec:             exec,
		servicePublicKey: strings.TrimSpace(servicePublicKey),
		timeout:          timeout,
		locks:            kmutex.New(),
	}
}

// Ensure は対象バックエンドにユーザーのアカウントが存在する状態を保証する。
// 既に存在する場合は何も変更せずStatePresentを返す(冪等)。存在しない場合は
// アカウント作成・鍵ディレクトリ作成・サービス公開鍵の追記を行う。
// いずれかの手順が失敗した場合はStateFailedを返し、中途半端な状態の
// アカウントを利用可能と報告することはない。
func (a *Agent) Ensure(ctx context.Context, name string, target routing.Backend) (State, error) {
	key := name + "@" + target.Name
	a.locks.Lock(key)
	defer a.locks.Unlock(key)

	// 実地確認: アカウントは存在するか
	probe, err := a.run(ctx, target, "", "id", "-u", "--", name)
	if err != nil {
		metrics.ProvisionResults.WithLabelValues("unreachable").Inc()
		return StateFailed, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if probe.ExitCode == 0 {
		metrics.ProvisionResults.WithLabelValues("present").Inc()
		return StatePresent, nil
	}

	log.Printf("[Provision] アカウントを作成します: %s@%s", name, target.Name)
	if state, err := a.create(ctx, name, target); err != nil {
		metrics.ProvisionResults.WithLabelValues("failed").Inc()
		return state, err
	}

	metrics.ProvisionResults.WithLabelValues("created").Inc()
	return StatePresent, nil
}

// create はアカウントと鍵ディレクトリを作成し、サービス公開鍵を追記する。
// 呼び出し時点でペアのロックを保持していること。
func (a *Agent) create(ctx context.Context, name string, target routing.Backend) (State, error) {
	res, err := a.run(ctx, target, "", "useradd", "-m", "-s", "/bin/sh", "--", name)
	if err != nil {
		return StateFailed, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if res.ExitCode != 0 && res.ExitCode != useraddExitExists {
		return StateFailed, fmt.Errorf("%w: useraddが終了コード%dで失敗: %s", ErrProvisioningFailed, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	sshDir := "/home/" + name + "/.ssh"
	res, err = a.run(ctx, target, "", "install", "-d", "-m", "700", "-o", name, "-g", name, sshDir)
	if err != nil {
		return StateFailed, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if res.ExitCode != 0 {
		return StateFailed, fmt.Errorf("%w: 鍵ディレクトリの作成に失敗: %s", ErrProvisioningFailed, strings.TrimSpace(res.Stderr))
	}

	if err := a.appendServiceKey(ctx, name, target, sshDir+"/authorized_keys"); err != nil {
		return StateFailed, err
	}
	return StatePresent, nil
}

// appendServiceKey はサービス公開鍵をアカウントの信頼鍵ファイルへ1度だけ追記する。
// 既に同じ行があれば何もしない。N回呼んでも行は1つしか増えない。
func (a *Agent) appendServiceKey(ctx context.Context, name string, target routing.Backend, keyFile string) error {
	// ファイルがまだ無い場合のcat失敗は「鍵なし」として扱う
	current, err := a.run(ctx, target, "", "cat", keyFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if current.ExitCode == 0 {
		for _, line := range strings.Split(current.Stdout, "\n") {
			if strings.TrimSpace(line) == a.servicePublicKey {
				return nil
			}
		}
	}

	res, err := a.run(ctx, target, a.servicePublicKey+"\n", "tee", "-a", keyFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: サービス公開鍵の追記に失敗: %s", ErrProvisioningFailed, strings.TrimSpace(res.Stderr))
	}

	res, err = a.run(ctx, target, "", "chown", name+":"+name, keyFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: 信頼鍵ファイルの所有者変更に失敗: %s", ErrProvisioningFailed, strings.TrimSpace(res.Stderr))
	}

	res, err = a.run(ctx, target, "", "chmod", "600", keyFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: 信頼鍵ファイルの権限設定に失敗: %s", ErrProvisioningFailed, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// run は制限時間付きで外部コマンドを1回実行する。
func (a *Agent) run(ctx context.Context, target routing.Backend, stdin, name string, args ...string) (backend.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.exec.Exec(ctx, target, stdin, name, args...)
}
