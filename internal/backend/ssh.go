package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nao1215/gatekeeper/internal/routing"
)

// SSHExecutor はSSH経由でバックエンドの管理コマンドを実行するExecutor。
// 接続はコマンドごとに張り直す。プロビジョニングは新規セッション確立時に
// 1度しか走らない経路のため、接続の使い回しよりも単純さを優先する。
type SSHExecutor struct {
	// signer はバックエンドへの認証に使うサービス秘密鍵。
	signer ssh.Signer
	// dialTimeout はTCP接続の確立に許す時間。
	dialTimeout time.Duration
}

// NewSSHExecutor は指定パスの秘密鍵で認証するSSHExecutorを作成する。
func NewSSHExecutor(privateKeyPath string, dialTimeout time.Duration) (*SSHExecutor, error) {
	pem, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("サービス秘密鍵の読み込みに失敗: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("サービス秘密鍵の解析に失敗: %w", err)
	}
	return &SSHExecutor{signer: signer, dialTimeout: dialTimeout}, nil
}

// Exec は対象バックエンドにSSH接続し、コマンドを1回実行して結果を返す。
// 接続確立・認証の失敗はエラーとして返し、コマンドの非ゼロ終了は
// Result.ExitCodeとして返す。
func (e *SSHExecutor) Exec(ctx context.Context, target routing.Backend, stdin string, name string, args ...string) (Result, error) {
	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port))

	user := target.AdminUser
	if user == "" {
		user = "root"
	}

	conf := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: fingerprintCallback(target.HostKeyFingerprints),
		Timeout:         e.dialTimeout,
	}

	conn, err := (&net.Dialer{Timeout: e.dialTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("バックエンド %s への接続に失敗: %w", target.Name, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		conn.Close()
		return Result{}, fmt.Errorf("バックエンド %s とのSSHハンドシェイクに失敗: %w", target.Name, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	// x/crypto/sshはコンテキストを直接受け付けないため、
	// タイムアウト時は接続ごと閉じてセッションを中断させる
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("SSHセッションの開始に失敗: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	// 引数は呼び出し側で検証済みの安全な文字集合に限られる
	command := strings.Join(append([]string{name}, args...), " ")
	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitStatus(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("バックエンド %s でのコマンド実行がタイムアウト: %w", target.Name, ctx.Err())
		}
		return Result{}, fmt.Errorf("バックエンド %s でのコマンド実行に失敗: %w", target.Name, err)
	}

	return Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// fingerprintCallback は許可リストに基づくホスト鍵検証コールバックを返す。
// 許可リストが空の場合は検証を行わない(開発用構成のみ想定)。
func fingerprintCallback(allowed []string) ssh.HostKeyCallback {
	if len(allowed) == 0 {
		return ssh.InsecureIgnoreHostKey()
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		got := ssh.FingerprintSHA256(key)
		for _, want := range allowed {
			if got == want {
				return nil
			}
		}
		return fmt.Errorf("ホスト鍵 %s は許可リストにありません: %s", got, hostname)
	}
}
