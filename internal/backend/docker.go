package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nao1215/gatekeeper/internal/routing"
)

// DockerExecutor はdocker exec経由でバックエンドの管理コマンドを実行するExecutor。
// バックエンドをコンテナとして動かすcompose構成のローカル検証環境向け。
type DockerExecutor struct {
	// dockerPath はdockerコマンドのパス。空なら"docker"をPATHから探す。
	dockerPath string
}

// NewDockerExecutor は新しいDockerExecutorを作成する。
func NewDockerExecutor() *DockerExecutor {
	return &DockerExecutor{dockerPath: "docker"}
}

// Exec は対象バックエンドのコンテナ内でコマンドを実行して結果を返す。
// コンテナ名が未設定のバックエンドは到達不能として扱う。
func (e *DockerExecutor) Exec(ctx context.Context, target routing.Backend, stdin string, name string, args ...string) (Result, error) {
	if target.Container == "" {
		return Result{}, fmt.Errorf("バックエンド %s にコンテナ名が設定されていません", target.Name)
	}

	cmd := exec.CommandContext(ctx, e.dockerPath, dockerExecArgs(target.Container, name, args)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return Result{ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("コンテナ %s でのコマンド実行がタイムアウト: %w", target.Container, ctx.Err())
		}
		return Result{}, fmt.Errorf("コンテナ %s でのコマンド起動に失敗: %w", target.Container, err)
	}

	return Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// dockerExecArgs はdocker execコマンドの引数列を組み立てる。
// -iは標準入力経由の鍵受け渡しに必要。
func dockerExecArgs(container, name string, args []string) []string {
	out := []string{"exec", "-i", container, name}
	return append(out, args...)
}
