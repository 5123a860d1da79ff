package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/gatekeeper/internal/backend"
	"github.com/nao1215/gatekeeper/internal/routing"
)

const testServiceKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIFake gatekeeper@service"

// fakeBackend はバックエンドホスト1台のアカウント状態を模倣するExecutor。
// 実際のコンテナやVMなしでプロビジョニング手順を検証するためのテストダブル。
type fakeBackend struct {
	mu sync.Mutex
	// accounts はユーザー名から信頼鍵ファイルの行一覧へのマップ。
	accounts map[string][]string
	// sshDirs は鍵ディレクトリ作成済みのユーザー名の集合。
	sshDirs map[string]bool
	// useraddCalls はuseraddが実行された回数。
	useraddCalls int
	// unreachable がtrueの間、すべての実行が到達不能エラーになる。
	unreachable bool
	// useraddRaces がtrueの場合、useraddは「既に存在する」(終了コード9)を返す。
	// 別インスタンスが先に作成を終えた外部レースの再現に使う。
	useraddRaces bool
	// failCommand が空でない場合、該当コマンドは終了コード1で失敗する。
	failCommand string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		accounts: map[string][]string{},
		sshDirs:  map[string]bool{},
	}
}

func (f *fakeBackend) Exec(_ context.Context, _ routing.Backend, stdin, name string, args ...string) (backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unreachable {
		return backend.Result{}, errors.New("connection refused")
	}
	if name == f.failCommand {
		return backend.Result{ExitCode: 1, Stderr: name + ": simulated failure"}, nil
	}

	switch name {
	case "id":
		user := args[len(args)-1]
		if _, ok := f.accounts[user]; ok {
			return backend.Result{ExitCode: 0, Stdout: "1001\n"}, nil
		}
		return backend.Result{ExitCode: 1, Stderr: fmt.Sprintf("id: %q: no such user", user)}, nil
	case "useradd":
		f.useraddCalls++
		user := args[len(args)-1]
		if _, ok := f.accounts[user]; !ok {
			f.accounts[user] = nil
		} else {
			return backend.Result{ExitCode: 9, Stderr: "useradd: user exists"}, nil
		}
		if f.useraddRaces {
			return backend.Result{ExitCode: 9, Stderr: "useradd: user exists"}, nil
		}
		return backend.Result{ExitCode: 0}, nil
	case "install":
		user := args[len(args)-3]
		f.sshDirs[user] = true
		return backend.Result{ExitCode: 0}, nil
	case "cat":
		user := userFromKeyFile(args[0])
		lines, ok := f.accounts[user]
		if !ok || lines == nil {
			return backend.Result{ExitCode: 1, Stderr: "cat: no such file"}, nil
		}
		return backend.Result{ExitCode: 0, Stdout: strings.Join(lines, "\n") + "\n"}, nil
	case "tee":
		user := userFromKeyFile(args[len(args)-1])
		f.accounts[user] = append(f.accounts[user], strings.TrimSpace(stdin))
		return backend.Result{ExitCode: 0, Stdout: stdin}, nil
	case "chown", "chmod":
		return backend.Result{ExitCode: 0}, nil
	default:
		return backend.Result{ExitCode: 127, Stderr: name + ": command not found"}, nil
	}
}

// userFromKeyFile は /home/<user>/.ssh/authorized_keys からユーザー名を取り出す。
func userFromKeyFile(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// keyLines は指定ユーザーの信頼鍵ファイルの行一覧を返す。
func (f *fakeBackend) keyLines(user string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts[user]...)
}

func testTarget() routing.Backend {
	return routing.Backend{Name: "vm1", Host: "198.51.100.10", Port: 22}
}

// TestAgentEnsure はアカウント作成の基本動作を検証する。
func TestAgentEnsure(t *testing.T) {
	t.Parallel()

	t.Run("存在しないアカウントを作成してPresentを返すこと", func(t *testing.T) {
		t.Parallel()

		fake := newFakeBackend()
		agent := New(fake, testServiceKey, time.Second)

		state, err := agent.Ensure(context.Background(), "alice", testTarget())
		if err != nil {
			t.Fatalf("Ensure() = %v, want nil", err)
		}
		if state != StatePresent {
			t.Errorf("state = %v, want %v", state, StatePresent)
		}
		if fake.useraddCalls != 1 {
			t.Errorf("useraddCalls = %d, want 1", fake.useraddCalls)
		}
		if lines := fake.keyLines("alice"); len(lines) != 1 || lines[0] != testServiceKey {
			t.Errorf("keyLines = %v, want [%q]", lines, testServiceKey)
		}
	})

	t.Run("既存アカウントには何も変更せずPresentを返すこと", func(t *testing.T) {
		t.Parallel()

		fake := newFakeBackend()
		fake.accounts["bob"] = []string{testServiceKey}

		agent := New(fake, testServiceKey, time.Second)
		state, err := agent.Ensure(context.Background(), "bob", testTarget())
		if err != nil {
			t.Fatalf("Ensure() = %v, want nil", err)
		}
		if state != StatePresent {
			t.Errorf("state = %v, want %v", state, StatePresent)
		}
		if fake.useraddCalls != 0 {
			t.Errorf("useraddCalls = %d, want 0", fake.useraddCalls)
		}
	})

	t.Run("useraddの終了コード9は成功として扱うこと", func(t *testing.T) {
		t.Parallel()

		// 別インスタンスとの外部レースで作成に先を越された状況を再現する
		fake := newFakeBackend()
		fake.useraddRaces = true

		agent := New(fake, testServiceKey, time.Second)
		state, err := agent.Ensure(context.Background(), "carol", testTarget())
		if err != nil {
			t.Fatalf("Ensure() = %v, want nil", err)
		}
		if state != StatePresent {
			t.Errorf("state = %v, want %v", state, StatePresent)
		}
	})
}

// TestAgentEnsureIdempotent は2回呼んでも結果と鍵行数が変わらないことを検証する。
func TestAgentEnsureIdempotent(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend()
	agent := New(fake, testServiceKey, time.Second)

	for i := 0; i < 2; i++ {
		state, err := agent.Ensure(context.Background(), "dave", testTarget())
		if err != nil {
			t.Fatalf("Ensure()#%d = %v, want nil", i+1, err)
		}
		if state != StatePresent {
			t.Errorf("state#%d = %v, want %v", i+1, state, StatePresent)
		}
	}

	if fake.useraddCalls != 1 {
		t.Errorf("useraddCalls = %d, want 1", fake.useraddCalls)
	}
	if lines := fake.keyLines("dave"); len(lines) != 1 {
		t.Errorf("サービス公開鍵の行数 = %d, want 1: %v", len(lines), lines)
	}
}

// TestAgentEnsureConcurrent は同一ペアへの同時Ensureが作成を1回しか
// 行わないことを検証する。
func TestAgentEnsureConcurrent(t *testing.T) {
	t.Parallel()

	const workers = 16

	fake := newFakeBackend()
	agent := New(fake, testServiceKey, 5*time.Second)

	var wg sync.WaitGroup
	states := make([]State, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], errs[i] = agent.Ensure(context.Background(), "erin", testTarget())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("Ensure()#%d = %v, want nil", i, errs[i])
		}
		if states[i] != StatePresent {
			t.Errorf("state#%d = %v, want %v", i, states[i], StatePresent)
		}
	}
	if fake.useraddCalls != 1 {
		t.Errorf("useraddCalls = %d, want 1", fake.useraddCalls)
	}
	if lines := fake.keyLines("erin"); len(lines) != 1 {
		t.Errorf("サービス公開鍵の行数 = %d, want 1", len(lines))
	}
}

// TestAgentEnsureFailure は失敗経路がFailedを返すことを検証する。
func TestAgentEnsureFailure(t *testing.T) {
	t.Parallel()

	t.Run("到達不能な場合はErrBackendUnreachableを返すこと", func(t *testing.T) {
		t.Parallel()

		fake := newFakeBackend()
		fake.unreachable = true

		agent := New(fake, testServiceKey, time.Second)
		state, err := agent.Ensure(context.Background(), "frank", testTarget())
		if state != StateFailed {
			t.Errorf("state = %v, want %v", state, StateFailed)
		}
		if !errors.Is(err, ErrBackendUnreachable) {
			t.Errorf("err = %v, want ErrBackendUnreachable", err)
		}
	})

	t.Run("useraddの失敗はErrProvisioningFailedを返すこと", func(t *testing.T) {
		t.Parallel()

		fake := newFakeBackend()
		fake.failCommand = "useradd"

		agent := New(fake, testServiceKey, time.Second)
		state, err := agent.Ensure(context.Background(), "grace", testTarget())
		if state != StateFailed {
			t.Errorf("state = %v, want %v", state, StateFailed)
		}
		if !errors.Is(err, ErrProvisioningFailed) {
			t.Errorf("err = %v, want ErrProvisioningFailed", err)
		}
	})

	t.Run("鍵追記の失敗は作成済みでもFailedを返すこと", func(t *testing.T) {
		t.Parallel()

		fake := newFakeBackend()
		fake.failCommand = "tee"

		agent := New(fake, testServiceKey, time.Second)
		state, err := agent.Ensure(context.Background(), "heidi", testTarget())
		if state != StateFailed {
			t.Errorf("state = %v, want %v", state, StateFailed)
		}
		if !errors.Is(err, ErrProvisioningFailed) {
			t.Errorf("err = %v, want ErrProvisioningFailed", err)
		}
	})

	t.Run("失敗した次の呼び出しで回復できること", func(t *testing.T) {
		t.Parallel()

		fake := newFakeBackend()
		fake.failCommand = "useradd"

		agent := New(fake, testServiceKey, time.Second)
		if state, _ := agent.Ensure(context.Background(), "ivan", testTarget()); state != StateFailed {
			t.Fatalf("state = %v, want %v", state, StateFailed)
		}

		// 障害が復旧した後は同じ呼び出しが成功する
		fake.mu.Lock()
		fake.failCommand = ""
		fake.mu.Unlock()

		state, err := agent.Ensure(context.Background(), "ivan", testTarget())
		if err != nil {
			t.Fatalf("Ensure() = %v, want nil", err)
		}
		if state != StatePresent {
			t.Errorf("state = %v, want %v", state, StatePresent)
		}
		if lines := fake.keyLines("ivan"); len(lines) != 1 {
			t.Errorf("サービス公開鍵の行数 = %d, want 1", len(lines))
		}
	})
}

// TestStateString はStateの文字列表現を検証する。
func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateUnknown, "unknown"},
		{StateCreating, "creating"},
		{StatePresent, "present"},
		{StateFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
