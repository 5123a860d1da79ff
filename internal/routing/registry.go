package routing

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownBackend は未登録のバックエンド識別子を表すエラー。
// ディレクトリエントリやルールが存在しないバックエンドを指している場合に返す。
var ErrUnknownBackend = errors.New("未登録のバックエンドです")

// Backend はルーティング先バックエンド1台の接続情報を表す。
type Backend struct {
	// Name はバックエンド識別子（例: "vm1"）。レジストリのキーから補完される。
	Name string `yaml:"-"`
	// Host はSSH接続先のホスト名またはIPアドレス。
	Host string `yaml:"host"`
	// Port はSSH接続先のポート番号。
	Port int `yaml:"port"`
	// AdminUser はプロビジョニングコマンドを実行する管理ユーザー名。
	AdminUser string `yaml:"admin_user"`
	// Container はdockerエグゼキュータ使用時のコンテナ名。
	Container string `yaml:"container"`
	// HostKeyFingerprints は許可するホスト鍵のSHA256フィンガープリント。
	// 空の場合はホスト鍵検証を行わない（開発用構成のみ想定）。
	HostKeyFingerprints []string `yaml:"host_key_fingerprints"`
}

// Registry はバックエンド識別子から接続情報への読み取り専用マッピング。
// 起動時に設定から構築され、以降は変更されないため並行読み取りに安全。
type Registry struct {
	backends map[string]Backend
}

// NewRegistry は新しいバックエンドレジストリを生成する。
// 各エントリのNameフィールドはマップのキーで補完される。
func NewRegistry(backends map[string]Backend) *Registry {
	resolved := make(map[string]Backend, len(backends))
	for name, b := range backends {
		b.Name = name
		if b.Port == 0 {
			b.Port = 22
		}
		resolved[name] = b
	}
	return &Registry{backends: resolved}
}

// Resolve はバックエンド識別子を接続情報に解決する。
// 未登録の識別子はErrUnknownBackendとなる。
func (r *Registry) Resolve(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

// Names は登録済みバックエンド識別子を辞書順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
