// Package credential はSSH公開鍵による資格確認を提供する。
//
// 確認はユーザーディレクトリの認可済み鍵一覧との完全一致照合で行う。
// 部分一致や前方一致は認めない。鍵そのものの暗号学的な検証
// (署名確認など)はSSHゲートウェイ側の責務であり、ここでは扱わない。
package credential

import (
	"log"
	"strings"

	"github.com/nao1215/gatekeeper/internal/directory"
	"github.com/nao1215/gatekeeper/internal/identity"
)

// Directory は資格確認に必要なディレクトリ参照を表す。
type Directory interface {
	// Lookup はユーザー名に対応するエントリを返す。
	Lookup(identity string) (directory.Entry, bool, error)
}

// Verifier はユーザーディレクトリを参照して公開鍵を照合する。
type Verifier struct {
	// directory は認可済み鍵の取得元。
	directory Directory
}

// NewVerifier は指定したディレクトリを参照するVerifierを作成する。
func NewVerifier(d Directory) *Verifier {
	return &Verifier{directory: d}
}

// Verify は提示された公開鍵がユーザーの認可済み鍵のいずれかと
// 完全一致するかを返す。ユーザー名が不正な場合・ユーザーが未登録の
// 場合・ディレクトリが利用できない場合はいずれも不一致として扱う
// (フェイルクローズ)。ディレクトリ障害のみエラーとして併せて返すが、
// その場合でも第1戻り値は必ずfalseである。
func (v *Verifier) Verify(name, presentedKey string) (bool, error) {
	if err := identity.Validate(name); err != nil {
		return false, nil
	}

	presented := strings.TrimSpace(presentedKey)
	if presented == "" {
		return false, nil
	}

	entry, ok, err := v.directory.Lookup(name)
	if err != nil {
		log.Printf("[Credential] ディレクトリ参照に失敗しました: %v", err)
		return false, err
	}
	if !ok {
		return false, nil
	}

	for _, authorized := range entry.AuthorizedKeys {
		if subtleEqual(presented, strings.TrimSpace(authorized)) {
			return true, nil
		}
	}
	return false, nil
}

// subtleEqual は2つの鍵文字列の完全一致を判定する。
// 長さが同じ場合は全バイトを比較してから結果を返す。
func subtleEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
