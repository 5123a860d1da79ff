// Package identity はSSHゲートウェイから渡されるユーザー名の検証・正規化と、
// 上流の認証基盤が署名したクレームトークンの検証を提供する。
//
// ユーザー名はプロビジョニング時にバックエンドの管理コマンドへ渡されるため、
// パス区切り文字やシェルメタ文字を含む名前は他のどのコンポーネントにも
// 到達する前にここで拒否する。
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentity は検証に失敗したユーザー名を表すエラー。
// このエラーを受け取ったリクエストはデフォルトバックエンドへ回さず、必ず拒否する。
var ErrInvalidIdentity = errors.New("不正なユーザー名です")

// maxLength はユーザー名の最大長。Linuxのuseraddが受け付ける上限に合わせる。
const maxLength = 32

// validPattern はユーザー名として許可する文字のパターン。
// 先頭は英数字、以降は英数字とドット・ハイフン・アンダースコアのみ。
// パス区切り文字・空白・シェルメタ文字は一切許可しない。
var validPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Validate はユーザー名が安全な文字集合に収まっているかを検証する。
// 空文字、長すぎる名前、許可外の文字、".."の混入はすべてErrInvalidIdentityとなる。
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("%w: ユーザー名が空です", ErrInvalidIdentity)
	}
	if len(name) > maxLength {
		return fmt.Errorf("%w: %d文字を超えています", ErrInvalidIdentity, maxLength)
	}
	if !validPattern.MatchString(name) {
		return fmt.Errorf("%w: 許可されていない文字を含みます", ErrInvalidIdentity)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q を含むユーザー名は使用できません", ErrInvalidIdentity, "..")
	}
	return nil
}

// Normalize はユーザー名の前後の空白を除去し、検証したうえで返す。
// ルーティング・認証・プロビジョニングはすべてこの正規化済みの名前を使う。
func Normalize(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := Validate(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// FromEmail は検証済みメールアドレスのローカル部からユーザー名を導出する。
// OAuth委譲モードで上流が検証したメールアドレスを受け取った場合に使用する。
func FromEmail(email string) (string, error) {
	local, _, found := strings.Cut(email, "@")
	if !found {
		return "", fmt.Errorf("%w: メールアドレスの形式が不正です", ErrInvalidIdentity)
	}
	return Normalize(local)
}
