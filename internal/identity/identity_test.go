package identity

import (
	"errors"
	"strings"
	"testing"
)

// TestValidate はユーザー名検証を検証する。
func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("安全なユーザー名を受理すること", func(t *testing.T) {
		t.Parallel()

		valid := []string{
			"admin123",
			"dev-founder",
			"ops.lead",
			"test_user",
			"a",
			"Alice",
			"user2026",
			strings.Repeat("a", 32),
		}
		for _, name := range valid {
			if err := Validate(name); err != nil {
				t.Errorf("Validate(%q) = %v, want nil", name, err)
			}
		}
	})

	t.Run("危険なユーザー名を拒否すること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name     string
			identity string
		}{
			{name: "空文字", identity: ""},
			{name: "長さ上限超過", identity: strings.Repeat("a", 33)},
			{name: "パス区切り文字", identity: "a/b"},
			{name: "パストラバーサル", identity: "../etc"},
			{name: "ドット連続", identity: "a..b"},
			{name: "セミコロン", identity: "a;rm"},
			{name: "空白", identity: "a b"},
			{name: "コマンド置換", identity: "$(whoami)"},
			{name: "パイプ", identity: "a|b"},
			{name: "シングルクォート", identity: "a'b"},
			{name: "先頭ハイフン", identity: "-flag"},
			{name: "先頭ドット", identity: ".hidden"},
			{name: "バッククォート", identity: "a`id`"},
			{name: "改行", identity: "a\nb"},
			{name: "マルチバイト文字", identity: "ユーザー"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				err := Validate(tt.identity)
				if err == nil {
					t.Fatalf("Validate(%q) = nil, want error", tt.identity)
				}
				if !errors.Is(err, ErrInvalidIdentity) {
					t.Errorf("Validate(%q) = %v, want ErrInvalidIdentity", tt.identity, err)
				}
			})
		}
	})
}

// TestNormalize はユーザー名の正規化を検証する。
func TestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("前後の空白を除去すること", func(t *testing.T) {
		t.Parallel()

		got, err := Normalize("  alice\t")
		if err != nil {
			t.Fatalf("Normalize() = %v, want nil", err)
		}
		if got != "alice" {
			t.Errorf("Normalize() = %q, want %q", got, "alice")
		}
	})

	t.Run("空白のみの入力を拒否すること", func(t *testing.T) {
		t.Parallel()

		if _, err := Normalize("   "); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("Normalize() = %v, want ErrInvalidIdentity", err)
		}
	})

	t.Run("不正な文字を含む入力を拒否すること", func(t *testing.T) {
		t.Parallel()

		if _, err := Normalize(" a/b "); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("Normalize() = %v, want ErrInvalidIdentity", err)
		}
	})
}

// TestFromEmail はメールアドレスからのユーザー名導出を検証する。
func TestFromEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		email   string
		want    string
		wantErr bool
	}{
		{name: "通常のメールアドレス", email: "alice@example.com", want: "alice"},
		{name: "ドット入りローカル部", email: "dev.lead@example.com", want: "dev.lead"},
		{name: "アットマークなし", email: "alice", wantErr: true},
		{name: "危険なローカル部", email: "a/b@example.com", wantErr: true},
		{name: "空のローカル部", email: "@example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FromEmail(tt.email)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidIdentity) {
					t.Errorf("FromEmail(%q) = %v, want ErrInvalidIdentity", tt.email, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromEmail(%q) = %v, want nil", tt.email, err)
			}
			if got != tt.want {
				t.Errorf("FromEmail(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}
