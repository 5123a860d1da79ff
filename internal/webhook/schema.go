package webhook

// pubkeyRequest は公開鍵認証Webhookのリクエストボディ。
type pubkeyRequest struct {
	// Username は認証対象のユーザー名。
	Username string `json:"username"`
	// PublicKey は提示されたauthorized_keys形式の公開鍵。
	PublicKey string `json:"publicKey"`
}

// pubkeyResponse は公開鍵認証Webhookのレスポンスボディ。
// ゲートウェイはHTTPステータスではなくこのボディだけを見るため、
// 拒否時もHTTP 200で返す。
type pubkeyResponse struct {
	// Success は公開鍵を受理したかどうか。
	Success bool `json:"success"`
}

// configMetadata は設定Webhookリクエストの付帯情報。
type configMetadata struct {
	// ClaimsToken は上流の認証基盤が署名したクレームトークン。
	// OAuth委譲構成でのみ設定される。
	ClaimsToken string `json:"claimsToken"`
}

// configRequest は設定Webhookのリクエストボディ。
type configRequest struct {
	// Username は接続を要求したユーザー名。
	Username string `json:"username"`
	// Metadata は上流で検証済みの属性(省略可)。
	Metadata *configMetadata `json:"metadata,omitempty"`
}

// sshProxyConfig はゲートウェイに返すsshproxyバックエンドの接続情報。
type sshProxyConfig struct {
	// Server は転送先ホスト。
	Server string `json:"server"`
	// Port は転送先ポート。
	Port int `json:"port"`
	// Username は転送先での接続ユーザー名。
	Username string `json:"username"`
	// PrivateKey はゲートウェイが使うサービス秘密鍵のパス。
	PrivateKey string `json:"privateKey"`
	// AllowedHostKeyFingerprints は許可するホスト鍵のフィンガープリント。
	AllowedHostKeyFingerprints []string `json:"allowedHostKeyFingerprints"`
}

// backendConfig は設定Webhookレスポンスのconfigフィールド。
type backendConfig struct {
	// Backend はゲートウェイのバックエンド方式。常に"sshproxy"。
	Backend string `json:"backend"`
	// SSHProxy はsshproxyバックエンドの接続情報。
	SSHProxy sshProxyConfig `json:"sshproxy"`
}

// configResponse は設定Webhookのレスポンスボディ。
// 形式はゲートウェイ(ContainerSSH)が規定する契約に従う。
type configResponse struct {
	Config backendConfig `json:"config"`
}
