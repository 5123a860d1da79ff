// Package webhook はSSHゲートウェイから呼ばれるWebhook APIを提供する。
//
// ゲートウェイはセッション確立の途中で本サービスの応答を同期的に待つ。
// すべてのエラーはこの層で整形済みのJSONレスポンスに変換され、
// ハンドラを落とすことはない。
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/gatekeeper/internal/audit"
	"github.com/nao1215/gatekeeper/internal/decision"
	"github.com/nao1215/gatekeeper/internal/directory"
	"github.com/nao1215/gatekeeper/internal/identity"
	"github.com/nao1215/gatekeeper/internal/metrics"
	"github.com/nao1215/gatekeeper/internal/provision"
	"github.com/nao1215/gatekeeper/internal/routing"
	"github.com/nao1215/gatekeeper/pkg/middleware"
)

// Verifier は公開鍵の照合を表す。
type Verifier interface {
	// Verify は提示された公開鍵を認可済み鍵と照合する。
	Verify(name, presentedKey string) (bool, error)
}

// Resolver はルーティング判断の導出を表す。
type Resolver interface {
	// Resolve はユーザー名からルーティング判断を導く。
	Resolve(ctx context.Context, name string) (decision.Decision, error)
}

// Auditor は監査レコードの追記を表す。
type Auditor interface {
	// Append は監査レコードを1件追記する。
	Append(ctx context.Context, kind, identity, backend, outcome, detail string)
}

// Server は認証・ルーティング判断サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// verifier は公開鍵の照合先。
	verifier Verifier
	// resolver はルーティング判断の導出先。
	resolver Resolver
	// audit は監査ログの記録先。nilの場合は記録しない。
	audit Auditor
	// claimsSecret はクレームトークン検証用の共有シークレット。
	claimsSecret string
}

// NewServer は新しいWebhookサーバーを生成する。
// auditorはnilでもよく、その場合は監査記録を行わない。
func NewServer(port string, verifier Verifier, resolver Resolver, auditor Auditor, claimsSecret string) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.RequestID())

	s := &Server{
		router:       router,
		port:         port,
		verifier:     verifier,
		resolver:     resolver,
		audit:        auditor,
		claimsSecret: claimsSecret,
	}
	s.setupRoutes()

	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ゲートウェイ向けWebhook
	s.router.POST("/pubkey", s.handlePubkey())
	s.router.POST("/config", s.handleConfig())

	// 死活監視
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Prometheusメトリクス
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// handlePubkey は公開鍵認証Webhookを処理するハンドラを返す。
//
// ゲートウェイの契約によりHTTPステータスは常に200で、結果はボディの
// successフィールドで伝える。未登録ユーザーと鍵不一致は外部から
// 区別できない同一のレスポンスにする(ユーザー列挙の防止)。
func (s *Server) handlePubkey() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pubkeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.AuthDecisions.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusOK, pubkeyResponse{Success: false})
			return
		}

		ok, err := s.verifier.Verify(req.Username, req.PublicKey)
		if err != nil {
			// 照合基盤の障害もフェイルクローズ。詳細は内部ログにのみ残す
			log.Printf("[Webhook] 公開鍵照合でディレクトリ障害: %v", err)
			ok = false
		}

		result := "rejected"
		if ok {
			result = "accepted"
		}
		metrics.AuthDecisions.WithLabelValues(result).Inc()
		s.record(c, audit.KindPubkey, req.Username, "", result, "")

		c.JSON(http.StatusOK, pubkeyResponse{Success: ok})
	}
}

// handleConfig は設定Webhookを処理するハンドラを返す。
// 成功時はContainerSSHのsshproxy形式でバックエンド接続情報を返す。
func (s *Server) handleConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req configRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.configError(c, "", http.StatusBadRequest, "InvalidRequest", "リクエストボディを解析できません")
			return
		}

		name, status, kind, msg := s.resolveIdentity(&req)
		if kind != "" {
			s.configError(c, req.Username, status, kind, msg)
			return
		}

		dec, err := s.resolver.Resolve(c.Request.Context(), name)
		if err != nil {
			status, kind := classifyResolveError(err)
			log.Printf("[Webhook] ルーティング判断に失敗: user=%s kind=%s: %v", name, kind, err)
			s.configError(c, name, status, kind, "セッションを構成できません")
			return
		}

		metrics.RoutingDecisions.WithLabelValues(dec.Backend).Inc()
		s.record(c, audit.KindConfig, dec.Username, dec.Backend, "routed", fmt.Sprintf("%s:%d", dec.Host, dec.Port))

		c.JSON(http.StatusOK, configResponse{
			Config: backendConfig{
				Backend: "sshproxy",
				SSHProxy: sshProxyConfig{
					Server:                     dec.Host,
					Port:                       dec.Port,
					Username:                   dec.Username,
					PrivateKey:                 dec.ServiceKeyPath,
					AllowedHostKeyFingerprints: dec.HostKeyFingerprints,
				},
			},
		})
	}
}

// resolveIdentity はリクエストから判断に使うユーザー名を確定する。
// クレームトークンが有効な場合、ユーザー名はクレーム由来の名前と一致
// しなければならない。戻り値のkindが空でない場合はエラー応答にする。
func (s *Server) resolveIdentity(req *configRequest) (name string, status int, kind, msg string) {
	claimsName := ""
	if req.Metadata != nil && req.Metadata.ClaimsToken != "" {
		claims, err := identity.VerifyClaimsToken(s.claimsSecret, req.Metadata.ClaimsToken)
		if err != nil {
			return "", http.StatusBadRequest, "InvalidClaims", "クレームトークンを検証できません"
		}
		claimsName, err = identity.FromEmail(claims.Email)
		if err != nil {
			return "", http.StatusBadRequest, "InvalidIdentity", "クレームからユーザー名を導出できません"
		}
	}

	if req.Username == "" {
		if claimsName == "" {
			return "", http.StatusBadRequest, "InvalidIdentity", "ユーザー名が指定されていません"
		}
		return claimsName, 0, "", ""
	}

	normalized, err := identity.Normalize(req.Username)
	if err != nil {
		return "", http.StatusBadRequest, "InvalidIdentity", "ユーザー名が不正です"
	}
	if claimsName != "" && claimsName != normalized {
		return "", http.StatusBadRequest, "InvalidIdentity", "ユーザー名がクレームと一致しません"
	}
	return normalized, 0, "", ""
}

// configError は設定Webhookのエラー応答を返し、監査とメトリクスに記録する。
func (s *Server) configError(c *gin.Context, name string, status int, kind, msg string) {
	metrics.RoutingErrors.WithLabelValues(kind).Inc()
	s.record(c, audit.KindConfig, name, "", kind, msg)
	c.JSON(status, gin.H{"error": kind, "message": msg})
}

// record は監査ストアが設定されている場合のみレコードを追記する。
func (s *Server) record(c *gin.Context, kind, name, backendName, outcome, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Append(c.Request.Context(), kind, name, backendName, outcome, detail)
}

// classifyResolveError はルーティング判断のエラーをHTTPステータスと
// エラー種別に分類する。
func classifyResolveError(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity):
		return http.StatusBadRequest, "InvalidIdentity"
	case errors.Is(err, directory.ErrUnavailable):
		return http.StatusServiceUnavailable, "DirectoryUnavailable"
	case errors.Is(err, routing.ErrUnknownBackend):
		return http.StatusInternalServerError, "UnknownBackend"
	case errors.Is(err, provision.ErrBackendUnreachable), errors.Is(err, provision.ErrProvisioningFailed):
		return http.StatusBadGateway, "ProvisioningFailed"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}
