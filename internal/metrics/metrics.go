// Package metrics は認証・ルーティング・プロビジョニングの決定件数を
// Prometheusカウンタとして公開する。計測はあくまで副次的な関心事であり、
// どのカウンタも判断結果には影響しない。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthDecisions は公開鍵認証の判定件数(result: accepted / rejected)。
	AuthDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_pubkey_decisions_total",
		Help: "The total number of public key verification decisions",
	}, []string{"result"})

	// RoutingDecisions はバックエンド別のルーティング決定件数。
	RoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_routing_decisions_total",
		Help: "The total number of session routing decisions by backend",
	}, []string{"backend"})

	// RoutingErrors は失敗に終わった/configリクエストの件数(kind: エラー種別)。
	RoutingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_routing_errors_total",
		Help: "The total number of failed session routing requests by error kind",
	}, []string{"kind"})

	// ProvisionResults はプロビジョニング結果の件数
	// (result: present / created / failed / unreachable)。
	ProvisionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_provision_results_total",
		Help: "The total number of backend account provisioning results",
	}, []string{"result"})
)
