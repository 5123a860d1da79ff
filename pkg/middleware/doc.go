// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリとリクエストIDの採番を含む。ゲートウェイが同期的に
// 応答を待つWebhookでは、どのハンドラも落とさず必ず整形済みJSONを
// 返すことが契約になっている。
package middleware
