package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// headerKeyRequestID はリクエストIDを伝播するためのHTTPヘッダーキー。
const headerKeyRequestID = "X-Request-ID"

// RequestID はリクエストIDを採番するGinミドルウェアを返す。
// 呼び出し元がX-Request-IDを付けている場合はそれを引き継ぎ、
// 無ければ新しく採番してレスポンスヘッダーに設定する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerKeyRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(headerKeyRequestID, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
// RequestIDミドルウェアが事前に適用されている必要がある。
func GetRequestID(c *gin.Context) string {
	id, _ := c.Get("request_id")
	if s, ok := id.(string); ok {
		return s
	}
	return ""
}
