// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は外部IdPへの通信で許可されるURLスキーム。
var allowedSchemes = []string{"https"}

// NewOutboundClient は外部IdPとの通信に使うSSRF防止付きHTTPクライアントを生成する。
// safeurlのデフォルト設定により、プライベートIP、ループバック、リンクローカル、
// メタデータIPへの接続はDialerのControlフックで拒否される。
// DNS解決後のIPアドレスで検証するため、DNS再バインディングにも対応している。
func NewOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}
