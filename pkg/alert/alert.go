// Package alert reports operational alarms to Sentry. Without Init every call
// is a no-op.
package alert

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Init 初始化 Sentry；dsn 为空时不启用
func Init(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// DataIntegrity 上报数据完整性告警（事件被丢弃，不会重试）
func DataIntegrity(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("kind", "data_integrity")
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush 退出前等待事件发送完成
func Flush(timeout time.Duration) { sentry.Flush(timeout) }
