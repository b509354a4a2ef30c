// internal/service/marketplace/application/common.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
)

// Clock 便于在测试中固定时间
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// readRetryBackoff 是读操作遇到瞬时存储错误时的重试间隔
var readRetryBackoff = 100 * time.Millisecond

// readWithRetry 在 ErrTransientStore 时重试一次，写操作不走这里
func readWithRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !errors.Is(err, domain.ErrTransientStore) {
		return v, err
	}
	logger.Ctx(ctx).Warn().Err(err).Msg("transient store error, retrying read once")
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-time.After(readRetryBackoff):
	}
	return fn()
}

// fail 把错误记录到 span 上并原样返回。
// 校验、权限、冲突类错误属于正常业务结果，不把 span 标记为失败。
func fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	if !isExpected(err) {
		span.SetStatus(codes.Error, msg)
	}
	return err
}

func isExpected(err error) bool {
	return domain.IsValidation(err) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrConflict)
}

// loadActiveUser 读取用户，封禁用户返回 ErrPermissionDenied
func loadActiveUser(ctx context.Context, store domain.Store, userID int64) (*domain.User, error) {
	user, err := readWithRetry(ctx, func() (*domain.User, error) {
		return store.Users().FindByID(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		logger.Ctx(ctx).Warn().Int64("user_id", userID).Msg("banned user attempted a write action")
		return nil, domain.ErrPermissionDenied
	}
	return user, nil
}
