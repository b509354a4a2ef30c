package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// 领域错误。调用方统一使用 errors.Is / errors.As 判断类别。
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
	ErrTransientStore   = errors.New("store temporarily unavailable")
	ErrDelivery         = errors.New("notification delivery failed")

	// 以下均属于 ErrConflict
	ErrAlreadyModerated = fmt.Errorf("%w: ad is no longer pending", ErrConflict)
	ErrDuplicateEntry   = fmt.Errorf("%w: duplicate entry", ErrConflict)
	ErrStatusConflict   = fmt.Errorf("%w: ad status changed concurrently", ErrConflict)
)

// ValidationError 表示用户输入不合法，边界层负责提示用户重新输入
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation 判断错误链中是否包含 ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
