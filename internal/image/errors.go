package image

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 上传内容不符合构建要求，在任何运行时调用之前返回
	ErrValidation = errors.New("validation error")

	// ErrImageNotAvailable 本地、发布存储和公共仓库都无法提供该单元
	ErrImageNotAvailable = errors.New("image not available")
)

// ValidationError 描述具体的校验失败原因
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErr(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
