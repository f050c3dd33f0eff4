package artifact

import (
	"errors"
	"fmt"

	"codec-bench/internal/shared/storage"
)

var (
	// ErrNotFound 产物不存在
	ErrNotFound = storage.ErrNotFound

	// ErrStorage 对象存储不可达或读写失败
	ErrStorage = errors.New("artifact storage error")
)

// StorageError 对象存储操作失败
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op string, scope Scope, name string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: scope.Bucket + "/" + scope.Key(name), Err: err}
}

// IsNotFound 判断错误是否表示产物不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
