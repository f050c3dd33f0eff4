package results

import (
	"errors"
	"fmt"
)

var (
	// ErrResultStore 结果库读写失败（事务已回滚）
	ErrResultStore = errors.New("result store error")

	// ErrIllegalTransition 状态迁移不在转换表中
	ErrIllegalTransition = errors.New("illegal status transition")
)

// StoreError 结果库操作失败
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("result store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrResultStore, e.Err}
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// TransitionError 非法状态迁移
type TransitionError struct {
	SubmissionID string
	From, To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("submission %s: illegal status transition %s -> %s", e.SubmissionID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
