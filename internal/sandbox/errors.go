package sandbox

import (
	"errors"
	"fmt"
)

// ErrExecution 沙箱内程序以非零状态退出
var ErrExecution = errors.New("execution failed")

// maxLogInError 错误信息中保留的日志尾部长度
const maxLogInError = 2000

// ExecutionError 携带退出码和完整日志
type ExecutionError struct {
	Unit     string
	ExitCode int64
	Log      string
}

func (e *ExecutionError) Error() string {
	tail := e.Log
	if len(tail) > maxLogInError {
		tail = "..." + tail[len(tail)-maxLogInError:]
	}
	if tail == "" {
		return fmt.Sprintf("%s exited with code %d", e.Unit, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Unit, e.ExitCode, tail)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// AsExecutionError 提取 ExecutionError
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	ok := errors.As(err, &ee)
	return ee, ok
}
