package sandbox

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimedRuns 计时执行的默认次数
const DefaultTimedRuns = 5

// Clock 时间源，测试中可替换
type Clock func() time.Time

// RunTimed 顺序执行同一 spec runs 次，返回每次完整周期（创建→等待→销毁）耗时的算术平均值
// 不剔除离群值；任一次失败立即返回该错误
func RunTimed(ctx context.Context, sb Sandbox, spec ExecutionSpec, runs int, clock Clock) (time.Duration, error) {
	if runs <= 0 {
		runs = DefaultTimedRuns
	}
	if clock == nil {
		clock = time.Now
	}

	var total time.Duration
	for i := 0; i < runs; i++ {
		start := clock()
		if _, err := sb.Run(ctx, spec); err != nil {
			return 0, fmt.Errorf("timed run %d/%d: %w", i+1, runs, err)
		}
		total += clock().Sub(start)
	}
	return total / time.Duration(runs), nil
}
