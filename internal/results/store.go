package results

import "context"

// Store 结果库
// 实现：SQLStore（sqlite/postgres）、mongostore.Store
type Store interface {
	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)

	// GetResult 返回结果；尚无结果行时返回 Status 为 none 的空结果
	GetResult(ctx context.Context, id string) (*Result, error)
	ListEntries(ctx context.Context) ([]*Entry, error)

	// SetMetric 原子地写入单个指标列，行不存在时创建
	SetMetric(ctx context.Context, id string, field Field, value float64) error

	// Transition 条件迁移状态，errMsg 仅在迁移到 failed 时保存
	Transition(ctx context.Context, id string, to Status, errMsg string) error

	Close() error
}

// Rank 某个 submission 在成功结果中的各项排名（1 为最好）
type Rank struct {
	SubmissionID        string `json:"submission_id"`
	EncodingRuntimeRank int    `json:"encoding_runtime_rank"`
	DecodingRuntimeRank int    `json:"decoding_runtime_rank"`
	RatioRank           int    `json:"ratio_rank"`
	AccuracyRank        int    `json:"accuracy_rank"`
	TotalEntries        int    `json:"total_entries"`
}

// ComputeRank 计算排名：运行时间升序，压缩比和准确率降序；缺失指标的条目排在最后
// 目标 submission 不在成功结果中时返回 nil
func ComputeRank(entries []*Entry, id string) *Rank {
	var ranked []*Result
	var target *Result
	for _, e := range entries {
		if e.Result.Status != StatusSuccess {
			continue
		}
		r := e.Result
		ranked = append(ranked, &r)
		if e.ID == id {
			target = &r
		}
	}
	if target == nil {
		return nil
	}

	return &Rank{
		SubmissionID:        id,
		EncodingRuntimeRank: rankOf(ranked, target, FieldEncodingRuntime, true),
		DecodingRuntimeRank: rankOf(ranked, target, FieldDecodingRuntime, true),
		RatioRank:           rankOf(ranked, target, FieldRatio, false),
		AccuracyRank:        rankOf(ranked, target, FieldAccuracy, false),
		TotalEntries:        len(ranked),
	}
}

// rankOf 竞赛排名（并列取相同名次）
func rankOf(all []*Result, target *Result, f Field, ascending bool) int {
	tv := target.Metric(f)
	if tv == nil {
		return len(all)
	}
	values := make([]float64, 0, len(all))
	for _, r := range all {
		if v := r.Metric(f); v != nil {
			values = append(values, *v)
		}
	}
	better := 0
	for _, v := range values {
		if (ascending && v < *tv) || (!ascending && v > *tv) {
			better++
		}
	}
	return better + 1
}
