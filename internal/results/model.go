// Package results 基准结果存储
//
// 结果按 submission_id 存储，指标字段逐个原子 upsert，从不整行覆盖；
// 状态是封闭枚举，只允许转换表中列出的迁移，迁移以条件更新实现。
package results

import (
	"fmt"
	"math"
	"time"
)

// Status 基准状态
type Status string

const (
	StatusNone    Status = "none"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// transitions 目标状态 → 允许的来源状态
var transitions = map[Status][]Status{
	StatusPending: {StatusNone, StatusSuccess, StatusFailed},
	StatusSuccess: {StatusPending},
	StatusFailed:  {StatusPending},
}

// AllowedFrom 返回可以迁移到 to 的来源状态
func AllowedFrom(to Status) []Status {
	return transitions[to]
}

// CanTransition 判断 from → to 是否合法
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// ParseStatus 解析状态字符串，空字符串视为 none
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusNone:
		return StatusNone, nil
	case StatusPending, StatusSuccess, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Field 可单独写入的指标列
type Field string

const (
	FieldEncodingRuntime  Field = "encoding_runtime"
	FieldDecodingRuntime  Field = "decoding_runtime"
	FieldRatio            Field = "ratio"
	FieldAccuracy         Field = "accuracy"
	FieldPeptidePreserved Field = "peptide_percent_preserved"
	FieldPeptideMissed    Field = "peptide_percent_missed"
	FieldPeptideNew       Field = "peptide_percent_new"
)

var fields = map[Field]struct{}{
	FieldEncodingRuntime:  {},
	FieldDecodingRuntime:  {},
	FieldRatio:            {},
	FieldAccuracy:         {},
	FieldPeptidePreserved: {},
	FieldPeptideMissed:    {},
	FieldPeptideNew:       {},
}

// Valid 是否为已知列（列名会拼进 SQL，必须先校验）
func (f Field) Valid() bool {
	_, ok := fields[f]
	return ok
}

// Submission 上传的编解码器
type Submission struct {
	ID             string    `json:"submission_id" bson:"_id"`
	Email          string    `json:"email" bson:"email"`
	Name           string    `json:"name" bson:"name"`
	SubmissionName string    `json:"submission_name" bson:"submission_name"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// Result 基准结果，未写入的指标为 nil
type Result struct {
	SubmissionID     string    `json:"submission_id" bson:"_id"`
	EncodingRuntime  *float64  `json:"encoding_runtime" bson:"encoding_runtime,omitempty"`
	DecodingRuntime  *float64  `json:"decoding_runtime" bson:"decoding_runtime,omitempty"`
	Ratio            *float64  `json:"ratio" bson:"ratio,omitempty"`
	Accuracy         *float64  `json:"accuracy" bson:"accuracy,omitempty"`
	PeptidePreserved *float64  `json:"peptide_percent_preserved" bson:"peptide_percent_preserved,omitempty"`
	PeptideMissed    *float64  `json:"peptide_percent_missed" bson:"peptide_percent_missed,omitempty"`
	PeptideNew       *float64  `json:"peptide_percent_new" bson:"peptide_percent_new,omitempty"`
	Status           Status    `json:"status" bson:"status"`
	Error            string    `json:"error,omitempty" bson:"error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// Metric 返回指定列的值
func (r *Result) Metric(f Field) *float64 {
	switch f {
	case FieldEncodingRuntime:
		return r.EncodingRuntime
	case FieldDecodingRuntime:
		return r.DecodingRuntime
	case FieldRatio:
		return r.Ratio
	case FieldAccuracy:
		return r.Accuracy
	case FieldPeptidePreserved:
		return r.PeptidePreserved
	case FieldPeptideMissed:
		return r.PeptideMissed
	case FieldPeptideNew:
		return r.PeptideNew
	}
	return nil
}

// Entry 结果列表项：submission 元数据 + 结果
type Entry struct {
	Submission
	Result Result `json:"result"`
}

// StorableValue NaN/Inf 无法在所有后端和 JSON 中表示，统一存为 NULL
func StorableValue(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
