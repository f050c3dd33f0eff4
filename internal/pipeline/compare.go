package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// peptideColumns 鉴定结果表中肽段列的候选列名，按优先级
var peptideColumns = []string{"plain_peptide", "peptide", "Peptide"}

// ErrNoBaseline 基线鉴定结果中没有任何肽段
var ErrNoBaseline = errors.New("baseline contains no peptide identifications")

// Comparison 基线与往返后数据的鉴定对比，均为相对基线数量的百分比
type Comparison struct {
	Baseline  int
	New       int
	Preserved float64
	Missed    float64
	Added     float64
}

// ParsePeptides 读取制表符分隔的鉴定结果，返回去重后的肽段集合
// 表头是第一个包含肽段列名的行，之前的版本信息行被忽略
func ParsePeptides(r io.Reader) (map[string]struct{}, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	col := -1
	peptides := make(map[string]struct{})
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if col < 0 {
			col = findColumn(fields)
			continue
		}
		if col >= len(fields) {
			continue
		}
		if p := strings.TrimSpace(fields[col]); p != "" {
			peptides[p] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read identifications: %w", err)
	}
	if col < 0 {
		return nil, fmt.Errorf("no peptide column found (want one of %v)", peptideColumns)
	}
	return peptides, nil
}

func findColumn(header []string) int {
	for _, name := range peptideColumns {
		for i, h := range header {
			if strings.TrimSpace(h) == name {
				return i
			}
		}
	}
	return -1
}

// ComparePeptides 计算保留、丢失、新增比例
func ComparePeptides(baseline, roundTrip map[string]struct{}) (Comparison, error) {
	if len(baseline) == 0 {
		return Comparison{}, ErrNoBaseline
	}
	var preserved, added int
	for p := range roundTrip {
		if _, ok := baseline[p]; ok {
			preserved++
		} else {
			added++
		}
	}
	missed := len(baseline) - preserved
	total := float64(len(baseline))
	return Comparison{
		Baseline:  len(baseline),
		New:       len(roundTrip),
		Preserved: 100 * float64(preserved) / total,
		Missed:    100 * float64(missed) / total,
		Added:     100 * float64(added) / total,
	}, nil
}
