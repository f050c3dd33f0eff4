package pipeline

import "math"

// ComputeRatio 压缩比 = (原始大小 - 压缩后大小) / 原始大小
// 任一大小不可得或原始大小为 0 时返回 NaN；压缩后更大时为负值
func ComputeRatio(original, compressed int64, originalErr, compressedErr error) float64 {
	if originalErr != nil || compressedErr != nil || original <= 0 || compressed < 0 {
		return math.NaN()
	}
	return float64(original-compressed) / float64(original)
}
