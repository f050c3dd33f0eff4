package server

import (
	"net/http"
	"time"

	"codec-bench/internal/results"
)

// ResultView 结果列表项
type ResultView struct {
	SubmissionID     string         `json:"submission_id"`
	Name             string         `json:"name"`
	SubmissionName   string         `json:"submission_name"`
	EncodingRuntime  *float64       `json:"encoding_runtime"`
	DecodingRuntime  *float64       `json:"decoding_runtime"`
	Ratio            *float64       `json:"ratio"`
	Accuracy         *float64       `json:"accuracy"`
	PeptidePreserved *float64       `json:"peptide_percent_preserved"`
	PeptideMissed    *float64       `json:"peptide_percent_missed"`
	PeptideNew       *float64       `json:"peptide_percent_new"`
	Status           results.Status `json:"status"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func viewOf(e *results.Entry) ResultView {
	return ResultView{
		SubmissionID:     e.ID,
		Name:             e.Name,
		SubmissionName:   e.SubmissionName,
		EncodingRuntime:  e.Result.EncodingRuntime,
		DecodingRuntime:  e.Result.DecodingRuntime,
		Ratio:            e.Result.Ratio,
		Accuracy:         e.Result.Accuracy,
		PeptidePreserved: e.Result.PeptidePreserved,
		PeptideMissed:    e.Result.PeptideMissed,
		PeptideNew:       e.Result.PeptideNew,
		Status:           e.Result.Status,
		Error:            e.Result.Error,
		CreatedAt:        e.CreatedAt,
	}
}

// ListResults 全部结果，按提交时间倒序
//
// 路由: GET /api/v1/results
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Results.ListEntries(r.Context())
	if err != nil {
		h.Logger.WithError(err).Error("Failed to list results")
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	views := make([]ResultView, 0, len(entries))
	for _, e := range entries {
		views = append(views, viewOf(e))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetResult 单个 submission 的结果；尚未运行时 status 为 none
//
// 路由: GET /api/v1/results/{id}
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.Results.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetRank 单个 submission 在成功结果中的各项排名
//
// 路由: GET /api/v1/rank/{id}
//
// 错误响应:
//   - 404 Not Found: submission 没有成功的结果
func (h *Handler) GetRank(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Results.ListEntries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	rank := results.ComputeRank(entries, r.PathValue("id"))
	if rank == nil {
		writeError(w, http.StatusNotFound, "no successful result for submission")
		return
	}
	writeJSON(w, http.StatusOK, rank)
}
