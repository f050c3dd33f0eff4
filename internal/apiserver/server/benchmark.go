package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"codec-bench/internal/results"
	"codec-bench/internal/shared/storage"
)

// BenchmarkRequest 投递基准任务的请求体
type BenchmarkRequest struct {
	SubmissionID string `json:"submission_id"`
}

// Benchmark 投递基准任务
//
// 路由: POST /api/v1/benchmark
//
// 请求体 {"submission_id": "..."}，也接受查询参数 ?image=<file_key>
//
// 响应:
//   - 202 Accepted: {"task_id": "..."}
//   - 400 Bad Request: 缺少 submission_id
//   - 404 Not Found: submission 不存在
//   - 409 Conflict: 该 submission 的基准正在执行
func (h *Handler) Benchmark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BenchmarkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.SubmissionID == "" {
		req.SubmissionID = r.URL.Query().Get("image")
	}
	if req.SubmissionID == "" {
		writeError(w, http.StatusBadRequest, "submission_id is required")
		return
	}

	if _, err := h.Results.GetSubmission(ctx, req.SubmissionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load submission")
		return
	}

	res, err := h.Results.GetResult(ctx, req.SubmissionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	if !results.CanTransition(res.Status, results.StatusPending) {
		writeError(w, http.StatusConflict, "benchmark already "+string(res.Status))
		return
	}

	taskID, err := h.Tasks.SubmitBenchmark(ctx, req.SubmissionID)
	if err != nil {
		h.Logger.WithSubmission(req.SubmissionID).WithError(err).Error("Failed to submit benchmark")
		writeError(w, http.StatusInternalServerError, "failed to submit benchmark")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// GetTask 查询任务状态
//
// 路由: GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	state, err := h.Tasks.State(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load task state")
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}
