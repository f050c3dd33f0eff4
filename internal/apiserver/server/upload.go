package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"codec-bench/internal/image"
	"codec-bench/internal/results"
)

// UploadResponse 上传成功的响应
type UploadResponse struct {
	FileKey      string `json:"file_key"`
	SubmissionID string `json:"submission_id"`
	Message      string `json:"message"`
}

// Upload 上传编解码器压缩包
//
// 路由: POST /api/v1/upload
//
// 表单字段: email, name, submissionName（或 submission_name）, file（.zip）
//
// 响应:
//   - 201 Created: {"file_key": "...", "submission_id": "...", "message": "..."}
//   - 400 Bad Request: 缺少字段或文件不是 zip
//   - 413 Request Entity Too Large: 超过上传上限
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	sub := &results.Submission{
		Email:          strings.TrimSpace(r.FormValue("email")),
		Name:           strings.TrimSpace(r.FormValue("name")),
		SubmissionName: strings.TrimSpace(firstNonEmpty(r.FormValue("submissionName"), r.FormValue("submission_name"))),
	}
	if sub.Email == "" || sub.Name == "" || sub.SubmissionName == "" {
		writeError(w, http.StatusBadRequest, "email, name and submissionName are required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".zip") {
		writeError(w, http.StatusBadRequest, "File must be zip archive.")
		return
	}

	sub.ID = uuid.NewString()
	sub.CreatedAt = time.Now().UTC()

	if err := h.Artifacts.PutStream(ctx, h.Uploads, image.UploadName(sub.ID), file, header.Size, "application/zip"); err != nil {
		h.Logger.WithSubmission(sub.ID).WithError(err).Error("Failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if err := h.Results.CreateSubmission(ctx, sub); err != nil {
		h.Logger.WithSubmission(sub.ID).WithError(err).Error("Failed to create submission")
		writeError(w, http.StatusInternalServerError, "failed to create submission")
		return
	}

	h.Logger.WithSubmission(sub.ID).Info("Submission uploaded", "bytes", header.Size, "submission_name", sub.SubmissionName)
	writeJSON(w, http.StatusCreated, UploadResponse{
		FileKey:      sub.ID,
		SubmissionID: sub.ID,
		Message:      "File uploaded successfully",
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
