package handler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chunk-upload-service/conf"
	"chunk-upload-service/controller/respond"
	"chunk-upload-service/model"
	"chunk-upload-service/service/upload_service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadControlHandler upload control handler
type UploadControlHandler struct {
	controlService *upload_service.ControlService
}

// NewUploadControlHandler create upload control handler instance
func NewUploadControlHandler(controlService *upload_service.ControlService) *UploadControlHandler {
	return &UploadControlHandler{
		controlService: controlService,
	}
}

// ControlActionRequest control action request body
type ControlActionRequest struct {
	Action string `json:"action" binding:"required" example:"pause" description:"pause, resume, retry or cancel"`
}

// InitiateUpload initiate a resumable upload
// @Summary      Initiate upload
// @Description  Stage the file and create the upload state in INITIALIZING, returning its tracking ID
// @Tags         Upload Control
// @Accept       multipart/form-data
// @Produce      json
// @Param        file             formData  file    true   "File to upload"
// @Param        category         formData  string  false  "Business category"
// @Param        accessLevel      formData  string  false  "Access level"       default(private)
// @Param        retentionPolicy  formData  string  false  "Retention policy"
// @Param        tenantId         formData  string  false  "Tenant scope"
// @Success      200  {object}  respond.Response{data=respond.InitiateUploadResponse}
// @Failure      400  {object}  respond.Response  "Parameter error"
// @Failure      401  {object}  respond.Response  "Unauthorized"
// @Failure      500  {object}  respond.Response  "Server error"
// @Router       /uploads [post]
func (h *UploadControlHandler) InitiateUpload(c *gin.Context) {
	callerId := c.GetString("userId")

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respond.InvalidParam(c, "file is required")
		return
	}
	defer file.Close()

	tempPath, size, err := stageFile(file)
	if err != nil {
		respond.ServerError(c, "failed to stage file")
		return
	}

	state, err := h.controlService.InitiateUpload(&upload_service.InitiateRequest{
		UserId:          callerId,
		TenantId:        c.PostForm("tenantId"),
		FileName:        header.Filename,
		FileSize:        size,
		MimeType:        header.Header.Get("Content-Type"),
		Category:        c.PostForm("category"),
		AccessLevel:     defaultString(c.PostForm("accessLevel"), "private"),
		RetentionPolicy: c.PostForm("retentionPolicy"),
		TempPath:        tempPath,
	})
	if err != nil {
		os.Remove(tempPath)
		respondControlError(c, err)
		return
	}

	respond.Success(c, respond.InitiateUploadResponse{
		TrackingId: state.Metadata.TrackingId,
		Status:     string(state.Progress.Status),
	})
}

// StartTransfer start the chunk transfer for an initiated upload
// @Summary      Start transfer
// @Description  Move the upload out of INITIALIZING and dispatch the chunk transfer worker
// @Tags         Upload Control
// @Produce      json
// @Param        uploadId  path  string  true  "Tracking ID"
// @Success      200  {object}  respond.Response{data=respond.UploadStateView}
// @Failure      400  {object}  respond.Response  "Transfer already started"
// @Failure      403  {object}  respond.Response  "Not the owner"
// @Failure      404  {object}  respond.Response  "Unknown upload"
// @Failure      500  {object}  respond.Response  "Server error"
// @Router       /uploads/{uploadId}/start [post]
func (h *UploadControlHandler) StartTransfer(c *gin.Context) {
	callerId := c.GetString("userId")
	trackingId := c.Param("uploadId")

	state, err := h.controlService.StartTransfer(trackingId, callerId)
	if err != nil {
		respondControlError(c, err)
		return
	}

	respond.Success(c, respond.ToUploadStateView(state))
}

// ApplyControlAction apply pause/resume/retry/cancel to an upload
// @Summary      Control an upload
// @Description  Apply a control action; illegal actions for the current status are rejected with the status and the rejected action
// @Tags         Upload Control
// @Accept       json
// @Produce      json
// @Param        uploadId  path  string                true  "Tracking ID"
// @Param        body      body  ControlActionRequest  true  "Control action"
// @Success      200  {object}  respond.Response{data=respond.UploadStateView}
// @Failure      400  {object}  respond.Response  "Unknown action or illegal transition"
// @Failure      403  {object}  respond.Response  "Not the owner"
// @Failure      404  {object}  respond.Response  "Unknown upload"
// @Failure      500  {object}  respond.Response  "Server error"
// @Router       /uploads/{uploadId}/control [post]
func (h *UploadControlHandler) ApplyControlAction(c *gin.Context) {
	var req ControlActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.InvalidParam(c, "action is required")
		return
	}

	action, ok := model.ParseControlAction(req.Action)
	if !ok {
		respond.InvalidParam(c, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	h.applyControlAction(c, action)
}

// ControlActionByPath the path-addressed form of the same control operation,
// one route per action: POST /uploads/{uploadId}/{pause|resume|retry|cancel}
func (h *UploadControlHandler) ControlActionByPath(action model.ControlAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.applyControlAction(c, action)
	}
}

func (h *UploadControlHandler) applyControlAction(c *gin.Context, action model.ControlAction) {
	callerId := c.GetString("userId")
	trackingId := c.Param("uploadId")

	state, err := h.controlService.ApplyControlAction(trackingId, action, callerId)
	if err != nil {
		respondControlError(c, err)
		return
	}

	respond.Success(c, respond.ToUploadStateView(state))
}

// GetUploadState return the public view of an upload
// @Summary      Query upload state
// @Description  Return status, derived flags and progress for the owner
// @Tags         Upload Control
// @Produce      json
// @Param        uploadId  path  string  true  "Tracking ID"
// @Success      200  {object}  respond.Response{data=respond.UploadStateView}
// @Failure      403  {object}  respond.Response  "Not the owner"
// @Failure      404  {object}  respond.Response  "Unknown upload"
// @Failure      500  {object}  respond.Response  "Server error"
// @Router       /uploads/{uploadId} [get]
func (h *UploadControlHandler) GetUploadState(c *gin.Context) {
	callerId := c.GetString("userId")
	trackingId := c.Param("uploadId")

	state, err := h.controlService.GetUploadState(trackingId, callerId)
	if err != nil {
		respondControlError(c, err)
		return
	}

	respond.Success(c, respond.ToUploadStateView(state))
}

// respondControlError map service errors onto HTTP responses. Dependency and
// rollback failures surface only the correlation reference.
func respondControlError(c *gin.Context, err error) {
	var validationErr *upload_service.ValidationError
	var transitionErr *upload_service.TransitionError
	var dependencyErr *upload_service.DependencyError
	var rollbackErr *upload_service.RollbackError

	switch {
	case errors.As(err, &validationErr):
		respond.InvalidParam(c, validationErr.Error())
	case errors.As(err, &transitionErr):
		respond.InvalidParam(c, transitionErr.Error())
	case errors.Is(err, upload_service.ErrRetryLimitReached):
		respond.InvalidParam(c, err.Error())
	case errors.Is(err, upload_service.ErrUploadNotFound):
		respond.NotFound(c, "upload not found")
	case errors.Is(err, upload_service.ErrForbidden):
		respond.Forbidden(c, "you do not own this upload")
	case errors.As(err, &rollbackErr):
		respond.ServerError(c, "internal error, reference "+rollbackErr.Ref)
	case errors.As(err, &dependencyErr):
		respond.ServerError(c, "internal error, reference "+dependencyErr.Ref)
	default:
		respond.ServerError(c, "internal error")
	}
}

// stageFile copy the incoming file to the staging directory
func stageFile(src io.Reader) (string, int64, error) {
	tempDir := conf.Cfg.Uploader.TempDir
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create temp dir: %w", err)
	}

	tempPath := filepath.Join(tempDir, "staged_"+uuid.NewString())
	out, err := os.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staged file: %w", err)
	}
	defer out.Close()

	size, err := io.Copy(out, src)
	if err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to write staged file: %w", err)
	}
	return tempPath, size, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
