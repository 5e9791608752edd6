package delivery

import (
	"context"
	"encoding/base64"
	"net/http"

	"chathub_backend/platform/httpkit"
	"chathub_backend/platform/logger"
	"chathub_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PayloadReader resolves stored media payloads by file key.
type PayloadReader interface {
	Fetch(ctx context.Context, fileKey string) (data []byte, contentType string, err error)
}

// PayloadStore extends PayloadReader with uploads so payloads can be staged
// once and sent by file key.
type PayloadStore interface {
	PayloadReader
	Put(ctx context.Context, fileKey string, data []byte, contentType string) error
}

// SendMediaRequest is the outbound send DTO. The payload arrives either
// inline (base64) or as a media-store file key.
type SendMediaRequest struct {
	InstanceID     string `json:"instanceId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	MediaKind      string `json:"mediaKind" validate:"required,oneof=image video document audio"`
	FileName       string `json:"fileName" validate:"required"`
	MIMEType       string `json:"mimeType"`
	Caption        string `json:"caption"`
	CorrelationID  string `json:"correlationId"`
	DelayMs        int    `json:"delayMs" validate:"omitempty,min=0"`
	PayloadBase64  string `json:"payloadBase64"`
	FileKey        string `json:"fileKey"`
}

// SendMediaResponse reports the terminal outcome, including the attempt
// count and the last error text on failure.
type SendMediaResponse struct {
	Success  bool   `json:"success"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// UploadMediaRequest stages a payload in the media store for later file-key
// sends.
type UploadMediaRequest struct {
	FileName      string `json:"fileName" validate:"required"`
	MIMEType      string `json:"mimeType" validate:"required"`
	PayloadBase64 string `json:"payloadBase64" validate:"required"`
}

// UploadMediaResponse carries the key the payload was stored under.
type UploadMediaResponse struct {
	FileKey string `json:"fileKey"`
}

// Handler exposes the outbound media send endpoints.
type Handler struct {
	retrier  *Retrier
	payloads PayloadStore
	val      *validator.Validator
	log      *logger.Logger
}

// NewHandler creates the delivery HTTP handler. payloads may be nil when no
// media store is configured; file-key sends and uploads are then rejected.
func NewHandler(retrier *Retrier, payloads PayloadStore, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{retrier: retrier, payloads: payloads, val: val, log: log}
}

// RegisterRoutes mounts the delivery routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/media/send", h.SendMedia)
	rg.POST("/media/upload", h.UploadMedia)
}

// SendMedia drives one MediaSendJob through the retrier.
func (h *Handler) SendMedia(c *gin.Context) {
	var req SendMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	payload, mimeType, err := h.resolvePayload(c.Request.Context(), req)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.MIMEType != "" {
		mimeType = req.MIMEType
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	job := NewMediaSendJob(payload, req.FileName, mimeType, mediaKindOf(req.MediaKind), req.InstanceID, req.ConversationID, correlationID)
	job.Caption = req.Caption
	job.DelayMs = req.DelayMs

	result := h.retrier.Send(c.Request.Context(), job)

	resp := SendMediaResponse{
		Success:  result.Success,
		Attempts: result.Attempts,
		Message:  result.Message,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}

	if !result.Success {
		httpkit.JSON(c, http.StatusBadGateway, resp)
		return
	}
	httpkit.OK(c, resp)
}

// UploadMedia stores a payload and returns its file key.
func (h *Handler) UploadMedia(c *gin.Context) {
	var req UploadMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if h.payloads == nil {
		httpkit.Error(c, http.StatusBadRequest, errNoMediaStore.Error(), nil)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidPayload.Error(), nil)
		return
	}

	fileKey := uuid.NewString() + "/" + req.FileName
	if err := h.payloads.Put(c.Request.Context(), fileKey, data, req.MIMEType); err != nil {
		h.log.Error("media upload failed", "file_key", fileKey, "error", err)
		httpkit.Error(c, http.StatusBadGateway, "failed to store payload", nil)
		return
	}

	httpkit.OK(c, UploadMediaResponse{FileKey: fileKey})
}

func (h *Handler) resolvePayload(ctx context.Context, req SendMediaRequest) ([]byte, string, error) {
	switch {
	case req.PayloadBase64 != "":
		data, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
		if err != nil {
			return nil, "", errInvalidPayload
		}
		return data, "", nil
	case req.FileKey != "":
		if h.payloads == nil {
			return nil, "", errNoMediaStore
		}
		return h.payloads.Fetch(ctx, req.FileKey)
	default:
		return nil, "", errMissingPayload
	}
}
