package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chathub_backend/platform/logger"
	"chathub_backend/platform/validator"
)

type memoryPayloadStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemoryPayloadStore() *memoryPayloadStore {
	return &memoryPayloadStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memoryPayloadStore) Fetch(_ context.Context, fileKey string) ([]byte, string, error) {
	data, ok := s.objects[fileKey]
	if !ok {
		return nil, "", errInvalidPayload
	}
	return data, s.types[fileKey], nil
}

func (s *memoryPayloadStore) Put(_ context.Context, fileKey string, data []byte, contentType string) error {
	s.objects[fileKey] = data
	s.types[fileKey] = contentType
	return nil
}

func newTestRouter(sender Sender, payloads PayloadStore) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := NewRetrier(sender, testDeliveryConfig{base: time.Second}, nil, logger.New("development"))
	r.sleep = func(_ context.Context, _ time.Duration) error { return nil }

	engine := gin.New()
	h := NewHandler(r, payloads, validator.New(), logger.New("development"))
	h.RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func sendBody(t *testing.T, overrides map[string]any) string {
	t.Helper()
	body := map[string]any{
		"instanceId":     "inst-1",
		"conversationId": "5511987654321",
		"mediaKind":      "image",
		"fileName":       "photo.jpg",
		"payloadBase64":  base64.StdEncoding.EncodeToString([]byte("bytes")),
	}
	for k, v := range overrides {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return string(raw)
}

func TestSendMediaEndpointSuccess(t *testing.T) {
	sender := &scriptedSender{}
	engine := newTestRouter(sender, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/send", strings.NewReader(sendBody(t, nil)))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SendMediaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success || resp.Attempts != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSendMediaEndpointExhaustionReturnsBadGateway(t *testing.T) {
	sender := &scriptedSender{failures: 10}
	engine := newTestRouter(sender, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/send", strings.NewReader(sendBody(t, nil)))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SendMediaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Success || resp.Attempts != MaxSendAttempts || resp.Error == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSendMediaEndpointRejectsInvalidKind(t *testing.T) {
	engine := newTestRouter(&scriptedSender{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/send", strings.NewReader(sendBody(t, map[string]any{"mediaKind": "sticker"})))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendMediaEndpointRejectsFileKeyWithoutStore(t *testing.T) {
	engine := newTestRouter(&scriptedSender{}, nil)

	rec := httptest.NewRecorder()
	body := sendBody(t, map[string]any{"payloadBase64": "", "fileKey": "media/abc"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadMediaStoresPayload(t *testing.T) {
	store := newMemoryPayloadStore()
	engine := newTestRouter(&scriptedSender{}, store)

	body := map[string]any{
		"fileName":      "photo.jpg",
		"mimeType":      "image/jpeg",
		"payloadBase64": base64.StdEncoding.EncodeToString([]byte("jpeg bytes")),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/upload", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp UploadMediaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.FileKey == "" || !strings.HasSuffix(resp.FileKey, "/photo.jpg") {
		t.Fatalf("unexpected file key %q", resp.FileKey)
	}
	if string(store.objects[resp.FileKey]) != "jpeg bytes" {
		t.Fatalf("payload not stored under %q", resp.FileKey)
	}
	if store.types[resp.FileKey] != "image/jpeg" {
		t.Fatalf("content type not stored, got %q", store.types[resp.FileKey])
	}
}

func TestUploadThenSendByFileKey(t *testing.T) {
	store := newMemoryPayloadStore()
	sender := &scriptedSender{}
	engine := newTestRouter(sender, store)

	if err := store.Put(context.Background(), "stage/photo.jpg", []byte("bytes"), "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec := httptest.NewRecorder()
	body := sendBody(t, map[string]any{"payloadBase64": "", "fileKey": "stage/photo.jpg"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadMediaRejectedWithoutStore(t *testing.T) {
	engine := newTestRouter(&scriptedSender{}, nil)

	body := map[string]any{
		"fileName":      "photo.jpg",
		"mimeType":      "image/jpeg",
		"payloadBase64": base64.StdEncoding.EncodeToString([]byte("bytes")),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/upload", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
