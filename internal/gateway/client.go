// Package gateway implements the HTTP client for the external media gateway
// that bridges the hub to the messaging network.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"chathub_backend/platform/apperr"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
	"chathub_backend/platform/phone"

	"golang.org/x/time/rate"
)

// MediaKind identifies the payload category the gateway should announce.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// File is a named byte blob with a MIME type, the gateway's expected file
// representation.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// SendOptions carries per-send parameters of the sendMediaFile contract.
type SendOptions struct {
	DelayMs       int
	CorrelationID string
	Caption       string
	MediaKind     MediaKind
}

// SendResponse is the gateway acknowledgement for an accepted send.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Client talks to the media gateway over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewClient builds a gateway client, or nil when the gateway is not configured.
func NewClient(cfg config.GatewayConfig, log *logger.Logger) *Client {
	if !cfg.IsGatewayEnabled() {
		return nil
	}

	perSecond := cfg.GetGatewayRatePerSecond()
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.GetGatewayBurst()
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetGatewayURL(), "/"),
		apiKey:  cfg.GetGatewayAPIKey(),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     log,
	}
}

// SendMediaFile uploads one media payload for delivery to a conversation.
// Transport failures and 5xx answers surface as KindUnavailable so callers
// can treat them as retryable; 4xx answers surface as KindBadRequest.
func (c *Client) SendMediaFile(ctx context.Context, instanceID, conversationID string, file File, opts SendOptions) (*SendResponse, error) {
	if c == nil {
		return nil, apperr.Unavailable("media gateway not configured")
	}
	if len(file.Data) == 0 {
		return nil, apperr.Validation("media payload is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "gateway rate wait interrupted", err)
	}

	body, contentType, err := buildMultipart(conversationID, file, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build gateway request", err)
	}

	url := fmt.Sprintf("%s/instance/%s/send-media", c.baseURL, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build gateway request", err)
	}

	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if opts.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", opts.CorrelationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "gateway request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, apperr.Unavailable(readErrorBody(resp))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apperr.New(apperr.KindBadRequest, readErrorBody(resp))
	}

	var out SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode gateway response", err)
	}

	c.log.Info("media sent via gateway",
		"instance_id", instanceID,
		"conversation_id", conversationID,
		"media_kind", string(opts.MediaKind),
		"message_id", out.MessageID,
	)
	return &out, nil
}

func buildMultipart(conversationID string, file File, opts SendOptions) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := map[string]string{
		"number":    normalizeDestination(conversationID),
		"mediatype": string(opts.MediaKind),
	}
	if opts.Caption != "" {
		fields["caption"] = opts.Caption
	}
	if opts.DelayMs > 0 {
		fields["delay"] = strconv.Itoa(opts.DelayMs)
	}
	if opts.CorrelationID != "" {
		fields["messageId"] = opts.CorrelationID
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	header.Set("Content-Type", file.MIMEType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// normalizeDestination maps bare phone numbers to E.164 without the plus
// sign; ids that already carry a network suffix pass through untouched.
func normalizeDestination(conversationID string) string {
	if strings.Contains(conversationID, "@") {
		return conversationID
	}
	return strings.TrimPrefix(phone.NormalizeE164(conversationID), "+")
}

func readErrorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, msg)
}
