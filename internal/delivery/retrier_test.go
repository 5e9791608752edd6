package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"chathub_backend/internal/gateway"
	"chathub_backend/platform/logger"
)

type testDeliveryConfig struct{ base time.Duration }

func (c testDeliveryConfig) GetSendRetryBaseDelay() time.Duration { return c.base }

type scriptedSender struct {
	failures int // attempts that fail before the first success
	calls    int
	files    []gateway.File
}

func (s *scriptedSender) SendMediaFile(_ context.Context, _, _ string, file gateway.File, _ gateway.SendOptions) (*gateway.SendResponse, error) {
	s.calls++
	s.files = append(s.files, file)
	if s.calls <= s.failures {
		return nil, errors.New("gateway timeout")
	}
	return &gateway.SendResponse{MessageID: "MSG", Status: "queued"}, nil
}

func newTestRetrier(sender Sender) (*Retrier, *[]time.Duration) {
	r := NewRetrier(sender, testDeliveryConfig{base: time.Second}, nil, logger.New("development"))
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func newJob() *MediaSendJob {
	return NewMediaSendJob([]byte("bytes"), "photo.jpg", "image/jpeg", gateway.MediaImage, "inst-1", "5511987654321", "corr-1")
}

func TestSendFirstAttemptSucceeds(t *testing.T) {
	sender := &scriptedSender{}
	r, waits := newTestRetrier(sender)

	result := r.Send(context.Background(), newJob())
	if !result.Success || result.Attempts != 1 {
		t.Fatalf("expected success on attempt 1, got %+v", result)
	}
	if sender.calls != 1 {
		t.Fatalf("expected exactly 1 gateway call, got %d", sender.calls)
	}
	if len(*waits) != 0 {
		t.Fatalf("no backoff expected on first-attempt success, got %v", *waits)
	}
}

func TestSendSucceedsOnThirdAttempt(t *testing.T) {
	sender := &scriptedSender{failures: 2}
	r, _ := newTestRetrier(sender)

	result := r.Send(context.Background(), newJob())
	if !result.Success || result.Attempts != 3 {
		t.Fatalf("expected {success:true attempts:3}, got %+v", result)
	}
	if result.Err != nil {
		t.Fatalf("successful result should carry no error, got %v", result.Err)
	}
}

func TestSendLinearBackoffBetweenAttempts(t *testing.T) {
	sender := &scriptedSender{failures: 2}
	r, waits := newTestRetrier(sender)

	r.Send(context.Background(), newJob())
	if len(*waits) != 2 {
		t.Fatalf("expected 2 waits, got %v", *waits)
	}
	if (*waits)[0] != 1*time.Second || (*waits)[1] != 2*time.Second {
		t.Fatalf("expected linear backoff [1s 2s], got %v", *waits)
	}
}

func TestSendExhaustionReturnsLastError(t *testing.T) {
	sender := &scriptedSender{failures: 10}
	r, waits := newTestRetrier(sender)

	result := r.Send(context.Background(), newJob())
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Attempts != MaxSendAttempts {
		t.Fatalf("expected attempts=%d, got %d", MaxSendAttempts, result.Attempts)
	}
	if result.Err == nil || result.Err.Error() != "gateway timeout" {
		t.Fatalf("expected last gateway error, got %v", result.Err)
	}
	if sender.calls != MaxSendAttempts {
		t.Fatalf("expected %d gateway calls, got %d", MaxSendAttempts, sender.calls)
	}
	// only waits between attempts, none after the last failure
	if len(*waits) != MaxSendAttempts-1 {
		t.Fatalf("expected %d waits, got %v", MaxSendAttempts-1, *waits)
	}
}

func TestSendReusesFileRepresentationAcrossAttempts(t *testing.T) {
	sender := &scriptedSender{failures: 2}
	r, _ := newTestRetrier(sender)

	r.Send(context.Background(), newJob())
	if len(sender.files) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(sender.files))
	}
	first := sender.files[0]
	for i, f := range sender.files {
		if f.Name != first.Name || f.MIMEType != first.MIMEType || string(f.Data) != string(first.Data) {
			t.Fatalf("attempt %d sent a different file representation", i+1)
		}
	}
}

func TestSendStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	sender := &scriptedSender{failures: 10}
	r := NewRetrier(sender, testDeliveryConfig{base: time.Second}, nil, logger.New("development"))
	r.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	result := r.Send(context.Background(), newJob())
	if result.Success {
		t.Fatalf("expected failure after cancellation")
	}
	if result.Attempts != 1 {
		t.Fatalf("cancellation during first backoff should stop after 1 attempt, got %d", result.Attempts)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", result.Err)
	}
}
