package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// ModeHybridSequential tags every report produced by the standard chain.
const ModeHybridSequential = "hybrid_sequential"

// Stage names of the standard recovery chain. The primary stage decrypts and
// transcribes freshly received media, the fallback stage re-drives batches
// the primary could not handle, and the analysis stage runs content analysis
// over everything that now has decrypted payloads.
const (
	StagePrimary  = "process-received-media"
	StageFallback = "process-batches"
	StageAnalysis = "analyze-media-content"
)

const defaultStageDelay = 5 * time.Second

// Stage describes one entry of the ordered chain: a named remote call plus
// the fixed delay observed after it completes, success or failure.
type Stage struct {
	Name       string
	DelayAfter time.Duration
}

// StageResult is the tagged outcome of one stage.
type StageResult struct {
	Name    string          `json:"name"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Report aggregates a full chain execution.
type Report struct {
	Mode       string        `json:"mode"`
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Stages     []StageResult `json:"stages"`
}

// Runner executes the stage chain strictly in order. Stage-reported failures
// are captured in the report and never stop later stages; only an invocation
// failure (the remote call itself cannot complete) aborts the run.
type Runner struct {
	invoker StageInvoker
	stages  []Stage
	sleep   func(ctx context.Context, d time.Duration) error
	log     *logger.Logger
}

// NewRunner builds the standard hybrid chain: primary, fallback, analysis,
// with the configured inter-stage delay after the first two.
func NewRunner(invoker StageInvoker, cfg config.PipelineConfig, log *logger.Logger) *Runner {
	delay := cfg.GetStageDelay()
	if delay <= 0 {
		delay = defaultStageDelay
	}

	return &Runner{
		invoker: invoker,
		stages: []Stage{
			{Name: StagePrimary, DelayAfter: delay},
			{Name: StageFallback, DelayAfter: delay},
			{Name: StageAnalysis},
		},
		sleep: sleepCtx,
		log:   log,
	}
}

// Run executes the chain once. It is invoked by an external timer or trigger
// and is not itself a loop.
func (r *Runner) Run(ctx context.Context, trigger string) (*Report, error) {
	report := &Report{
		Mode:      ModeHybridSequential,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Stages:    make([]StageResult, 0, len(r.stages)),
	}

	for _, stage := range r.stages {
		started := time.Now()
		payload, err := r.invoker.Invoke(ctx, stage.Name, trigger)
		if err != nil {
			// Invocation plumbing failed; the next periodic trigger retries
			// the whole chain.
			r.log.StageResult(stage.Name, false, float64(time.Since(started).Milliseconds()))
			return nil, err
		}

		result := ClassifyStagePayload(stage.Name, payload)
		r.log.StageResult(stage.Name, result.OK, float64(time.Since(started).Milliseconds()))
		report.Stages = append(report.Stages, result)

		if stage.DelayAfter > 0 {
			if err := r.sleep(ctx, stage.DelayAfter); err != nil {
				return nil, err
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// ClassifyStagePayload separates stage-reported failures from clean results.
// A stage that ran but failed internally answers 2xx with success=false or an
// error field in the body. Callers that invoke a single stage outside the
// chain use it to decide whether the stage actually did its work.
func ClassifyStagePayload(name string, payload json.RawMessage) StageResult {
	var reply struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(payload, &reply)

	ok := reply.Error == "" && (reply.Success == nil || *reply.Success)
	result := StageResult{Name: name, OK: ok, Payload: payload}
	if !ok {
		result.Error = reply.Error
		if result.Error == "" {
			result.Error = "stage reported failure"
		}
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
