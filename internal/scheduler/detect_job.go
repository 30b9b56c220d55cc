package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/pipeline"
)

// Detector is the part of pipeline.Detector a job needs
type Detector interface {
	Run(ctx context.Context) (*pipeline.Result, error)
	Name() string
}

// DetectJob retrains the detector and rescores the series on each tick
type DetectJob struct {
	ctx      context.Context
	detector Detector
	log      zerolog.Logger
	onResult func(*pipeline.Result)
}

// NewDetectJob creates a job bound to ctx. Cancelling ctx aborts a run in progress.
func NewDetectJob(ctx context.Context, detector Detector, log zerolog.Logger) *DetectJob {
	return &DetectJob{
		ctx:      ctx,
		detector: detector,
		log:      log.With().Str("job", detector.Name()).Logger(),
	}
}

// OnResult sets a callback invoked after each successful run
func (j *DetectJob) OnResult(fn func(*pipeline.Result)) {
	j.onResult = fn
}

// Name returns the job name
func (j *DetectJob) Name() string {
	return j.detector.Name()
}

// Run executes one detection
func (j *DetectJob) Run() error {
	res, err := j.detector.Run(j.ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", res.RunID).
		Int("anomalies", res.Summary.Anomalies).
		Msg("Scheduled detection finished")

	if j.onResult != nil {
		j.onResult(res)
	}
	return nil
}
