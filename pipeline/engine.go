package pipeline

import (
	"context"
	"fmt"
	"runtime"

	xerrors "github.com/vidforge/composer-api/errors"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
)

// Stage is one unit of the pipeline. Run may only write the keys listed in
// Produces and can rely on Requires being present. ErrKind classifies
// failures that escape Run unwrapped; the span is the stage's own metric
// record, for item counting.
type Stage struct {
	Name      string
	Requires  []Key
	Produces  []Key
	Condition func(*Context) bool
	ErrKind   xerrors.Kind
	Run       func(context.Context, *Context, *metrics.Span) error
}

// Pipeline executes stages in order, wrapping each in a metric span and a
// panic guard. The first failing stage aborts the run; its classified error
// is what the caller sees.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

func (p *Pipeline) Run(ctx context.Context, pc *Context) error {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return xerrors.Wrap(stage.Name, xerrors.Cancelled, err)
		}
		if stage.Condition != nil && !stage.Condition(pc) {
			log.Log(pc.RequestID, "Skipping stage", "stage", stage.Name)
			continue
		}
		if err := p.runStage(ctx, stage, pc); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, pc *Context) error {
	for _, k := range stage.Requires {
		if !pc.Has(k) {
			return xerrors.Wrap(stage.Name, xerrors.ValidationError,
				fmt.Errorf("required value %q not produced by an earlier stage", k))
		}
	}

	log.Log(pc.RequestID, "Starting stage", "stage", stage.Name)
	span := pc.Collector.StartSpan(stage.Name)
	pc.beginStage(stage.Name, stage.Produces)
	_, err := recovered(func() (any, error) {
		return nil, stage.Run(ctx, pc, span)
	})
	pc.endStage()

	if err != nil {
		err = xerrors.Wrap(stage.Name, stage.ErrKind, err)
		span.End(false, string(xerrors.KindOf(err)))
		log.LogError(pc.RequestID, "Stage failed", err, "stage", stage.Name)
		return err
	}
	span.End(true, "")
	return nil
}

// recovered turns panics in stage and item functions into plain errors so a
// bad segment can never take the process down.
func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.LogNoRequestID("panic in pipeline, recovering", "panicValue", rec, "stack", string(buf))
			err = fmt.Errorf("panic caught: %v", rec)
		}
	}()
	t, err = f()
	return t, err
}
