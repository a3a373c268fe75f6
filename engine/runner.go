package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/messenger"
	"github.com/mykhaliev/agent-sim/model"
	"github.com/mykhaliev/agent-sim/report"
	"github.com/mykhaliev/agent-sim/templates"
)

// Runner executes the phases of one suite against a messenger.
type Runner struct {
	cfg         *model.SuiteConfiguration
	msgr        messenger.Messenger
	out         io.Writer
	recorder    *Recorder
	engine      *templates.TemplateEngine
	staticCtx   map[string]string
	sendTimeout time.Duration
	stepDelay   time.Duration
	phaseDelay  time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRunner(cfg *model.SuiteConfiguration, msgr messenger.Messenger, out io.Writer, staticCtx map[string]string) *Runner {
	return &Runner{
		cfg:         cfg,
		msgr:        msgr,
		out:         out,
		recorder:    NewRecorder(out),
		engine:      templates.NewTemplateEngine(),
		staticCtx:   staticCtx,
		sendTimeout: ParseTimeout(cfg.Settings.SendTimeout),
		stepDelay:   ParseDelay(cfg.Settings.StepDelay),
		phaseDelay:  ParseDelay(cfg.Settings.PhaseDelay),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes every phase in order. Cancelling ctx stops the run; results
// recorded up to that point are kept and the data is marked interrupted.
func (r *Runner) Run(ctx context.Context) report.Data {
	data := report.NewData(r.cfg, 0)
	data.StartTime = r.now()

	line := strings.Repeat("=", 80)
	fmt.Fprintln(r.out, line)
	fmt.Fprintln(r.out, strings.ToUpper(r.cfg.DisplayTitle()))
	fmt.Fprintln(r.out, line)
	fmt.Fprintf(r.out, "Started: %s\n", data.StartTime.Format(report.DateLayout))
	fmt.Fprintln(r.out, line+"\n")

	logger.Logger.Info("Starting simulation",
		"suite", r.cfg.Name,
		"phases", len(r.cfg.Phases),
		"messenger", r.msgr.Name(),
		"send_timeout", r.sendTimeout)

	for i, phase := range r.cfg.Phases {
		if ctx.Err() != nil {
			data.Interrupted = true
			break
		}
		if i > 0 {
			if err := r.sleep(ctx, r.phaseDelay); err != nil {
				data.Interrupted = true
				break
			}
		}

		fmt.Fprintln(r.out, "\n"+line)
		fmt.Fprintf(r.out, "PHASE %d: %s\n", i+1, strings.ToUpper(phase.Title))
		fmt.Fprintln(r.out, line+"\n")
		logger.Logger.Info("Starting phase", "phase", phase.Name, "index", i+1, "total", len(r.cfg.Phases), "kind", phase.EffectiveKind())

		var err error
		switch phase.EffectiveKind() {
		case model.PhaseBurst:
			err = r.runBurst(ctx, phase)
		default:
			err = r.runSequence(ctx, phase)
		}
		if err != nil {
			data.Interrupted = true
			break
		}
	}

	if data.Interrupted {
		logger.Logger.Warn("Simulation interrupted", "recorded", len(r.recorder.Results()))
	}
	data.EndTime = r.now()
	data.Results = r.recorder.Results()
	return data
}

// runSequence sends each step once, pausing after each successful send. It
// returns an error only when the run was cancelled.
func (r *Runner) runSequence(ctx context.Context, phase model.Phase) error {
	for i, raw := range phase.Steps {
		step := raw.Resolve(phase)
		stepCtx := r.stepContext(phase, step, i+1)
		label := model.RenderTemplate(step.Label, stepCtx)

		msg := messenger.NewMessage(step.From, step.To, step.Type, r.engine.RenderPayload(step.BuildPayload(), stepCtx), step.Priority)
		id, err := r.send(ctx, msg)
		if err != nil {
			r.recorder.Fail(phase.Name, label, err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.cfg.Settings.StopOnFailure {
				logger.Logger.Warn("Stopping phase after failure", "phase", phase.Name, "step", i+1)
				return nil
			}
			if !phase.PauseOnFailure {
				continue
			}
		} else {
			stepCtx["id"] = id
			stepCtx["count"] = "1"
			r.recorder.Pass(phase.Name, label, model.RenderTemplate(step.Details, stepCtx))
		}

		if phase.SkipLastDelay && i == len(phase.Steps)-1 {
			continue
		}
		if err := r.sleep(ctx, r.delayFor(step)); err != nil {
			return err
		}
	}
	return nil
}

// runBurst sends Repeat rounds of the phase steps back to back and records a
// single result. The first failure ends the burst.
func (r *Runner) runBurst(ctx context.Context, phase model.Phase) error {
	first := phase.Steps[0].Resolve(phase)
	label := model.RenderTemplate(first.Label, r.stepContext(phase, first, 1))

	sent := 0
	total := phase.Repeat * len(phase.Steps)
	for round := 0; round < phase.Repeat; round++ {
		for i, raw := range phase.Steps {
			step := raw.Resolve(phase)
			stepCtx := r.stepContext(phase, step, round*len(phase.Steps)+i+1)
			msg := messenger.NewMessage(step.From, step.To, step.Type, r.engine.RenderPayload(step.BuildPayload(), stepCtx), step.Priority)
			if _, err := r.send(ctx, msg); err != nil {
				r.recorder.Log(phase.Name, label, model.StatusFail,
					fmt.Sprintf("%d of %d messages sent: %v", sent, total, err))
				return ctx.Err()
			}
			sent++
		}
	}

	doneCtx := r.stepContext(phase, first, 1)
	doneCtx["count"] = strconv.Itoa(sent)
	details := first.Details
	if details == "" {
		details = "{{count}} messages sent successfully"
	}
	r.recorder.Pass(phase.Name, label, model.RenderTemplate(details, doneCtx))
	return nil
}

func (r *Runner) send(ctx context.Context, msg *model.Message) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	logger.Logger.Debug("Sending message",
		"id", msg.ShortID(),
		"from", msg.From,
		"to", msg.To,
		"type", msg.Type,
		"priority", msg.Priority)
	return r.msgr.Send(sendCtx, msg)
}

func (r *Runner) delayFor(step model.Step) time.Duration {
	if step.Delay != "" {
		return ParseDelay(step.Delay)
	}
	return r.stepDelay
}

// stepContext layers the per-step keys over the static context.
func (r *Runner) stepContext(phase model.Phase, step model.Step, index int) map[string]string {
	return model.MergeVariables(map[string]string{
		"to":       step.To,
		"from":     step.From,
		"action":   step.Action,
		"type":     string(step.Type),
		"priority": string(step.Priority),
		"phase":    phase.Name,
		"index":    strconv.Itoa(index),
	}, r.staticCtx)
}

func (r *Runner) Results() []model.TestResult {
	return r.recorder.Results()
}
