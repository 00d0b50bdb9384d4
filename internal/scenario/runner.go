package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/fleetsim/internal/fleet"
	"github.com/nerrad567/fleetsim/internal/simulator"
)

// Simulator is the part of *simulator.Service a Runner drives.
type Simulator interface {
	Init(ctx context.Context) error
	GetNode(ctx context.Context, uuid string) (fleet.NodeSnapshot, error)
	PostToChannel(ctx context.Context, channel, artifact string) fleet.StatusCode
	Endpoint(serial string) (fleet.EndpointSnapshot, error)
	SetEndpointBattery(ctx context.Context, serial string, battery int) error
	SetEndpointBacklog(ctx context.Context, serial string, backlog int) error
	SetLatestEndpointVersion(ctx context.Context, hw fleet.HardwareType, version int) error
	DFUEligibility(ctx context.Context, serial string) (simulator.Eligibility, error)
	PollEndpoint(ctx context.Context, serial string) (simulator.DFUResult, error)
	CheckEndpointVersion(ctx context.Context, serial string, expected int) (fleet.StatusCode, error)
	RecordScenario(ctx context.Context, name string, passed bool, detail string)
}

// Logger defines the logging interface used by the Runner.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// StepResult is the outcome of one step.
type StepResult struct {
	Index   int      `json:"index"`
	Kind    StepKind `json:"kind"`
	Passed  bool     `json:"passed"`
	Message string   `json:"message"`
}

// Result is the outcome of a scenario run.
type Result struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Steps    []StepResult  `json:"steps"`
	Duration time.Duration `json:"duration_ns"`
}

// Runner executes scenarios against a simulator.
type Runner struct {
	sim    Simulator
	logger Logger
}

// NewRunner creates a Runner. A nil logger discards output.
func NewRunner(sim Simulator, logger Logger) *Runner {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Runner{sim: sim, logger: logger}
}

// Run reseeds the simulator and executes sc step by step. Execution stops at
// the first failed step; later steps are not reported.
func (r *Runner) Run(ctx context.Context, sc *Scenario) Result {
	start := time.Now()
	res := Result{ID: sc.ID, Name: sc.Name, Passed: true}

	if err := r.sim.Init(ctx); err != nil {
		res.Passed = false
		res.Steps = append(res.Steps, StepResult{Message: "reseed failed: " + err.Error()})
		res.Duration = time.Since(start)
		return res
	}

	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			res.Passed = false
			res.Steps = append(res.Steps, StepResult{Index: i, Kind: st.Kind, Message: err.Error()})
			break
		}

		var msg string
		var err error
		switch st.Kind {
		case StepOTA:
			msg, err = r.runOTA(ctx, st)
		case StepDFU:
			msg, err = r.runDFU(ctx, st)
		default:
			err = fmt.Errorf("unknown step kind %q", st.Kind)
		}

		sr := StepResult{Index: i, Kind: st.Kind, Passed: err == nil, Message: msg}
		if err != nil {
			sr.Message = err.Error()
		}
		res.Steps = append(res.Steps, sr)
		if err != nil {
			res.Passed = false
			break
		}
	}
	res.Duration = time.Since(start)

	detail := "passed"
	if !res.Passed {
		detail = res.Steps[len(res.Steps)-1].Message
	}
	r.sim.RecordScenario(ctx, sc.ID, res.Passed, detail)

	if res.Passed {
		r.logger.Info("scenario passed", "id", sc.ID, "steps", len(res.Steps))
	} else {
		r.logger.Warn("scenario failed", "id", sc.ID, "detail", detail)
	}
	return res
}

// RunAll runs each scenario in order. Every scenario reseeds first, so they
// do not affect one another.
func (r *Runner) RunAll(ctx context.Context, scenarios []*Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		results = append(results, r.Run(ctx, sc))
	}
	return results
}

func (r *Runner) runOTA(ctx context.Context, st Step) (string, error) {
	before, err := r.sim.GetNode(ctx, st.Node)
	if err != nil {
		return "", err
	}

	want := before.Version
	if !st.ExpectError {
		want, err = fleet.ArtifactVersion(st.Artifact)
		if err != nil {
			return "", err
		}
	}

	if status := r.sim.PostToChannel(ctx, before.OTAChannel, st.Artifact); !status.OK() {
		return "", fmt.Errorf("post to %s returned %d", before.OTAChannel, status)
	}

	after, err := r.sim.GetNode(ctx, st.Node)
	if err != nil {
		return "", err
	}
	if after.Version != want {
		return "", fmt.Errorf("node %s version = %d, want %d", st.Node, after.Version, want)
	}
	if st.ExpectError {
		if after.LastError == "" {
			return "", fmt.Errorf("node %s accepted %s, want rejection", st.Node, st.Artifact)
		}
		return fmt.Sprintf("%s rejected %s: %s", st.Node, st.Artifact, after.LastError), nil
	}
	return fmt.Sprintf("%s updated %d -> %d", st.Node, before.Version, after.Version), nil
}

func (r *Runner) runDFU(ctx context.Context, st Step) (string, error) {
	if st.Battery != nil {
		if err := r.sim.SetEndpointBattery(ctx, st.Serial, *st.Battery); err != nil {
			return "", err
		}
	}
	if st.Backlog != nil {
		if err := r.sim.SetEndpointBacklog(ctx, st.Serial, *st.Backlog); err != nil {
			return "", err
		}
	}

	ep, err := r.sim.Endpoint(st.Serial)
	if err != nil {
		return "", err
	}
	if err := r.sim.SetLatestEndpointVersion(ctx, ep.HardwareType, st.Version); err != nil {
		return "", err
	}

	elig, err := r.sim.DFUEligibility(ctx, st.Serial)
	if err != nil {
		return "", err
	}

	if st.ExpectSkip != "" {
		res, err := r.sim.PollEndpoint(ctx, st.Serial)
		if err != nil {
			return "", err
		}
		if res.Outcome != simulator.DFUSkipped || string(res.Reason) != st.ExpectSkip {
			return "", fmt.Errorf("poll %s = %s %s, want skipped %s", st.Serial, res.Outcome, res.Reason, st.ExpectSkip)
		}
		return fmt.Sprintf("%s skipped: %s", st.Serial, res.Reason), nil
	}

	if elig.Battery <= elig.Threshold {
		return "", fmt.Errorf("battery %d not above threshold %d for %s", elig.Battery, elig.Threshold, elig.HardwareType)
	}
	if !elig.BacklogOK {
		return "", fmt.Errorf("backlog is %d, want 0", elig.Backlog)
	}
	if !elig.UpdateAvailable {
		return "", fmt.Errorf("no update needed: version %d is up to date", elig.CurrentVersion)
	}

	if _, err := r.sim.PollEndpoint(ctx, st.Serial); err != nil {
		return "", err
	}
	status, err := r.sim.CheckEndpointVersion(ctx, st.Serial, st.Version)
	if err != nil {
		return "", err
	}
	if !status.OK() {
		return "", fmt.Errorf("version check for %s returned %d, want %d", st.Serial, status, fleet.StatusOK)
	}
	return fmt.Sprintf("%s updated %d -> %d", st.Serial, elig.CurrentVersion, st.Version), nil
}
