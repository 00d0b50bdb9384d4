package scenario

import (
	"context"
	"strings"
	"testing"

	"github.com/nerrad567/fleetsim/internal/fleet"
	"github.com/nerrad567/fleetsim/internal/journal"
	"github.com/nerrad567/fleetsim/internal/simulator"
)

func intPtr(v int) *int { return &v }

func newRunner(t *testing.T) (*Runner, *simulator.Service, journal.Repository) {
	t.Helper()
	repo := journal.NewMemoryRepository()
	svc := simulator.New(fleet.NewRegistry(), simulator.Options{Journal: repo})
	return NewRunner(svc, nil), svc, repo
}

func TestRunner_Defaults(t *testing.T) {
	runner, _, repo := newRunner(t)
	scenarios, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults() error = %v", err)
	}

	for _, res := range runner.RunAll(context.Background(), scenarios) {
		if !res.Passed {
			t.Errorf("scenario %s failed: %+v", res.ID, res.Steps)
		}
	}

	list, err := repo.List(context.Background(), journal.Filter{Kind: journal.KindScenarioRun})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list.Total != 2 {
		t.Errorf("scenario_run entries = %d, want 2", list.Total)
	}
}

func TestRunner_Steps(t *testing.T) {
	tests := []struct {
		name       string
		step       Step
		wantPassed bool
		wantMsg    string
	}{
		{
			name:       "ota rejection expected",
			step:       Step{Kind: StepOTA, Node: "MOXA_ABC33", Artifact: "AHN2_40.swu", ExpectError: true},
			wantPassed: true,
			wantMsg:    "rejected",
		},
		{
			name:       "ota wrong family",
			step:       Step{Kind: StepOTA, Node: "MOXA_ABC33", Artifact: "AHN2_40.swu"},
			wantPassed: false,
			wantMsg:    "version = 33, want 40",
		},
		{
			name:       "ota unknown node",
			step:       Step{Kind: StepOTA, Node: "NOPE_1", Artifact: "NOPE_2.swu"},
			wantPassed: false,
			wantMsg:    "node not found",
		},
		{
			name:       "dfu battery at threshold fails",
			step:       Step{Kind: StepDFU, Serial: "CASSIA_ABC22_Canary_A_SERIAL", Battery: intPtr(3600), Backlog: intPtr(0), Version: 2},
			wantPassed: false,
			wantMsg:    "not above threshold",
		},
		{
			name:       "dfu backlog fails",
			step:       Step{Kind: StepDFU, Serial: "CASSIA_ABC22_Canary_A_SERIAL", Battery: intPtr(5000), Backlog: intPtr(2), Version: 2},
			wantPassed: false,
			wantMsg:    "backlog is 2",
		},
		{
			name:       "dfu no update needed",
			step:       Step{Kind: StepDFU, Serial: "MOXA_ABC33_EP1_SERIAL", Version: 1},
			wantPassed: false,
			wantMsg:    "no update needed",
		},
		{
			name:       "dfu expected skip",
			step:       Step{Kind: StepDFU, Serial: "MOXA_ABC33_EP2_SERIAL", Battery: intPtr(100), Version: 3, ExpectSkip: "battery"},
			wantPassed: true,
			wantMsg:    "skipped: battery",
		},
		{
			name:       "dfu unknown serial",
			step:       Step{Kind: StepDFU, Serial: "NOPE_EP1_SERIAL", Version: 2},
			wantPassed: false,
			wantMsg:    "endpoint not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, _, _ := newRunner(t)
			res := runner.Run(context.Background(), &Scenario{ID: "t", Steps: []Step{tt.step}})

			if res.Passed != tt.wantPassed {
				t.Errorf("Run().Passed = %v, want %v (%+v)", res.Passed, tt.wantPassed, res.Steps)
			}
			if len(res.Steps) != 1 {
				t.Fatalf("len(Run().Steps) = %d, want 1", len(res.Steps))
			}
			if !strings.Contains(res.Steps[0].Message, tt.wantMsg) {
				t.Errorf("Steps[0].Message = %q, want it to contain %q", res.Steps[0].Message, tt.wantMsg)
			}
		})
	}
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	runner, _, _ := newRunner(t)
	sc := &Scenario{ID: "stop", Steps: []Step{
		{Kind: StepOTA, Node: "MOXA_ABC33", Artifact: "AHN2_40.swu"},
		{Kind: StepOTA, Node: "MOXA_ABC33", Artifact: "MOXA_34.swu"},
	}}

	res := runner.Run(context.Background(), sc)
	if res.Passed {
		t.Error("Run().Passed = true, want false")
	}
	if len(res.Steps) != 1 {
		t.Errorf("len(Run().Steps) = %d, want 1", len(res.Steps))
	}
}

func TestRunner_Reseeds(t *testing.T) {
	runner, svc, _ := newRunner(t)
	ctx := context.Background()
	sc := &Scenario{ID: "twice", Steps: []Step{
		{Kind: StepOTA, Node: "MOXA_ABC33", Artifact: "MOXA_34.swu"},
	}}

	for i := 0; i < 2; i++ {
		if res := runner.Run(ctx, sc); !res.Passed {
			t.Fatalf("run %d failed: %+v", i, res.Steps)
		}
	}
	node, err := svc.GetNode(ctx, "MOXA_ABC33")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Version != 34 {
		t.Errorf("GetNode().Version = %d, want 34", node.Version)
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	runner, _, _ := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runner.Run(ctx, &Scenario{ID: "c", Steps: []Step{
		{Kind: StepOTA, Node: "MOXA_ABC33", Artifact: "MOXA_34.swu"},
	}})
	if res.Passed {
		t.Error("Run().Passed = true, want false")
	}
}
