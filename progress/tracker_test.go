package progress

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/odai-labs/bridge/event"
)

func rec(t *testing.T, typ event.Type, payload string) event.Record {
	if t != nil {
		t.Helper()
		require.True(t, json.Valid([]byte(payload)), "bad test payload: %s", payload)
	}
	return event.Record{Type: typ, Data: json.RawMessage(payload)}
}

func phaseByID(t *testing.T, snap Snapshot, id string) Phase {
	t.Helper()
	for _, p := range snap.Phases {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("phase %s not found", id)
	return Phase{}
}

func TestNewTrackerAllPhasesPending(t *testing.T) {
	snap := NewTracker().Snapshot()
	require.Len(t, snap.Phases, 6)
	for i, p := range snap.Phases {
		require.Equal(t, StatusPending, p.Status)
		require.Equal(t, i, p.Index)
	}
	require.Equal(t, PhaseSafety, snap.Phases[0].ID)
	require.Equal(t, PhaseSelection, snap.Phases[5].ID)
}

func TestPhaseStartForceCompletesEarlierPending(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseStart, `{"phase":"inference","phase_number":4,"phase_name":"Parallel Inference"}`))

	snap := tr.Snapshot()
	for _, p := range snap.Phases[:4] {
		require.Equal(t, StatusCompleted, p.Status, "phase %s", p.ID)
		require.Equal(t, float64(100), p.Percent, "phase %s", p.ID)
	}
	inference := phaseByID(t, snap, PhaseInference)
	require.Equal(t, StatusRunning, inference.Status)
	require.Zero(t, inference.Percent)
	require.Equal(t, StatusPending, snap.Phases[5].Status)
}

func TestPhaseStartClearsStaleStep(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseProgress, `{"phase":"safety","step":"moderation","step_name":"Moderation","status":"running","progress_percent":40}`))
	tr.Apply(rec(t, event.TypePhaseComplete, `{"phase":"safety","phase_number":0,"duration_ms":10,"success":true}`))
	tr.Apply(rec(t, event.TypePhaseStart, `{"phase":"pre_analysis","phase_number":1,"phase_name":"Parallel Pre-Analysis"}`))

	p := phaseByID(t, tr.Snapshot(), PhasePreAnalysis)
	require.Empty(t, p.Step)
	require.Empty(t, p.StepName)
}

func TestPhaseProgressAutoPromotesPending(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseProgress, `{"phase":"safety","step":"moderation","step_name":"Moderation","status":"running","progress_percent":55}`))

	p := phaseByID(t, tr.Snapshot(), PhaseSafety)
	require.Equal(t, StatusRunning, p.Status)
	require.Equal(t, 55.0, p.Percent)
	require.Equal(t, "moderation", p.Step)
	require.Equal(t, "Moderation", p.StepName)
}

func TestPhaseProgressDetailsMergePerStep(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseProgress, `{"phase":"pre_analysis","step":"extraction","step_name":"Extraction","status":"running","details":{"urls":3}}`))
	tr.Apply(rec(t, event.TypePhaseProgress, `{"phase":"pre_analysis","step":"domain","step_name":"Domain","status":"running","details":{"primary":"Code"}}`))
	tr.Apply(rec(t, event.TypePhaseProgress, `{"phase":"pre_analysis","step":"extraction","step_name":"Extraction","status":"done","details":{"urls":7}}`))

	p := phaseByID(t, tr.Snapshot(), PhasePreAnalysis)
	require.Len(t, p.Details, 2)
	require.Equal(t, map[string]any{"urls": float64(7)}, p.Details["extraction"])
	require.Equal(t, map[string]any{"primary": "Code"}, p.Details["domain"])
}

func TestPhaseCompleteSuccessAndFailure(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseComplete, `{"phase":"safety","phase_number":0,"duration_ms":321,"success":true,"summary":{"verdict":"safe"}}`))
	tr.Apply(rec(t, event.TypePhaseComplete, `{"phase":"pre_analysis","phase_number":1,"duration_ms":10,"success":false}`))

	snap := tr.Snapshot()
	safety := phaseByID(t, snap, PhaseSafety)
	require.Equal(t, StatusCompleted, safety.Status)
	require.Equal(t, float64(100), safety.Percent)
	require.Equal(t, int64(321), safety.DurationMS)
	require.Equal(t, map[string]any{"verdict": "safe"}, safety.Summary)
	require.Equal(t, StatusFailed, phaseByID(t, snap, PhasePreAnalysis).Status)
}

func TestPhaseCompleteRepairsSkippedPhases(t *testing.T) {
	tr := NewTracker()
	// The vendor skipped every event before selection's completion.
	tr.Apply(rec(t, event.TypePhaseComplete, `{"phase":"selection","phase_number":5,"duration_ms":5,"success":true}`))
	snap := tr.Snapshot()
	for _, p := range snap.Phases {
		require.NotEqual(t, StatusPending, p.Status, "phase %s left pending", p.ID)
	}
}

func TestBudgetAllocationSummaryExtraction(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseComplete, `{"phase":"budget_allocation","phase_number":2,"duration_ms":7,"success":true,"summary":{"decomposition":{"execution_mode":"decomposed","sub_task_count":4}}}`))
	snap := tr.Snapshot()
	require.Equal(t, "decomposed", snap.ExecutionMode)
	require.Equal(t, 4, snap.SubTaskCount)
}

func TestModelCompositeKeyUpdate(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.Apply(rec(t, event.TypeModelActive, fmt.Sprintf(
			`{"phase":"inference","model_id":"m","provider":"openai","sample_index":%d,"wave_number":1}`, i)))
	}
	tr.Apply(rec(t, event.TypeModelComplete, `{"phase":"inference","model_id":"m","provider":"openai","sample_index":2,"status":"success","tokens_used":120,"thinking_tokens":30,"duration_ms":900}`))

	snap := tr.Snapshot()
	require.Len(t, snap.Models, 3)
	require.Equal(t, StatusRunning, snap.Models[0].Status)
	require.Equal(t, StatusRunning, snap.Models[1].Status)
	updated := snap.Models[2]
	require.Equal(t, StatusCompleted, updated.Status)
	require.Equal(t, 120, updated.TokensUsed)
	require.Equal(t, 30, updated.ThinkingTokens)
	require.Equal(t, int64(900), updated.DurationMS)
}

func TestModelCompleteUnknownKeyIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypeModelComplete, `{"phase":"inference","model_id":"ghost","sample_index":0,"status":"success","duration_ms":1}`))
	require.Empty(t, tr.Snapshot().Models)
}

func TestModelTimeoutMapsToFailed(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypeModelActive, `{"phase":"inference","model_id":"m","provider":"openai","sample_index":0}`))
	tr.Apply(rec(t, event.TypeModelComplete, `{"phase":"inference","model_id":"m","sample_index":0,"status":"timeout","duration_ms":60000,"error_message":"deadline"}`))
	got := tr.Snapshot().Models[0]
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "deadline", got.ErrorMessage)
}

func TestWebFirstCaptureWinsForDiscovery(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"executing"}`))
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sources":[{"title":"A","url":"https://a"}]}`))
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sources":[{"title":"B","url":"https://b"}]}`))

	snap := tr.Snapshot()
	require.Len(t, snap.Discovery.Sources, 1)
	require.Equal(t, "A", snap.Discovery.Sources[0].Title)
}

func TestWebSubTaskScopesCaptureIndependently(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sub_task_index":0,"sub_task_id":"t0","sources":[{"title":"A","url":"https://a"}]}`))
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sub_task_index":1,"sub_task_id":"t1","sources":[{"title":"B","url":"https://b"}]}`))
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sub_task_index":0,"sub_task_id":"t0","sources":[{"title":"C","url":"https://c"}]}`))

	snap := tr.Snapshot()
	require.Equal(t, []string{"0-t0", "1-t1"}, snap.SubTaskOrder)
	require.Equal(t, "A", snap.SubTasks["0-t0"].Sources[0].Title)
	require.Equal(t, "B", snap.SubTasks["1-t1"].Sources[0].Title)
}

func TestWebDuringInferenceWithoutSubTaskUsesSingleScope(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseStart, `{"phase":"inference","phase_number":4,"phase_name":"Parallel Inference"}`))
	tr.Apply(rec(t, event.TypeWebScrape, `{"action":"completed","sub_links_scraped":3,"sources":[{"title":"S","url":"https://s"}]}`))

	snap := tr.Snapshot()
	require.Empty(t, snap.Discovery.Scraped)
	require.Len(t, snap.SubTasks["single"].Scraped, 1)
	require.Equal(t, 3, snap.SubTasks["single"].Scraped[0].SubLinks)
}

func TestWebSubTaskIDWithoutIndexDoesNotScope(t *testing.T) {
	tr := NewTracker()
	// An id alone carries no sub-task identity. Before inference the record
	// is the discovery capture; during inference it joins the single scope.
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sub_task_id":"t9","sources":[{"title":"A","url":"https://a"}]}`))
	snap := tr.Snapshot()
	require.Len(t, snap.Discovery.Sources, 1)
	require.Empty(t, snap.SubTasks)

	tr.Apply(rec(t, event.TypePhaseStart, `{"phase":"inference","phase_number":4,"phase_name":"Parallel Inference"}`))
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sub_task_id":"t9","sources":[{"title":"B","url":"https://b"}]}`))
	snap = tr.Snapshot()
	require.Equal(t, []string{"single"}, snap.SubTaskOrder)
	require.Equal(t, "B", snap.SubTasks["single"].Sources[0].Title)
}

func TestCostAndBudgetLatestWins(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypeCostEstimate, `{"estimated_cost_usd":1.0,"complexity_tier":"low"}`))
	tr.Apply(rec(t, event.TypeCostEstimate, `{"estimated_cost_usd":3.5,"complexity_tier":"high"}`))
	tr.Apply(rec(t, event.TypeBudgetConfirmation, `{"confirmation_id":"c1","estimated_cost_usd":3.5,"threshold_usd":2.0,"message":"confirm"}`))

	snap := tr.Snapshot()
	require.Equal(t, 3.5, snap.Cost.EstimatedCostUSD)
	require.Equal(t, "high", snap.Cost.ComplexityTier)
	require.Equal(t, "c1", snap.Budget.ConfirmationID)
}

func TestErrorsAccumulateWithoutDedup(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 2; i++ {
		tr.Apply(rec(t, event.TypeError, `{"type":"phase_error","code":"x","message":"boom","recoverable":true}`))
	}
	require.Len(t, tr.Snapshot().Errors, 2)
}

func TestResetClearsEverything(t *testing.T) {
	tr := NewTracker()
	tr.Apply(rec(t, event.TypePhaseStart, `{"phase":"inference","phase_number":4,"phase_name":"Parallel Inference"}`))
	tr.Apply(rec(t, event.TypeModelActive, `{"phase":"inference","model_id":"m","sample_index":0}`))
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sources":[{"title":"A","url":"https://a"}]}`))
	tr.Apply(rec(t, event.TypeCostEstimate, `{"estimated_cost_usd":1.0}`))
	tr.Apply(rec(t, event.TypeError, `{"code":"x","message":"boom","recoverable":true}`))

	tr.Reset()
	snap := tr.Snapshot()
	for _, p := range snap.Phases {
		require.Equal(t, StatusPending, p.Status)
	}
	require.Empty(t, snap.Models)
	require.Empty(t, snap.Discovery.Sources)
	require.Empty(t, snap.SubTasks)
	require.Nil(t, snap.Cost)
	require.Nil(t, snap.Budget)
	require.Empty(t, snap.Errors)

	// A scope captured before the reset captures again afterwards.
	tr.Apply(rec(t, event.TypeWebSearch, `{"action":"completed","sources":[{"title":"B","url":"https://b"}]}`))
	require.Equal(t, "B", tr.Snapshot().Discovery.Sources[0].Title)
}

func TestUndecodableAndUnknownRecordsAreNoops(t *testing.T) {
	tr := NewTracker()
	tr.Apply(event.Record{Type: event.TypePhaseStart, Data: json.RawMessage(`"not an object"`)})
	tr.Apply(event.Record{Type: event.TypeMessageDelta, Data: json.RawMessage(`{}`)})
	tr.Apply(event.Record{Type: event.Type("mystery"), Data: json.RawMessage(`{}`)})
	snap := tr.Snapshot()
	for _, p := range snap.Phases {
		require.Equal(t, StatusPending, p.Status)
	}
}

// sampleRecords is a pool of telemetry records with interdependent effects,
// used by the replay-determinism property.
func sampleRecords() []event.Record {
	return []event.Record{
		rec(nil, event.TypePhaseStart, `{"phase":"safety","phase_number":0,"phase_name":"Safety Check"}`),
		rec(nil, event.TypePhaseComplete, `{"phase":"safety","phase_number":0,"duration_ms":12,"success":true}`),
		rec(nil, event.TypePhaseProgress, `{"phase":"pre_analysis","step":"extraction","step_name":"Extraction","status":"running","progress_percent":50,"details":{"urls":3}}`),
		rec(nil, event.TypeWebSearch, `{"action":"completed","sources":[{"title":"A","url":"https://a"}]}`),
		rec(nil, event.TypeWebSearch, `{"action":"completed","sources":[{"title":"B","url":"https://b"}]}`),
		rec(nil, event.TypePhaseStart, `{"phase":"inference","phase_number":4,"phase_name":"Parallel Inference"}`),
		rec(nil, event.TypeModelActive, `{"phase":"inference","model_id":"m","provider":"openai","sample_index":0,"wave_number":1}`),
		rec(nil, event.TypeModelActive, `{"phase":"inference","model_id":"m","provider":"openai","sample_index":1,"wave_number":1}`),
		rec(nil, event.TypeModelComplete, `{"phase":"inference","model_id":"m","sample_index":1,"status":"success","tokens_used":9,"duration_ms":40}`),
		rec(nil, event.TypeCostEstimate, `{"estimated_cost_usd":2.0,"complexity_tier":"medium"}`),
		rec(nil, event.TypeError, `{"code":"slow","message":"degraded","recoverable":true}`),
		rec(nil, event.TypePhaseComplete, `{"phase":"selection","phase_number":5,"duration_ms":3,"success":true}`),
	}
}

// TestReplayDeterminism verifies that folding any subsequence of records
// "live" produces the same state as folding the identical sequence from a
// cold backlog: final state is a function of record order alone.
func TestReplayDeterminism(t *testing.T) {
	pool := sampleRecords()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("fold order alone determines state", prop.ForAll(
		func(picks []int) bool {
			var seq []event.Record
			for _, i := range picks {
				seq = append(seq, pool[i%len(pool)])
			}
			live := NewTracker()
			for _, r := range seq {
				live.Apply(r)
			}
			replayed := NewTracker()
			backlog := append([]event.Record{}, seq...)
			for _, r := range backlog {
				replayed.Apply(r)
			}
			a, _ := json.Marshal(live.Snapshot())
			b, _ := json.Marshal(replayed.Snapshot())
			return string(a) == string(b)
		},
		gen.SliceOf(gen.IntRange(0, len(sampleRecords())-1)),
	))

	properties.TestingRun(t)
}

func TestBacklogReplayMatchesLiveScenario(t *testing.T) {
	seq := sampleRecords()
	live := NewTracker()
	for _, r := range seq {
		live.Apply(r)
	}
	cold := NewTracker()
	for _, r := range seq {
		cold.Apply(r)
	}
	require.Equal(t, live.Snapshot(), cold.Snapshot())

	snap := live.Snapshot()
	require.Equal(t, StatusCompleted, phaseByID(t, snap, PhaseSafety).Status)
	require.Equal(t, StatusRunning, phaseByID(t, snap, PhaseInference).Status)
	require.Equal(t, "A", snap.Discovery.Sources[0].Title)
	require.Len(t, snap.Models, 2)
	require.Equal(t, StatusCompleted, snap.Models[1].Status)
	require.Len(t, snap.Errors, 1)
}
