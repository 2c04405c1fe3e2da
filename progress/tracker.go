package progress

import (
	"maps"
	"strconv"

	"github.com/odai-labs/bridge/event"
)

type (
	// Tracker folds telemetry records into pipeline state. It is a
	// single-writer structure: one goroutine feeds Apply and reads Snapshot
	// in between, so no locking is needed. Replaying a buffered backlog
	// through Apply yields the same state as live delivery of the same
	// records in the same order.
	Tracker struct {
		phases []Phase
		models []ModelRun

		discovery     WebCapture
		discoveryDone bool
		subtasks      map[string]*WebCapture
		subtaskOrder  []string
		subtaskDone   map[string]bool

		cost   *event.CostEstimate
		budget *event.BudgetConfirmation
		errs   []event.StreamError

		executionMode string
		subTaskCount  int
	}

	// Snapshot is a self-contained copy of the tracker state, safe to hand
	// to rendering code while the tracker keeps folding.
	Snapshot struct {
		Phases []Phase
		Models []ModelRun
		// Discovery holds the pre-analysis web capture.
		Discovery WebCapture
		// SubTasks holds per-sub-task web captures from the inference phase,
		// keyed as "<index>-<id>" ("single" when the work was not decomposed),
		// in first-seen order.
		SubTasks     map[string]WebCapture
		SubTaskOrder []string

		Cost   *event.CostEstimate
		Budget *event.BudgetConfirmation
		Errors []event.StreamError

		// ExecutionMode and SubTaskCount are extracted from the compute
		// allocation phase summary when present.
		ExecutionMode string
		SubTaskCount  int
	}
)

// NewTracker returns a tracker with all phases pending.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset reinitializes the turn: phases back to pending, model rows, web
// captures, cost and budget singletons and the error log cleared. This is
// the only transition that moves state backward; it runs when a new user
// turn begins.
func (t *Tracker) Reset() {
	t.phases = initialPhases()
	t.models = nil
	t.discovery = WebCapture{}
	t.discoveryDone = false
	t.subtasks = make(map[string]*WebCapture)
	t.subtaskOrder = nil
	t.subtaskDone = make(map[string]bool)
	t.cost = nil
	t.budget = nil
	t.errs = nil
	t.executionMode = ""
	t.subTaskCount = 0
}

// Apply folds one telemetry record. Records that fail to decode and records
// outside the telemetry vocabulary are no-ops; Apply never fails.
func (t *Tracker) Apply(rec event.Record) {
	switch rec.Type {
	case event.TypePhaseStart:
		applyDecoded(rec, t.phaseStart)
	case event.TypePhaseProgress:
		applyDecoded(rec, t.phaseProgress)
	case event.TypePhaseComplete:
		applyDecoded(rec, t.phaseComplete)
	case event.TypeModelActive:
		applyDecoded(rec, t.modelActive)
	case event.TypeModelComplete:
		applyDecoded(rec, t.modelComplete)
	case event.TypeWebSearch:
		applyDecoded(rec, t.webSearch)
	case event.TypeWebScrape:
		applyDecoded(rec, t.webScrape)
	case event.TypeCostEstimate:
		applyDecoded(rec, t.costEstimate)
	case event.TypeBudgetConfirmation:
		applyDecoded(rec, t.budgetConfirmation)
	case event.TypeError:
		applyDecoded(rec, t.errorEvent)
	}
}

// applyDecoded decodes the payload and applies fn, dropping the record when
// the payload does not parse.
func applyDecoded[T any](rec event.Record, fn func(T)) {
	var payload T
	if err := rec.Decode(&payload); err != nil {
		return
	}
	fn(payload)
}

// phaseStart moves the named phase to running and repairs ordering: any
// earlier phase still pending is forced to completed at 100%. The vendor
// skips start/complete events for phases that required no work, so a later
// start is also the signal that everything before it is done.
func (t *Tracker) phaseStart(ev event.PhaseStart) {
	idx := t.phaseIndex(ev.Phase)
	if idx < 0 {
		return
	}
	t.forceCompleteBefore(idx)
	p := &t.phases[idx]
	p.Status = StatusRunning
	p.Percent = 0
	p.Step, p.StepName, p.StepStatus = "", "", ""
}

// phaseProgress updates progress and step display fields. A progress record
// for a phase still pending promotes it to running first; the start event may
// have been reordered or dropped.
func (t *Tracker) phaseProgress(ev event.PhaseProgress) {
	idx := t.phaseIndex(ev.Phase)
	if idx < 0 {
		return
	}
	p := &t.phases[idx]
	if p.Status == StatusPending {
		p.Status = StatusRunning
	}
	p.Percent = ev.ProgressPercent
	p.Step = ev.Step
	p.StepName = ev.StepName
	p.StepStatus = ev.Status
	if ev.Details != nil {
		if p.Details == nil {
			p.Details = make(map[string]any)
		}
		p.Details[ev.Step] = ev.Details
	}
}

// phaseComplete finalizes the phase and applies the same ordering repair as
// phaseStart. The compute allocation summary additionally carries the
// decomposition decision, which later web captures group by.
func (t *Tracker) phaseComplete(ev event.PhaseComplete) {
	idx := t.phaseIndex(ev.Phase)
	if idx < 0 {
		return
	}
	t.forceCompleteBefore(idx)
	p := &t.phases[idx]
	if ev.Success {
		p.Status = StatusCompleted
	} else {
		p.Status = StatusFailed
	}
	p.Percent = 100
	p.DurationMS = ev.DurationMS
	p.Summary = ev.Summary
	p.Step, p.StepName, p.StepStatus = "", "", ""
	if ev.Phase == PhaseBudgetAllocation {
		t.recordAllocation(ev.Summary)
	}
}

func (t *Tracker) modelActive(ev event.ModelActive) {
	t.models = append(t.models, ModelRun{
		ModelID:     ev.ModelID,
		Provider:    ev.Provider,
		SampleIndex: ev.SampleIndex,
		WaveNumber:  ev.WaveNumber,
		Status:      StatusRunning,
	})
}

// modelComplete updates the row matching (ModelID, SampleIndex) in place. A
// miss is silent: the row may have been cleared by a reset racing a late
// completion.
func (t *Tracker) modelComplete(ev event.ModelComplete) {
	for i := range t.models {
		m := &t.models[i]
		if m.ModelID != ev.ModelID || m.SampleIndex != ev.SampleIndex {
			continue
		}
		if ev.Status == "success" {
			m.Status = StatusCompleted
		} else {
			m.Status = StatusFailed
		}
		m.TokensUsed = ev.TokensUsed
		m.ThinkingTokens = ev.ThinkingTokens
		m.DurationMS = ev.DurationMS
		m.ErrorMessage = ev.ErrorMessage
		return
	}
}

// webSearch captures completed search results into the record's scope unless
// the scope has already captured; the vendor reissues completed events and
// only the first is retained.
func (t *Tracker) webSearch(ev event.WebSearch) {
	if ev.Action != event.ActionCompleted || len(ev.Sources) == 0 {
		return
	}
	if key, ok := t.subtaskScope(ev.SubTaskIndex, ev.SubTaskID); ok {
		if t.subtaskDone[key] {
			return
		}
		t.subtaskDone[key] = true
		t.subtaskCapture(key).Sources = ev.Sources
		return
	}
	if t.discoveryDone {
		return
	}
	t.discoveryDone = true
	t.discovery.Sources = ev.Sources
}

func (t *Tracker) webScrape(ev event.WebScrape) {
	if ev.Action != event.ActionCompleted || len(ev.Sources) == 0 {
		return
	}
	scraped := make([]ScrapedSource, len(ev.Sources))
	for i, src := range ev.Sources {
		scraped[i] = ScrapedSource{WebSource: src, SubLinks: ev.SubLinksScraped}
	}
	if key, ok := t.subtaskScope(ev.SubTaskIndex, ev.SubTaskID); ok {
		if t.subtaskDone[key] {
			return
		}
		t.subtaskDone[key] = true
		t.subtaskCapture(key).Scraped = scraped
		return
	}
	if t.discoveryDone {
		return
	}
	t.discoveryDone = true
	t.discovery.Scraped = scraped
}

func (t *Tracker) costEstimate(ev event.CostEstimate) {
	t.cost = &ev
}

func (t *Tracker) budgetConfirmation(ev event.BudgetConfirmation) {
	t.budget = &ev
}

// errorEvent appends to the error log. Errors are not deduplicated and never
// halt folding.
func (t *Tracker) errorEvent(ev event.StreamError) {
	t.errs = append(t.errs, ev)
}

// Snapshot returns a copy of the current state that stays valid while the
// tracker keeps folding.
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{
		Phases:        make([]Phase, len(t.phases)),
		Models:        append([]ModelRun{}, t.models...),
		Discovery:     t.discovery.clone(),
		SubTasks:      make(map[string]WebCapture, len(t.subtasks)),
		SubTaskOrder:  append([]string{}, t.subtaskOrder...),
		Errors:        append([]event.StreamError{}, t.errs...),
		ExecutionMode: t.executionMode,
		SubTaskCount:  t.subTaskCount,
	}
	for i, p := range t.phases {
		p.Details = maps.Clone(p.Details)
		p.Summary = maps.Clone(p.Summary)
		snap.Phases[i] = p
	}
	for key, capture := range t.subtasks {
		snap.SubTasks[key] = capture.clone()
	}
	if t.cost != nil {
		cost := *t.cost
		snap.Cost = &cost
	}
	if t.budget != nil {
		budget := *t.budget
		snap.Budget = &budget
	}
	return snap
}

// forceCompleteBefore completes every phase below idx that is still pending.
func (t *Tracker) forceCompleteBefore(idx int) {
	for i := 0; i < idx; i++ {
		if t.phases[i].Status == StatusPending {
			t.phases[i].Status = StatusCompleted
			t.phases[i].Percent = 100
		}
	}
}

func (t *Tracker) phaseIndex(id string) int {
	for i := range t.phases {
		if t.phases[i].ID == id {
			return i
		}
	}
	return -1
}

// subtaskScope derives the capture scope for a web record. Only a sub-task
// index gives a record sub-task identity; a bare sub-task id does not.
// Index-less records arriving while inference runs collapse into the single
// scope, and everything else is the discovery capture from pre-analysis.
func (t *Tracker) subtaskScope(index *int, id string) (string, bool) {
	if index != nil {
		key := id
		if key == "" {
			key = "unknown"
		}
		return strconv.Itoa(*index) + "-" + key, true
	}
	if inference := t.phases[t.phaseIndex(PhaseInference)]; inference.Status == StatusRunning {
		return "single", true
	}
	return "", false
}

func (t *Tracker) subtaskCapture(key string) *WebCapture {
	capture, ok := t.subtasks[key]
	if !ok {
		capture = &WebCapture{}
		t.subtasks[key] = capture
		t.subtaskOrder = append(t.subtaskOrder, key)
	}
	return capture
}

// recordAllocation pulls the decomposition decision out of the compute
// allocation summary. Field locations moved across vendor releases, so both
// the nested and the flat spellings are accepted.
func (t *Tracker) recordAllocation(summary map[string]any) {
	if summary == nil {
		return
	}
	decomposition, _ := summary["decomposition"].(map[string]any)
	if mode := stringField(decomposition, "execution_mode"); mode != "" {
		t.executionMode = mode
	} else if mode := stringField(summary, "execution_mode"); mode != "" {
		t.executionMode = mode
	}
	if n, ok := numberField(decomposition, "sub_task_count"); ok {
		t.subTaskCount = n
	} else if n, ok := numberField(decomposition, "subtasks"); ok {
		t.subTaskCount = n
	}
}

func (c WebCapture) clone() WebCapture {
	return WebCapture{
		Sources: append([]event.WebSource{}, c.Sources...),
		Scraped: append([]ScrapedSource{}, c.Scraped...),
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	f, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
