package event

import "encoding/json"

type (
	// PhaseStart is the payload of phase.start events.
	PhaseStart struct {
		// Phase is the stable phase identifier (e.g., "safety", "inference").
		Phase string `json:"phase"`
		// PhaseNumber is the zero-based index of the phase in execution order.
		PhaseNumber int `json:"phase_number"`
		// PhaseName is the vendor's display name for the phase.
		PhaseName string `json:"phase_name"`
		// Description optionally explains what the phase does.
		Description string `json:"description,omitempty"`
		// Timestamp is the vendor-side emission time (RFC 3339).
		Timestamp string `json:"timestamp"`
	}

	// PhaseProgress is the payload of phase.progress events. Progress is
	// scoped to a named step within the phase; details are free-form and
	// step-specific.
	PhaseProgress struct {
		Phase           string         `json:"phase"`
		Step            string         `json:"step"`
		StepName        string         `json:"step_name"`
		Status          string         `json:"status"`
		ProgressPercent float64        `json:"progress_percent,omitempty"`
		Details         map[string]any `json:"details,omitempty"`
		Timestamp       string         `json:"timestamp"`
	}

	// PhaseComplete is the payload of phase.complete events.
	PhaseComplete struct {
		Phase       string         `json:"phase"`
		PhaseNumber int            `json:"phase_number"`
		DurationMS  int64          `json:"duration_ms"`
		Success     bool           `json:"success"`
		Summary     map[string]any `json:"summary,omitempty"`
		Timestamp   string         `json:"timestamp"`
	}

	// ModelActive is the payload of model.active events: one sampled call to
	// an underlying model during the inference phase. (ModelID, SampleIndex)
	// is the identity; ModelID alone is not unique because the pipeline runs
	// several samples of the same model concurrently.
	ModelActive struct {
		Phase        string  `json:"phase"`
		ModelID      string  `json:"model_id"`
		Provider     string  `json:"provider"`
		Role         string  `json:"role,omitempty"`
		SampleIndex  int     `json:"sample_index"`
		TotalSamples int     `json:"total_samples,omitempty"`
		WaveNumber   int     `json:"wave_number,omitempty"`
		Temperature  float64 `json:"temperature,omitempty"`
		Timestamp    string  `json:"timestamp"`
	}

	// ModelComplete is the payload of model.complete events. Status is one of
	// "success", "failed" or "timeout".
	ModelComplete struct {
		Phase          string `json:"phase"`
		ModelID        string `json:"model_id"`
		Provider       string `json:"provider"`
		SampleIndex    int    `json:"sample_index"`
		Status         string `json:"status"`
		TokensUsed     int    `json:"tokens_used,omitempty"`
		ThinkingTokens int    `json:"thinking_tokens,omitempty"`
		DurationMS     int64  `json:"duration_ms"`
		ErrorMessage   string `json:"error_message,omitempty"`
		Timestamp      string `json:"timestamp"`
	}

	// WebSource is one search or scrape result reference.
	WebSource struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}

	// WebSearch is the payload of web.search events. Only records with
	// Action "completed" carry sources worth retaining; "executing" records
	// are progress noise. SubTaskIndex/SubTaskID scope the search to one
	// decomposed sub-task during inference and are absent for the discovery
	// search in pre-analysis.
	WebSearch struct {
		Action       string      `json:"action"`
		Categories   []string    `json:"categories,omitempty"`
		QueryCount   int         `json:"query_count,omitempty"`
		ResultsFound int         `json:"results_found,omitempty"`
		SourcesCount int         `json:"sources_count,omitempty"`
		Sources      []WebSource `json:"sources,omitempty"`
		ResultURLs   []string    `json:"result_urls,omitempty"`
		SubTaskIndex *int        `json:"sub_task_index,omitempty"`
		SubTaskID    string      `json:"sub_task_id,omitempty"`
		Timestamp    string      `json:"timestamp"`
	}

	// WebScrape is the payload of web.scrape events. Same action and scoping
	// semantics as WebSearch.
	WebScrape struct {
		Action          string      `json:"action"`
		Sources         []WebSource `json:"sources,omitempty"`
		URLsScraped     []string    `json:"urls_scraped,omitempty"`
		SubLinksScraped int         `json:"sub_links_scraped,omitempty"`
		SubTaskIndex    *int        `json:"sub_task_index,omitempty"`
		SubTaskID       string      `json:"sub_task_id,omitempty"`
		Timestamp       string      `json:"timestamp"`
	}

	// CostEstimate is the payload of cost.estimate events. At most one
	// estimate is current per turn; later estimates supersede earlier ones.
	CostEstimate struct {
		EstimatedCostUSD     float64 `json:"estimated_cost_usd"`
		EstimatedTokens      int     `json:"estimated_tokens"`
		ComplexityTier       string  `json:"complexity_tier"`
		ModelCount           int     `json:"model_count"`
		SampleCount          int     `json:"sample_count"`
		ReasoningBudget      int     `json:"reasoning_budget"`
		RequiresConfirmation bool    `json:"requires_confirmation"`
		Timestamp            string  `json:"timestamp"`
	}

	// BudgetOption is one choice offered by a budget confirmation request.
	BudgetOption struct {
		Action              string  `json:"action"`
		Label               string  `json:"label"`
		Description         string  `json:"description"`
		NewBudgetPercentage float64 `json:"new_budget_percentage,omitempty"`
		NewEstimatedCostUSD float64 `json:"new_estimated_cost_usd,omitempty"`
	}

	// BudgetConfirmation is the payload of budget.confirmation_required
	// events. The pipeline pauses until the client answers via the budget
	// confirmation endpoint or TimeoutSeconds elapses.
	BudgetConfirmation struct {
		EstimatedCostUSD float64        `json:"estimated_cost_usd"`
		ThresholdUSD     float64        `json:"threshold_usd"`
		TimeoutSeconds   int            `json:"timeout_seconds"`
		ConfirmationID   string         `json:"confirmation_id"`
		Options          []BudgetOption `json:"options,omitempty"`
		Message          string         `json:"message"`
		Timestamp        string         `json:"timestamp"`
	}

	// StreamError is the payload of error events. Recoverable errors are
	// surfaced to the client but do not terminate the pipeline; fatal errors
	// end the text stream.
	StreamError struct {
		Type         string `json:"type"`
		Phase        string `json:"phase,omitempty"`
		Code         string `json:"code"`
		Message      string `json:"message"`
		Recoverable  bool   `json:"recoverable"`
		FallbackUsed bool   `json:"fallback_used,omitempty"`
		Timestamp    string `json:"timestamp"`
	}

	// MessageDelta is the payload of message.delta events. The shape follows
	// the vendor's OpenAI-style completion chunks.
	MessageDelta struct {
		ID      string        `json:"id"`
		Object  string        `json:"object"`
		Created int64         `json:"created"`
		Model   string        `json:"model"`
		Choices []DeltaChoice `json:"choices"`
	}

	// DeltaChoice is one choice entry within a message.delta chunk.
	DeltaChoice struct {
		Index        int             `json:"index"`
		Delta        DeltaContent    `json:"delta"`
		FinishReason json.RawMessage `json:"finish_reason"`
	}

	// DeltaContent holds the incremental content of a delta choice.
	DeltaContent struct {
		Content string `json:"content,omitempty"`
		Role    string `json:"role,omitempty"`
	}

	// MessageComplete is the payload of message.complete events. Usage is
	// optional on the wire; UsageUSD is the vendor's cost attribution.
	MessageComplete struct {
		ID       string    `json:"id"`
		Object   string    `json:"object"`
		Created  int64     `json:"created"`
		Model    string    `json:"model"`
		Usage    *Usage    `json:"usage,omitempty"`
		UsageUSD *UsageUSD `json:"usage_usd,omitempty"`
	}

	// Usage reports token counts for one completion.
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
		ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
	}

	// UsageUSD reports dollar cost attribution for one completion.
	UsageUSD struct {
		PromptCostUSD     float64 `json:"prompt_cost_usd"`
		CompletionCostUSD float64 `json:"completion_cost_usd"`
		ReasoningCostUSD  float64 `json:"reasoning_cost_usd"`
		TotalCostUSD      float64 `json:"total_cost_usd"`
	}
)

// ActionCompleted is the web.search/web.scrape action value that marks a
// record as carrying final results for its scope.
const ActionCompleted = "completed"
