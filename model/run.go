package model

import "time"

// RunStatus enumerates the states of the run state machine (spec §3, §4.7).
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
)

// IsTerminal reports whether the status is one the engine will not transition
// out of on its own (completed/failed/cancelled/expired).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	default:
		return false
	}
}

// ToolChoice controls how the model is permitted/required to use tools.
// Exactly one of Mode ("auto"|"none"|"required") or Name should drive
// behavior; when Name is set the mode is implicitly "named tool".
type ToolChoice struct {
	Mode string `json:"mode,omitempty"`
	Name string `json:"name,omitempty"`
}

var (
	ToolChoiceAuto     = ToolChoice{Mode: "auto"}
	ToolChoiceNone     = ToolChoice{Mode: "none"}
	ToolChoiceRequired = ToolChoice{Mode: "required"}
)

// ResponseProcessorConfig controls how the Response Parser demultiplexes a
// stream (spec §4.4).
type ResponseProcessorConfig struct {
	EnableNativeToolCalling bool `json:"enable_native_tool_calling"`
	EnableXMLToolCalling    bool `json:"enable_xml_tool_calling"`
	MaxXMLToolCalls         int  `json:"max_xml_tool_calls"`
}

// ExecutionStrategy selects how the Tool Executor runs a batch of tool
// calls (spec §4.5).
type ExecutionStrategy string

const (
	ExecutionSequential ExecutionStrategy = "sequential"
	ExecutionParallel   ExecutionStrategy = "parallel"
)

// ToolExecutorConfig configures the Tool Executor.
type ToolExecutorConfig struct {
	ExecutionStrategy ExecutionStrategy `json:"execution_strategy"`
	// MaxConcurrency bounds parallel tool execution (default 4, spec §4.5).
	MaxConcurrency int `json:"max_concurrency,omitempty"`
}

// ContextManagerConfig configures the Context Manager (spec §4.6).
type ContextManagerConfig struct {
	MaxInputTokens int `json:"max_input_tokens"`
	// TargetAfterTruncation, when positive and below MaxInputTokens, is the
	// token count the drop-oldest loop truncates down to instead of
	// MaxInputTokens itself, leaving headroom so the very next turn doesn't
	// immediately re-trigger truncation. MaxInputTokens remains the hard
	// ceiling a run still fails on if summarization and truncation both
	// can't bring the assembled context under it.
	TargetAfterTruncation int     `json:"target_after_truncation"`
	SummaryTriggerRatio   float64 `json:"summary_trigger_ratio"`
	PreserveSystem        bool    `json:"preserve_system"`
	PreserveLastN         int     `json:"preserve_last_n"`
}

// RunConfig bundles the options recognized by a run (spec §3).
type RunConfig struct {
	Model                    string                  `json:"model"`
	Temperature              float64                 `json:"temperature"`
	MaxTokens                int                     `json:"max_tokens,omitempty"`
	SystemPrompt             string                  `json:"system_prompt,omitempty"`
	ToolChoice               ToolChoice              `json:"tool_choice"`
	MaxToolCallContinuations int                     `json:"max_tool_call_continuations"`
	ResponseProcessor        ResponseProcessorConfig `json:"response_processor"`
	ToolExecutor             ToolExecutorConfig      `json:"tool_executor"`
	ContextManager           ContextManagerConfig    `json:"context_manager"`
	RequestAuthOverrides     map[string]AuthSpec     `json:"request_auth_overrides,omitempty"`
	EnableContextManagement  bool                    `json:"enable_context_management"`
}

// WithDefaults returns a copy of cfg with every unset-but-defaulted field
// filled in, per spec §3's RunConfig field list.
func (cfg RunConfig) WithDefaults() RunConfig {
	out := cfg
	if out.Temperature == 0 {
		out.Temperature = 0.7
	}
	if out.ToolChoice == (ToolChoice{}) {
		out.ToolChoice = ToolChoiceAuto
	}
	if out.MaxToolCallContinuations == 0 {
		out.MaxToolCallContinuations = 10
	}
	if out.ToolExecutor.ExecutionStrategy == "" {
		out.ToolExecutor.ExecutionStrategy = ExecutionSequential
	}
	if out.ToolExecutor.MaxConcurrency == 0 {
		out.ToolExecutor.MaxConcurrency = 4
	}
	if out.ContextManager.SummaryTriggerRatio == 0 {
		out.ContextManager.SummaryTriggerRatio = 0.85
	}
	if out.ContextManager.PreserveLastN == 0 {
		out.ContextManager.PreserveLastN = 6
	}
	out.ContextManager.PreserveSystem = true
	return out
}

// LastError is the stable, serializable failure record written to a run on
// any terminal failure (spec §7).
type LastError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AgentRun is the persistent record of one run's lifecycle.
type AgentRun struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	AgentType   string     `json:"agent_type,omitempty"`
	Status      RunStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastError   *LastError `json:"last_error,omitempty"`
	Config      RunConfig  `json:"config"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}
