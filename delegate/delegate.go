// Package delegate implements the Delegation Tool (component C8): a
// specialized tool, delegateToSpecialistAgent, that spawns an isolated
// sub-run of the Agent Run Engine against a single specialist toolset and
// folds its final answer back into the parent conversation as a tool
// result. The sub-run's thread, message store, and tool provider are never
// shared with the parent (spec Invariant 6: "sub-thread messages are NEVER
// merged into the parent thread").
package delegate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ulifeai/agentb/ctxmgr"
	"github.com/ulifeai/agentb/engine"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/ids"
	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/store"
	"github.com/ulifeai/agentb/store/inmem"
	"github.com/ulifeai/agentb/telemetry"
	"github.com/ulifeai/agentb/toolexec"
	"github.com/ulifeai/agentb/tools"
)

// ToolName is the fixed name of the delegation tool, matched against the
// enum of available specialist ids at call time.
const ToolName = "delegateToSpecialistAgent"

// Specialist pairs a toolset with the provider that serves it.
type Specialist struct {
	Toolset  model.Toolset
	Provider tools.Provider
}

// Registry resolves a specialistId to its Specialist.
type Registry interface {
	Lookup(specialistID string) (Specialist, bool)
	IDs() []string
}

// staticRegistry is the simplest Registry: a fixed map built once at
// construction time.
type staticRegistry struct {
	byID map[string]Specialist
	ids  []string
}

// NewRegistry builds a Registry from a fixed list of specialists.
func NewRegistry(specialists []Specialist) Registry {
	r := &staticRegistry{byID: make(map[string]Specialist, len(specialists))}
	for _, s := range specialists {
		r.byID[s.Toolset.ID] = s
		r.ids = append(r.ids, s.Toolset.ID)
	}
	return r
}

func (r *staticRegistry) Lookup(id string) (Specialist, bool) { s, ok := r.byID[id]; return s, ok }
func (r *staticRegistry) IDs() []string                       { return r.ids }

// Deps bundles the collaborators needed to spin up a sub-run.
type Deps struct {
	LLMClient    llm.Client
	Registry     Registry
	ParentConfig model.RunConfig
	Bus          hooks.Bus // the PARENT bus; sub-run events are forwarded here
	Logger       telemetry.Logger
}

// NewTool builds the delegateToSpecialistAgent tool. Sub-run events are
// forwarded to deps.Bus unchanged, under the sub-run's own RunID/ThreadID;
// the incoming execCtx.StepID appears only as ParentToolCallID on the
// SubAgentInvocationStarted/Completed events, and forwarded events carry no
// parent step id.
func NewTool(deps Deps) model.Tool {
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}

	return model.Tool{
		Definition: model.ToolDefinition{
			Name:        ToolName,
			Description: "Delegate a sub-task to a specialist agent restricted to one toolset.",
			Parameters: []model.ToolParameter{
				{Name: "specialistId", PrimitiveType: "string", Required: true,
					Schema: map[string]any{"type": "string", "enum": deps.Registry.IDs()}},
				{Name: "subTaskDescription", PrimitiveType: "string", Required: true},
				{Name: "requiredOutputFormat", PrimitiveType: "string", Required: false},
			},
		},
		Execute: func(ctx context.Context, execCtx model.ToolExecContext, input map[string]any) (model.ToolResult, error) {
			specialistID, _ := input["specialistId"].(string)
			subTask, _ := input["subTaskDescription"].(string)
			format, _ := input["requiredOutputFormat"].(string)

			specialist, ok := deps.Registry.Lookup(specialistID)
			if !ok {
				return model.ToolResult{Success: false, Error: fmt.Sprintf("unknown specialistId %q", specialistID)}, nil
			}

			return runSubAgent(ctx, deps, execCtx, specialist, subTask, format)
		},
	}
}

func runSubAgent(ctx context.Context, deps Deps, parentExecCtx model.ToolExecContext, specialist Specialist, subTask, format string) (model.ToolResult, error) {
	subRunID := ids.Run()
	subThreadID := ids.Thread()

	subMessages := inmem.NewMessageStore()
	subRuns := inmem.NewRunStore()

	systemPrompt := buildSubAgentSystemPrompt(specialist.Toolset, format)

	subConfig := deps.ParentConfig
	subConfig.SystemPrompt = systemPrompt
	subConfig.MaxToolCallContinuations -= 2
	if subConfig.MaxToolCallContinuations < 1 {
		subConfig.MaxToolCallContinuations = 1
	}
	subConfig = subConfig.WithDefaults()

	subExecutor := toolexec.New(specialist.Provider, toolexec.WithLogger(deps.Logger))
	subCtxManager := ctxmgr.New(deps.LLMClient, nil)

	forwardingBus := &parentStepForwardingBus{parent: deps.Bus, parentStepID: parentExecCtx.StepID}

	e := engine.New(engine.Deps{
		LLMClient:      deps.LLMClient,
		Provider:       specialist.Provider,
		Executor:       subExecutor,
		ContextManager: subCtxManager,
		Messages:       subMessages,
		Runs:           subRuns,
		Bus:            forwardingBus,
		Logger:         deps.Logger,
	})

	subRun := model.AgentRun{
		ID:        subRunID,
		ThreadID:  subThreadID,
		AgentType: "specialist:" + specialist.Toolset.ID,
		Status:    model.RunStatusInProgress,
		Config:    subConfig,
	}
	if _, err := subRuns.Create(ctx, subRun); err != nil {
		return model.ToolResult{Success: false, Error: err.Error()}, nil
	}

	userMsg := model.Message{ThreadID: subThreadID, Role: model.RoleUser, Content: model.NewTextContent(subTask)}
	persistedUserMsg, err := subMessages.Add(ctx, userMsg)
	if err != nil {
		return model.ToolResult{Success: false, Error: err.Error()}, nil
	}

	publishParent(deps.Bus, subRun, hooks.TypeSubAgentInvocationStarted, hooks.SubAgentInvocationData{
		ParentToolCallID: parentExecCtx.StepID,
		SpecialistID:     specialist.Toolset.ID,
		SubRunID:         subRunID,
	})

	// cancel is nil: the sub-run has no CancelFlag of its own, but it still
	// aborts promptly when the parent run is cancelled, since ctx here is the
	// parent tool call's ctx (ultimately derived from the parent Engine.Run's
	// withCancellation) and Run below re-derives from whatever ctx it's given.
	thread := model.Thread{ID: subThreadID}
	e.Run(ctx, subRun, thread, []model.Message{persistedUserMsg}, nil)

	finalRun, err := subRuns.Get(ctx, subRunID)
	if err != nil {
		return model.ToolResult{Success: false, Error: err.Error()}, nil
	}

	finalText := lastAssistantText(ctx, subMessages, subThreadID)
	success := finalRun.Status == model.RunStatusCompleted

	var resultErr string
	if finalRun.LastError != nil {
		resultErr = finalRun.LastError.Message
	}

	publishParent(deps.Bus, subRun, hooks.TypeSubAgentInvocationCompleted, hooks.SubAgentInvocationData{
		ParentToolCallID: parentExecCtx.StepID,
		SpecialistID:     specialist.Toolset.ID,
		SubRunID:         subRunID,
		Success:          success,
		Result:           finalText,
	})

	return model.ToolResult{
		Success: success,
		Data:    finalText,
		Error:   resultErr,
		Attributes: map[string]any{
			"sub_run_id":    subRunID,
			"specialist_id": specialist.Toolset.ID,
		},
	}, nil
}

func buildSubAgentSystemPrompt(ts model.Toolset, format string) string {
	var b strings.Builder
	b.WriteString("You are a specialist agent restricted to the \"")
	b.WriteString(ts.Name)
	b.WriteString("\" toolset. ")
	b.WriteString(ts.Description)
	if format != "" {
		b.WriteString(" Respond using the following output format: ")
		b.WriteString(format)
	}
	return b.String()
}

func lastAssistantText(ctx context.Context, messages store.MessageStore, threadID string) string {
	msgs, err := messages.Get(ctx, threadID, store.MessageQuery{Order: store.OrderDesc, Limit: 1})
	if err != nil || len(msgs) == 0 {
		return ""
	}
	for _, m := range msgs {
		if m.Role == model.RoleAssistant {
			return m.Content.String()
		}
	}
	return ""
}

// parentStepForwardingBus forwards every sub-run event to the parent bus as
// is; parentStepID is recorded but not written onto forwarded envelopes.
type parentStepForwardingBus struct {
	parent       hooks.Bus
	parentStepID string
}

func (b *parentStepForwardingBus) Publish(ctx context.Context, env hooks.Envelope) error {
	if b.parent == nil {
		return nil
	}
	return b.parent.Publish(ctx, env)
}

func (b *parentStepForwardingBus) Register(sub hooks.Subscriber) (hooks.Subscription, error) {
	if b.parent == nil {
		return nil, fmt.Errorf("delegate: no parent bus configured")
	}
	return b.parent.Register(sub)
}

func publishParent(bus hooks.Bus, run model.AgentRun, t hooks.EventType, data any) {
	if bus == nil {
		return
	}
	_ = bus.Publish(context.Background(), hooks.Envelope{Type: t, RunID: run.ID, ThreadID: run.ThreadID, Data: data})
}
