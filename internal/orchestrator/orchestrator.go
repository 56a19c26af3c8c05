package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/opengoat/opengoat/internal/agent"
	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/events/bus"
	"github.com/opengoat/opengoat/internal/paths"
	"github.com/opengoat/opengoat/internal/provider"
	"github.com/opengoat/opengoat/internal/routing"
	"github.com/opengoat/opengoat/internal/session"
)

// Orchestrator wires the agent registry, provider registry, and session
// engine into the single runAgent operation.
type Orchestrator struct {
	agents    *agent.Registry
	providers *provider.Registry
	sessions  *session.Engine
	layout    *paths.Layout
	fs        paths.Filesystem
	logger    *logger.Logger
	eventBus  bus.EventBus

	slots chan struct{}
}

// New constructs an Orchestrator. eventBus may be nil; hooks are skipped.
func New(agents *agent.Registry, providers *provider.Registry, sessions *session.Engine, layout *paths.Layout, fs paths.Filesystem, log *logger.Logger, eventBus bus.EventBus, maxParallel int) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Orchestrator{
		agents:    agents,
		providers: providers,
		sessions:  sessions,
		layout:    layout,
		fs:        fs,
		logger:    log,
		eventBus:  eventBus,
		slots:     make(chan struct{}, maxParallel),
	}
}

// ActiveCount returns the number of runs currently in flight.
func (o *Orchestrator) ActiveCount() int {
	return len(o.slots)
}

// CanExecute reports whether another run can start immediately without
// blocking on maxParallelFlows.
func (o *Orchestrator) CanExecute() bool {
	return len(o.slots) < cap(o.slots)
}

// acquireSlot blocks until a run slot is free or ctx is cancelled, per
// spec.md §5's back-pressure requirement: a saturated orchestrator queues
// new runs rather than rejecting them.
func (o *Orchestrator) acquireSlot(ctx context.Context) error {
	select {
	case o.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) releaseSlot() {
	<-o.slots
}

// Cancel marks sessionKey's active run as cancelled, observed at the next
// suspension-point boundary in RunAgent.
func (o *Orchestrator) Cancel(sessionKey string) {
	o.sessions.Cancel(sessionKey)
}

// RunAgent implements spec.md §4.4's runAgent operation.
func (o *Orchestrator) RunAgent(ctx context.Context, entryAgentID string, opts RunOptions) (RunResult, error) {
	if err := o.acquireSlot(ctx); err != nil {
		return RunResult{}, err
	}
	defer o.releaseSlot()

	runID := newRunID()
	log := o.logger.WithRunID(runID)

	entry, err := o.resolveEntryAgent(entryAgentID)
	if err != nil {
		return RunResult{}, err
	}

	trace := RunTrace{RunID: runID, EntryAgentID: entry.ID, StartedAt: o.sessions.Now()}
	o.publish(ctx, bus.SubjectRunStarted, runID, map[string]interface{}{"entryAgentId": entry.ID})

	manifests := projectManifests(o.agents.List())
	decision, err := routing.Route(entry.ID, opts.Message, manifests)
	if err != nil {
		return RunResult{}, err
	}
	trace.Routing = &decision

	target, ok := o.agents.Get(decision.TargetAgentID)
	if !ok {
		return RunResult{}, goerrors.NotFound("agent", decision.TargetAgentID)
	}
	trace.TargetAgentID = target.ID

	prepareOpts := session.PrepareOptions{
		SessionRef:         opts.SessionRef,
		SessionKeyOverride: opts.SessionKeyOverride,
		ForceNew:           opts.ForceNewSession,
		Disable:            opts.DisableSession,
		UserMessage:        decision.RewrittenMessage,
		ProjectPath:        opts.Cwd,
		WorkspaceDir:       o.layout.WorkspaceDir(target.ID),
	}
	sessionKey := prepareOpts.SessionKeyOverrideOrDefault(target.ID, opts.SessionRef)
	if o.sessions.IsCancelled(sessionKey) {
		return o.finishCancelled(ctx, trace, entry.ID, target.ID)
	}

	prepared, err := o.sessions.PrepareRunSession(target.ID, runID, prepareOpts)
	if err != nil {
		return RunResult{}, err
	}
	if prepared.Cancelled {
		return o.finishCancelled(ctx, trace, entry.ID, target.ID)
	}
	if prepared.Enabled {
		trace.Session = &prepared.Info
	}

	invokeOpts := o.buildInvocation(target, opts, prepared, decision)

	if o.sessions.IsCancelled(sessionKey) {
		return o.finishCancelled(ctx, trace, entry.ID, target.ID)
	}

	exec, err := o.invokeWithRecovery(ctx, target, invokeOpts)
	if err != nil {
		return RunResult{}, err
	}

	if o.sessions.IsCancelled(sessionKey) {
		return o.finishCancelled(ctx, trace, entry.ID, target.ID)
	}

	replyText := replyText(exec)

	if prepared.Enabled {
		if _, err := o.sessions.RecordAssistantReply(prepared.Info, replyText); err != nil {
			log.Warn("failed to record assistant reply", zap.Error(err))
		}
	}

	trace.ProviderID = target.Provider
	trace.Code = exec.Code
	trace.Stdout = exec.Stdout
	trace.Stderr = exec.Stderr
	trace.StopReason = StopCompleted
	trace.CompletedAt = o.sessions.Now()

	tracePath, err := o.writeTrace(trace)
	if err != nil {
		log.Warn("failed to write run trace", zap.Error(err))
	}

	o.publish(ctx, bus.SubjectRunCompleted, runID, map[string]interface{}{
		"entryAgentId":  entry.ID,
		"targetAgentId": target.ID,
		"code":          exec.Code,
	})

	result := RunResult{
		RunID:         runID,
		Code:          exec.Code,
		Stdout:        exec.Stdout,
		Stderr:        exec.Stderr,
		ProviderID:    target.Provider,
		EntryAgentID:  entry.ID,
		TargetAgentID: target.ID,
		TracePath:     tracePath,
		StopReason:    StopCompleted,
		Routing:       &decision,
	}
	if prepared.Enabled {
		result.Session = &prepared.Info
	}
	return result, nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context, trace RunTrace, entryID, targetID string) (RunResult, error) {
	trace.StopReason = StopCancelled
	trace.CompletedAt = o.sessions.Now()
	tracePath, _ := o.writeTrace(trace)
	o.publish(ctx, bus.SubjectRunCompleted, trace.RunID, map[string]interface{}{
		"entryAgentId":  entryID,
		"targetAgentId": targetID,
		"cancelled":     true,
	})
	return RunResult{
		RunID:         trace.RunID,
		EntryAgentID:  entryID,
		TargetAgentID: targetID,
		TracePath:     tracePath,
		StopReason:    StopCancelled,
	}, nil
}

// resolveEntryAgent implements spec.md §4.4 step 1's fallback chain.
func (o *Orchestrator) resolveEntryAgent(entryAgentID string) (*agent.Manifest, error) {
	if entryAgentID != "" {
		if m, ok := o.agents.Get(entryAgentID); ok {
			return m, nil
		}
	}
	if head, err := o.agents.DefaultHead(); err == nil {
		return head, nil
	}
	all := o.agents.List()
	if len(all) == 0 {
		return nil, goerrors.NotFound("agent", entryAgentID)
	}
	return all[0], nil
}

// buildInvocation implements spec.md §4.4 step 4.
func (o *Orchestrator) buildInvocation(target *agent.Manifest, opts RunOptions, prepared session.PrepareResult, decision routing.Decision) provider.InvokeOptions {
	invoke := provider.InvokeOptions{
		Message:         decision.RewrittenMessage,
		SystemPrompt:    opts.SystemPrompt,
		Model:           opts.Model,
		Env:             opts.Env,
		PassthroughArgs: opts.PassthroughArgs,
		OnStdout:        opts.OnStdout,
		OnStderr:        opts.OnStderr,
	}
	if prepared.Enabled {
		invoke.ProviderSessionID = prepared.Info.SessionID
	}

	switch target.WorkspaceAccess {
	case agent.WorkspaceAccessAgentWorkspace:
		invoke.Cwd = o.layout.WorkspaceDir(target.ID)
	case agent.WorkspaceAccessExternal:
		invoke.Cwd = opts.Cwd
	case agent.WorkspaceAccessProviderDefault:
		// leave Cwd absent
	}

	if prepared.Enabled && prepared.Info.ProjectPath != "" && prepared.Info.ProjectPath != prepared.Info.WorkspaceDir {
		mismatch := fmt.Sprintf(
			"Session project path: %s\nAgent workspace path: %s\nPrefer absolute paths. Do not pollute the agent workspace.",
			prepared.Info.ProjectPath, prepared.Info.WorkspaceDir)
		if invoke.SystemPrompt == "" {
			invoke.SystemPrompt = mismatch
		} else {
			invoke.SystemPrompt = invoke.SystemPrompt + "\n\n" + mismatch
		}
	}

	return invoke
}

// invokeWithRecovery implements spec.md §4.4 step 6: on a not-found failure
// against an external-agent-capable provider, create the external agent and
// retry once.
func (o *Orchestrator) invokeWithRecovery(ctx context.Context, target *agent.Manifest, invoke provider.InvokeOptions) (provider.Execution, error) {
	exec, err := o.providers.Invoke(ctx, target.Provider, invoke)
	if err != nil {
		return provider.Execution{}, err
	}
	if exec.Code == 0 || !looksLikeAgentNotFound(exec) {
		return exec, nil
	}

	meta, metaErr := o.providers.Get(target.Provider)
	if metaErr != nil || !meta.Metadata().Capabilities.AgentCreate {
		return exec, nil
	}

	if _, err := o.providers.CreateExternalAgent(ctx, target.Provider, provider.InvokeOptions{
		Message: target.DisplayName,
		Env:     invoke.Env,
	}); err != nil {
		return exec, nil
	}

	retried, err := o.providers.Invoke(ctx, target.Provider, invoke)
	if err != nil {
		return exec, nil
	}
	return retried, nil
}

func looksLikeAgentNotFound(exec provider.Execution) bool {
	needle := "agent not found"
	return strings.Contains(strings.ToLower(exec.Stdout), needle) || strings.Contains(strings.ToLower(exec.Stderr), needle)
}

// replyText implements spec.md §4.4 step 7.
func replyText(exec provider.Execution) string {
	if strings.TrimSpace(exec.Stdout) != "" {
		return exec.Stdout
	}
	return fmt.Sprintf("[Runtime error code %d] %s", exec.Code, exec.Stderr)
}

func (o *Orchestrator) writeTrace(trace RunTrace) (string, error) {
	return writeRunTrace(o.fs, o.layout, trace)
}

func (o *Orchestrator) publish(ctx context.Context, subject, runID string, data map[string]interface{}) {
	if o.eventBus == nil {
		return
	}
	data["runId"] = runID
	event := bus.NewEvent(subject, "orchestrator", data)
	if err := o.eventBus.Publish(ctx, subject, event); err != nil {
		o.logger.Warn("failed to publish orchestration event", zap.String("subject", subject), zap.Error(err))
	}
}

func projectManifests(manifests []*agent.Manifest) []routing.Manifest {
	out := make([]routing.Manifest, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, routing.Manifest{
			ID:           m.ID,
			DisplayName:  m.DisplayName,
			Description:  m.Description,
			Tags:         m.Tags,
			Priority:     m.Priority,
			Discoverable: m.Discoverable,
			IsHead:       m.IsHead(),
			Body:         m.WorkspaceBody,
		})
	}
	return out
}

func newRunID() string {
	return session.NewID()
}
