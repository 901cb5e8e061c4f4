package hooks

import (
	"context"
	"fmt"
	"strings"

	"maceff.io/macf/cmd/macf/cli/drive"
	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/grant"
	"maceff.io/macf/cmd/macf/cli/logging"
	"maceff.io/macf/cmd/macf/cli/reconcile"
	"maceff.io/macf/cmd/macf/cli/recovery"
	"maceff.io/macf/cmd/macf/cli/search"
	"maceff.io/macf/cmd/macf/cli/search/service"
	"maceff.io/macf/redact"
)

func (r *Runtime) cycle() int {
	return reconcile.Cycle(r.log)
}

func (r *Runtime) openPrompt() string {
	return reconcile.OpenPromptUUID(r.log)
}

// handleSessionStart classifies the start, appends the boundary events and
// returns the restoration payload as a Shape S systemMessage.
func (r *Runtime) handleSessionStart(ctx context.Context, in *Input) (Output, error) {
	r.assembler.Invalidate()

	res, err := r.detector(ctx, in).Run(recovery.Input{
		SessionID:      in.SessionID,
		Source:         in.Source,
		TranscriptPath: in.TranscriptPath,
	})
	if err != nil {
		return Output{}, err
	}

	return Output{Continue: true, SystemMessage: res.Message}, nil
}

// handleUserPromptSubmit opens the dev drive and injects the breadcrumb plus
// policy recommendations into the agent's view.
func (r *Runtime) handleUserPromptSubmit(ctx context.Context, in *Input) (Output, error) {
	r.assembler.Invalidate()
	crumb := r.crumb(ctx, in)

	extra := map[string]any{}
	if in.Prompt != "" {
		extra["prompt"] = redact.String(in.Prompt)
	}
	if _, err := r.tracker.Open(drive.Dev, crumb, in.SessionID, in.PromptUUID, extra); err != nil {
		return Output{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "breadcrumb: %s", crumb)
	if recs := r.policyRecommendations(ctx, in); recs != "" {
		b.WriteString("\n")
		b.WriteString(recs)
	}

	return Output{
		Continue: true,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:     eventNameUserPromptSubmit,
			AdditionalContext: b.String(),
		},
	}, nil
}

// policyRecommendations queries the search daemon, falling back to an
// in-process search, all inside recsBudget. Empty result on any failure;
// fallbacks are recorded, never silent.
func (r *Runtime) policyRecommendations(ctx context.Context, in *Input) string {
	if len(in.Prompt) < service.MinQueryLen {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, recsBudget)
	defer cancel()

	req := service.Request{
		Op:        service.OpRecommend,
		Query:     in.Prompt,
		Limit:     3,
		Namespace: service.NamespacePolicies,
	}

	var resp service.Response
	var err error
	if r.socketPath != "" {
		resp, err = service.Recommend(ctx, r.socketPath, req)
	} else {
		err = fmt.Errorf("no search socket configured")
	}
	if err != nil {
		_, _ = r.log.AppendNow(eventlog.EventFallbackUsed, r.crumb(ctx, in), map[string]any{
			"fallback": "in_process_search",
			"reason":   err.Error(),
		}, nil)
		resp, err = r.inProcessSearch(ctx, req)
		if err != nil {
			logging.Debug(ctx, "policy recommendations skipped", "error", err.Error())
			return ""
		}
	}
	if resp.Error != nil || len(resp.Results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("relevant policies:")
	for _, hit := range resp.Results {
		b.WriteString("\n- ")
		b.WriteString(hit.Policy)
		if hit.Section != "" {
			b.WriteString(" / ")
			b.WriteString(hit.Section)
		}
	}
	return b.String()
}

// inProcessSearch builds a throwaway retriever with the local embedder. Slow
// relative to the daemon but bounded by the ctx deadline; a deadline hit
// returns an error and the caller skips recommendations.
func (r *Runtime) inProcessSearch(ctx context.Context, req service.Request) (service.Response, error) {
	if r.policiesRoot == "" {
		return service.Response{}, fmt.Errorf("no policies root resolved")
	}
	if err := ctx.Err(); err != nil {
		return service.Response{}, err
	}

	docs, err := search.LoadPolicies(r.policiesRoot)
	if err != nil {
		return service.Response{}, err
	}
	vec, err := search.NewVectorRetriever(search.NewEmbedder(), "")
	if err != nil {
		return service.Response{}, err
	}
	hybrid := search.NewHybridRetriever(vec, search.NewLexicalRetriever())
	if err := hybrid.Build(ctx, docs); err != nil {
		return service.Response{}, err
	}

	hits, err := hybrid.Search(ctx, req.Query, req.Limit)
	if err != nil {
		return service.Response{}, err
	}
	return service.Response{Results: hits, Retriever: hybrid.Name()}, nil
}

// Gated tools and their protected fields. TaskUpdate is gated only when the
// update touches a protected field.
var gatedProtectedFields = map[string][]string{
	"TaskDelete":   nil,
	"TodoCollapse": nil,
	"TaskUpdate":   {"status", "owner", "created"},
}

// gatedTargetSet derives the operation's target set, and reports whether the
// call is gated at all.
func gatedTargetSet(toolName string, toolInput map[string]any) (grant.TargetSet, bool) {
	protected, gated := gatedProtectedFields[toolName]
	if !gated {
		return nil, false
	}
	if protected != nil {
		touched := false
		for _, field := range protected {
			if _, ok := toolInput[field]; ok {
				touched = true
				break
			}
		}
		if !touched {
			return nil, false
		}
	}

	var targets []string
	appendID := func(v any) {
		switch id := v.(type) {
		case string:
			targets = append(targets, "task:"+id)
		case float64:
			targets = append(targets, fmt.Sprintf("task:%d", int64(id)))
		}
	}
	if v, ok := toolInput["id"]; ok {
		appendID(v)
	}
	if vs, ok := toolInput["ids"].([]any); ok {
		for _, v := range vs {
			appendID(v)
		}
	}
	if len(targets) == 0 {
		targets = append(targets, "tool:"+toolName)
	}
	return grant.NewTargetSet(targets...), true
}

// handlePreToolUse records the forensic start event and enforces the grant
// gate. Blocking always uses permissionDecision deny with exit 0; stderr
// visibility of exit 2 is tool-dependent and unreliable.
func (r *Runtime) handlePreToolUse(ctx context.Context, in *Input) (Output, error) {
	crumb := r.crumb(ctx, in)

	_, _ = r.log.AppendNow(eventlog.EventToolCallStarted, crumb, map[string]any{
		"tool_name":   in.ToolName,
		"tool_use_id": in.ToolUseID,
	}, in.ForensicMap())

	// A Task call hands work to a subagent; the interval closes on
	// subagent_stop.
	if in.ToolName == "Task" {
		extra := map[string]any{}
		if st, ok := in.ToolInput["subagent_type"].(string); ok && st != "" {
			extra["subagent_type"] = st
		}
		if _, err := r.tracker.Open(drive.Deleg, crumb, in.SessionID, in.ToolUseID, extra); err != nil {
			return Output{}, err
		}
	}

	targets, gated := gatedTargetSet(in.ToolName, in.ToolInput)
	if !gated {
		return ContinueOutput(), nil
	}

	gr, ok, err := r.gate.Consume(crumb, targets)
	if err != nil {
		return Output{}, err
	}
	if !ok {
		return Output{
			Continue: true,
			HookSpecificOutput: &HookSpecificOutput{
				HookEventName:      eventNamePreToolUse,
				PermissionDecision: DecisionDeny,
				PermissionDecisionReason: fmt.Sprintf(
					"%s on {%s} requires pre-authorization; run: macf grant issue %s",
					in.ToolName, targets, strings.Join(targets, " ")),
			},
		}, nil
	}

	return Output{
		Continue: true,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:     eventNamePreToolUse,
			AdditionalContext: fmt.Sprintf("[%s] grant %s consumed for {%s}", crumb, gr.ID, targets),
		},
	}, nil
}

// handlePostToolUse records completion with the duration since the matching
// start event.
func (r *Runtime) handlePostToolUse(ctx context.Context, in *Input) (Output, error) {
	crumb := r.crumb(ctx, in)

	data := map[string]any{
		"tool_name":   in.ToolName,
		"tool_use_id": in.ToolUseID,
	}
	if started, ok := r.matchingToolStart(in); ok {
		d := eventlog.Now() - started
		if d < 0 {
			d = 0
		}
		data["duration_seconds"] = d
	}

	if _, err := r.log.AppendNow(eventlog.EventToolCallCompleted, crumb, data, in.ForensicMap()); err != nil {
		return Output{}, err
	}
	return ContinueOutput(), nil
}

// matchingToolStart finds the timestamp of the most recent tool_call_started
// with the same tool_use_id (or tool name when the host omits ids).
func (r *Runtime) matchingToolStart(in *Input) (float64, bool) {
	for rec := range r.log.Stream(true) {
		if rec.Event.Event != eventlog.EventToolCallStarted {
			continue
		}
		if in.ToolUseID != "" {
			if id, _ := rec.Event.StringField("tool_use_id"); id == in.ToolUseID {
				return rec.Event.Timestamp, true
			}
			continue
		}
		if name, _ := rec.Event.StringField("tool_name"); name == in.ToolName {
			return rec.Event.Timestamp, true
		}
	}
	return 0, false
}

// handleStop closes the dev drive and reports drive stats.
func (r *Runtime) handleStop(ctx context.Context, in *Input) (Output, error) {
	crumb := r.crumb(ctx, in)

	if _, _, err := r.tracker.Close(drive.Dev, crumb, in.SessionID); err != nil {
		return Output{}, err
	}
	r.assembler.Invalidate()

	stats := r.tracker.ComputeStats(in.SessionID)
	return Output{Continue: true, SystemMessage: stats.Summary()}, nil
}

// handleSubagentStop closes the deleg drive.
func (r *Runtime) handleSubagentStop(ctx context.Context, in *Input) (Output, error) {
	crumb := r.crumb(ctx, in)
	if _, _, err := r.tracker.Close(drive.Deleg, crumb, in.SessionID); err != nil {
		return Output{}, err
	}
	return ContinueOutput(), nil
}

// handlePreCompact warns the log and nudges toward a checkpoint before the
// context is lost. Artifact discovery here is best effort.
func (r *Runtime) handlePreCompact(ctx context.Context, in *Input) (Output, error) {
	crumb := r.crumb(ctx, in)

	trigger := in.Trigger
	if trigger == "" {
		trigger = "auto"
	}
	if _, err := r.log.AppendNow(eventlog.EventPreCompactWarning, crumb, map[string]any{
		"trigger": trigger,
	}, in.ForensicMap()); err != nil {
		return Output{}, err
	}

	msg := "Compaction imminent. Write a checkpoint now if work is in progress."
	if r.artifactRoot != "" {
		if latest := recovery.NewDiscoverer(r.artifactRoot).Latest(recovery.KindCheckpoint); latest != "" {
			msg += " Latest checkpoint: " + latest
		}
	}
	return Output{Continue: true, SystemMessage: msg}, nil
}

// handleSessionEnd records why the session ended and closes any open dev
// drive so intervals do not leak across sessions.
func (r *Runtime) handleSessionEnd(ctx context.Context, in *Input) (Output, error) {
	crumb := r.crumb(ctx, in)

	if _, _, err := r.tracker.Close(drive.Dev, crumb, in.SessionID); err != nil {
		return Output{}, err
	}

	reason := in.Reason
	if reason == "" {
		reason = "other"
	}
	if _, err := r.log.AppendNow(eventlog.EventSessionEnded, crumb, map[string]any{
		"session_id": in.SessionID,
		"reason":     reason,
	}, nil); err != nil {
		return Output{}, err
	}
	return ContinueOutput(), nil
}

// handleNotification records host notifications. Message text is redacted
// before persistence.
func (r *Runtime) handleNotification(ctx context.Context, in *Input) (Output, error) {
	data := map[string]any{
		"notification_type": in.NotificationType,
	}
	if in.Message != "" {
		data["message"] = redact.String(in.Message)
	}
	if _, err := r.log.AppendNow(eventlog.EventNotificationRecv, r.crumb(ctx, in), data, nil); err != nil {
		return Output{}, err
	}
	return ContinueOutput(), nil
}

// handlePermissionRequest records the permission UI event. Decisions are
// left to the user; the record is forensic.
func (r *Runtime) handlePermissionRequest(ctx context.Context, in *Input) (Output, error) {
	if _, err := r.log.AppendNow(eventlog.EventPermissionRequested, r.crumb(ctx, in), map[string]any{
		"tool_name": in.ToolName,
		"type":      in.Type,
	}, nil); err != nil {
		return Output{}, err
	}
	return ContinueOutput(), nil
}
