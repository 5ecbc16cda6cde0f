package pool

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/classify"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

// Invoke executes a tool call against the target server. When no target
// is given the lexicographically first enabled configured server is used.
// The call runs under the pool's hard call timeout; failures are
// classified and connection class failures evict the pooled session.
func (p *Pool) Invoke(ctx context.Context, toolName string, args map[string]any, targetServer string) domain.InvokeResult {
	traceID := uuid.NewString()

	if strings.TrimSpace(toolName) == "" {
		return p.failedInvoke(toolName, targetServer, traceID, classify.New(classify.KindValidation, "tool name cannot be empty"))
	}

	server, err := p.resolveTarget(targetServer)
	if err != nil {
		return p.failedInvoke(toolName, targetServer, traceID, classify.New(classify.KindServerNotFound, err.Error()))
	}

	logger := p.logger.With("tool", toolName, "server", server, "trace_id", traceID)

	var result domain.InvokeResult
	for attempt := 0; attempt < p.opts.InvokeAttempts; attempt++ {
		result = p.invokeOnce(ctx, toolName, args, server, traceID)
		if result.Success || result.Error == nil || !result.Error.Retryable {
			break
		}
		logger.Warn("tool call failed, retrying", "attempt", attempt, "kind", result.Error.Kind)
	}

	if result.Success {
		logger.Debug("tool call succeeded")
	}
	return result
}

func (p *Pool) invokeOnce(ctx context.Context, toolName string, args map[string]any, server, traceID string) domain.InvokeResult {
	entry, ok := p.store.Server(server)
	if !ok {
		return p.failedInvoke(toolName, server, traceID, classify.New(classify.KindServerNotFound, fmt.Sprintf("server not found: %s", server)))
	}

	session, err := p.Get(ctx, server)
	if err != nil {
		return p.failedInvoke(toolName, server, traceID, p.classifyAndMaybeEvict(server, err))
	}

	tools, err := p.toolsFor(ctx, server, entry, session)
	if err != nil {
		return p.failedInvoke(toolName, server, traceID, p.classifyAndMaybeEvict(server, err))
	}

	tool, found := findTool(tools, toolName)
	if !found {
		c := classify.New(classify.KindToolNotFound, fmt.Sprintf("tool not found: %s on server %s", toolName, server))
		return p.failedInvoke(toolName, server, traceID, c)
	}

	if c, ok := validateArgs(tool, args); !ok {
		return p.failedInvoke(toolName, server, traceID, c)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	payload, err := session.CallTool(callCtx, toolName, args)
	if err != nil {
		return p.failedInvoke(toolName, server, traceID, p.classifyAndMaybeEvict(server, err))
	}

	return domain.InvokeResult{
		ToolID:  toolName,
		Server:  server,
		Success: true,
		Result:  payload,
		TraceID: traceID,
	}
}

// resolveTarget picks the target server: explicit when given, otherwise
// the lexicographically first enabled configured server. ServerNames is
// sorted, which makes the default deterministic across runs.
func (p *Pool) resolveTarget(target string) (string, error) {
	if target = strings.TrimSpace(target); target != "" {
		if _, ok := p.store.Server(target); !ok {
			return "", fmt.Errorf("server not found: %s", target)
		}
		return target, nil
	}

	for _, name := range p.store.ServerNames() {
		entry, ok := p.store.Server(name)
		if ok && entry.IsEnabled() {
			return name, nil
		}
	}
	return "", fmt.Errorf("server not found: no enabled servers configured")
}

func findTool(tools []domain.Tool, name string) (domain.Tool, bool) {
	for _, tool := range tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return domain.Tool{}, false
}

// validateArgs checks args against the tool's input schema before the
// call goes out. Tools without a schema accept anything.
func validateArgs(tool domain.Tool, args map[string]any) (classify.Classification, bool) {
	if len(tool.InputSchema) == 0 {
		return classify.Classification{}, true
	}

	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(tool.InputSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		// An unusable schema must not block the call.
		return classify.Classification{}, true
	}
	if result.Valid() {
		return classify.Classification{}, true
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	c := classify.New(classify.KindToolInvalidParams, fmt.Sprintf("invalid parameters for %s: %s", tool.Name, strings.Join(details, "; ")))
	return c, false
}

func (p *Pool) failedInvoke(toolName, server, traceID string, c classify.Classification) domain.InvokeResult {
	p.logger.Warn("tool call failed",
		"tool", toolName,
		"server", server,
		"kind", c.Kind,
		"retryable", c.Retryable,
		"trace_id", traceID,
	)

	return domain.InvokeResult{
		ToolID:  toolName,
		Server:  server,
		Success: false,
		Error:   &c,
		TraceID: traceID,
	}
}
