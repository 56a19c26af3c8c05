package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

// CLISpec describes how to invoke a command-line provider.
type CLISpec struct {
	ID            string
	DisplayName   string
	Command       string
	CommandEnvVar string
	ArgsTemplate  []string // placeholders: {session}, {model}, {message}
	Capabilities  Capabilities
}

// cliProvider wraps an external command, teeing its stdio to buffers and
// optional streaming sinks, and mapping a missing binary to a typed error.
type cliProvider struct {
	spec CLISpec
}

// NewCLIProvider returns a Provider backed by an external command.
func NewCLIProvider(spec CLISpec) Provider {
	return &cliProvider{spec: spec}
}

func (p *cliProvider) Metadata() Metadata {
	return Metadata{ID: p.spec.ID, DisplayName: p.spec.DisplayName, Kind: KindCLI, Capabilities: p.spec.Capabilities}
}

func (p *cliProvider) resolveCommand() string {
	if p.spec.CommandEnvVar != "" {
		if v := os.Getenv(p.spec.CommandEnvVar); v != "" {
			return v
		}
	}
	return p.spec.Command
}

func (p *cliProvider) buildArgs(opts InvokeOptions) []string {
	args := make([]string, 0, len(p.spec.ArgsTemplate)+len(opts.PassthroughArgs))
	for _, tmpl := range p.spec.ArgsTemplate {
		switch tmpl {
		case "{session}":
			if opts.ProviderSessionID != "" {
				args = append(args, opts.ProviderSessionID)
			}
		case "{model}":
			if opts.Model != "" {
				args = append(args, opts.Model)
			}
		case "{message}":
			args = append(args, opts.Message)
		default:
			args = append(args, tmpl)
		}
	}
	return append(args, opts.PassthroughArgs...)
}

func (p *cliProvider) run(ctx context.Context, opts InvokeOptions) (Execution, error) {
	command := p.resolveCommand()
	if command == "" {
		return Execution{}, goerrors.ProviderCommandNotFound(p.spec.ID, p.spec.Command)
	}

	cmd := exec.CommandContext(ctx, command, p.buildArgs(opts)...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &teeWriter{buf: &stdout, sink: opts.OnStdout}
	cmd.Stderr = &teeWriter{buf: &stderr, sink: opts.OnStderr}

	runErr := cmd.Run()

	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist) {
			return Execution{}, goerrors.ProviderCommandNotFound(p.spec.ID, command)
		}
	}

	result := Execution{
		Stdout:            stdout.String(),
		Stderr:            stderr.String(),
		ProviderSessionID: extractTrailingSessionID(stdout.String()),
	}
	if result.ProviderSessionID == "" {
		result.ProviderSessionID = opts.ProviderSessionID
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.Code = exitErr.ExitCode()
		return result, nil
	}
	if runErr != nil {
		return Execution{}, goerrors.ProviderRuntime(p.spec.ID, runErr.Error())
	}

	result.Code = 0
	if result.Stdout == "" && result.Stderr == "" {
		return Execution{}, goerrors.ProviderRuntime(p.spec.ID, "provider returned no output")
	}
	return result, nil
}

func (p *cliProvider) Invoke(ctx context.Context, opts InvokeOptions) (Execution, error) {
	return p.run(ctx, opts)
}

func (p *cliProvider) Authenticate(ctx context.Context, opts InvokeOptions) (Execution, error) {
	if !p.spec.Capabilities.Auth {
		return Execution{}, goerrors.UnsupportedProviderAction(p.spec.ID, "authenticate")
	}
	return p.run(ctx, opts)
}

func (p *cliProvider) CreateExternalAgent(ctx context.Context, opts InvokeOptions) (Execution, error) {
	if !p.spec.Capabilities.AgentCreate {
		return Execution{}, goerrors.UnsupportedProviderAction(p.spec.ID, "createExternalAgent")
	}
	return p.run(ctx, opts)
}

func (p *cliProvider) DeleteExternalAgent(ctx context.Context, opts InvokeOptions) (Execution, error) {
	if !p.spec.Capabilities.AgentDelete {
		return Execution{}, goerrors.UnsupportedProviderAction(p.spec.ID, "deleteExternalAgent")
	}
	return p.run(ctx, opts)
}

// teeWriter tees written bytes into an in-memory buffer and an optional
// streaming sink, passing each written chunk to the sink as-is.
type teeWriter struct {
	buf  *bytes.Buffer
	sink StreamSink
}

func (w *teeWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if w.sink != nil {
		w.sink(string(p))
	}
	return n, err
}

// extractTrailingSessionID looks for a trailing JSON line emitted by a CLI
// tool carrying its own session identifier, e.g. {"sessionId": "abc"}.
func extractTrailingSessionID(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line[0] != '{' {
			continue
		}
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal([]byte(line), &payload); err == nil && payload.SessionID != "" {
			return payload.SessionID
		}
		break
	}
	return ""
}
