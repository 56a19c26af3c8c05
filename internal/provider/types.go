// Package provider implements the uniform provider abstraction: CLI
// providers spawn an external process and stream its stdio; HTTP providers
// exchange request/response JSON with a remote model endpoint.
package provider

import "context"

// Kind distinguishes the two provider transports.
type Kind string

const (
	KindCLI  Kind = "cli"
	KindHTTP Kind = "http"
)

// Protocol selects the HTTP request/response shape for an HTTP provider.
type Protocol string

const (
	ProtocolChat     Protocol = "chat"
	ProtocolMessages Protocol = "messages"
)

// AuthStyle selects how a resolved credential is attached to an HTTP request.
type AuthStyle string

const (
	AuthStyleBearer AuthStyle = "bearer"
	AuthStyleXAPIKey AuthStyle = "x-api-key"
	AuthStyleAPIKey  AuthStyle = "api-key"
)

// Capabilities declares what a provider instance supports.
type Capabilities struct {
	Agent        bool `json:"agent"`
	Model        bool `json:"model"`
	Auth         bool `json:"auth"`
	Passthrough  bool `json:"passthrough"`
	AgentCreate  bool `json:"agentCreate"`
	AgentDelete  bool `json:"agentDelete"`
}

// Metadata describes a provider instance to callers (listProviders()).
type Metadata struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"displayName"`
	Kind         Kind         `json:"kind"`
	Capabilities Capabilities `json:"capabilities"`
}

// StreamSink receives progressive output from a running invocation.
type StreamSink func(chunk string)

// InvokeOptions carries every parameter a provider invocation may need; not
// every provider kind consumes every field.
type InvokeOptions struct {
	Message           string
	SystemPrompt      string
	Model             string
	ProviderSessionID string
	Cwd               string
	Env               map[string]string
	PassthroughArgs   []string
	IdempotencyKey    string
	OnStdout          StreamSink
	OnStderr          StreamSink
}

// Execution is the result of any provider operation.
type Execution struct {
	Code              int
	Stdout            string
	Stderr            string
	ProviderSessionID string
}

// Provider is the uniform surface every concrete provider kind implements.
type Provider interface {
	Metadata() Metadata
	Invoke(ctx context.Context, opts InvokeOptions) (Execution, error)
	Authenticate(ctx context.Context, opts InvokeOptions) (Execution, error)
	CreateExternalAgent(ctx context.Context, opts InvokeOptions) (Execution, error)
	DeleteExternalAgent(ctx context.Context, opts InvokeOptions) (Execution, error)
}
