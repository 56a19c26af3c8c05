package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

// HTTPSpec describes how to invoke a remote HTTP model endpoint.
type HTTPSpec struct {
	ID              string
	DisplayName     string
	Protocol        Protocol
	BaseURLEnvVar   string
	EndpointEnvVar  string
	EndpointPath    string
	DefaultBaseURL  string
	CredentialEnvs  []string // checked in order; first non-empty wins
	AuthStyle       AuthStyle
	DefaultModel    string
	ModelEnvVar     string
	Capabilities    Capabilities
	RequestTimeout  time.Duration
}

// httpProvider builds a request per protocol, resolves endpoint/auth
// precedence, and parses vendor-shaped JSON responses.
type httpProvider struct {
	spec   HTTPSpec
	client *http.Client
}

// NewHTTPProvider returns a Provider backed by a remote chat/messages endpoint.
func NewHTTPProvider(spec HTTPSpec) Provider {
	timeout := spec.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpProvider{spec: spec, client: &http.Client{Timeout: timeout}}
}

func (p *httpProvider) Metadata() Metadata {
	return Metadata{ID: p.spec.ID, DisplayName: p.spec.DisplayName, Kind: KindHTTP, Capabilities: p.spec.Capabilities}
}

// resolveEndpoint implements the precedence rule from spec.md §4.1:
// endpoint-env > baseUrl-env > baseUrl + endpointPath.
func (p *httpProvider) resolveEndpoint() string {
	if v, ok := resolveFirstNonEmptyEnv(p.spec.EndpointEnvVar); ok {
		return v
	}
	if v, ok := resolveFirstNonEmptyEnv(p.spec.BaseURLEnvVar); ok {
		return v + p.spec.EndpointPath
	}
	return p.spec.DefaultBaseURL + p.spec.EndpointPath
}

func (p *httpProvider) resolveModel(opts InvokeOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	if v, ok := resolveFirstNonEmptyEnv(p.spec.ModelEnvVar); ok {
		return v
	}
	return p.spec.DefaultModel
}

func (p *httpProvider) buildBody(opts InvokeOptions) ([]byte, error) {
	message := opts.Message
	model := p.resolveModel(opts)

	switch p.spec.Protocol {
	case ProtocolMessages:
		body := messagesRequest{
			Model:     model,
			System:    opts.SystemPrompt,
			MaxTokens: 4096,
			Messages:  []chatMessage{{Role: "user", Content: message}},
		}
		return json.Marshal(body)
	case ProtocolChat:
		fallthrough
	default:
		msgs := make([]chatMessage, 0, 2)
		if opts.SystemPrompt != "" {
			msgs = append(msgs, chatMessage{Role: "system", Content: opts.SystemPrompt})
		}
		msgs = append(msgs, chatMessage{Role: "user", Content: message})
		body := chatRequest{Model: model, Messages: msgs}
		return json.Marshal(body)
	}
}

func (p *httpProvider) attachAuth(req *http.Request) error {
	cred, _ := resolveCredential("", p.spec.CredentialEnvs...)
	if cred == "" {
		return goerrors.ProviderAuthentication(p.spec.ID, authCandidates(p.spec.CredentialEnvs))
	}
	switch p.spec.AuthStyle {
	case AuthStyleXAPIKey:
		req.Header.Set("x-api-key", cred)
	case AuthStyleAPIKey:
		req.Header.Set("api-key", cred)
	case AuthStyleBearer:
		fallthrough
	default:
		req.Header.Set("Authorization", "Bearer "+cred)
	}
	return nil
}

func (p *httpProvider) run(ctx context.Context, opts InvokeOptions) (Execution, error) {
	payload, err := p.buildBody(opts)
	if err != nil {
		return Execution{}, goerrors.Internal("failed to encode provider request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.resolveEndpoint(), bytes.NewReader(payload))
	if err != nil {
		return Execution{}, goerrors.Internal("failed to build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := p.attachAuth(req); err != nil {
		return Execution{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Execution{Code: 1, Stderr: "timeout"}, nil
		}
		return Execution{Code: 1, Stderr: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Execution{}, goerrors.Internal("failed to read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Execution{Code: 1, Stderr: fmt.Sprintf("http %d: %s", resp.StatusCode, string(raw))}, nil
	}

	text, err := parseResponseText(p.spec.Protocol, raw)
	if err != nil {
		return Execution{}, goerrors.ProviderRuntime(p.spec.ID, err.Error())
	}
	if text == "" {
		return Execution{}, goerrors.ProviderRuntime(p.spec.ID, "provider returned no usable output")
	}

	// HTTP providers answer in a single response; call the sink once with
	// the full reply rather than streaming incrementally.
	if opts.OnStdout != nil {
		opts.OnStdout(text)
	}

	return Execution{Code: 0, Stdout: text}, nil
}

func (p *httpProvider) Invoke(ctx context.Context, opts InvokeOptions) (Execution, error) {
	return p.run(ctx, opts)
}

func (p *httpProvider) Authenticate(ctx context.Context, opts InvokeOptions) (Execution, error) {
	if !p.spec.Capabilities.Auth {
		return Execution{}, goerrors.UnsupportedProviderAction(p.spec.ID, "authenticate")
	}
	return p.run(ctx, opts)
}

func (p *httpProvider) CreateExternalAgent(ctx context.Context, opts InvokeOptions) (Execution, error) {
	if !p.spec.Capabilities.AgentCreate {
		return Execution{}, goerrors.UnsupportedProviderAction(p.spec.ID, "createExternalAgent")
	}
	return p.run(ctx, opts)
}

func (p *httpProvider) DeleteExternalAgent(ctx context.Context, opts InvokeOptions) (Execution, error) {
	if !p.spec.Capabilities.AgentDelete {
		return Execution{}, goerrors.UnsupportedProviderAction(p.spec.ID, "deleteExternalAgent")
	}
	return p.run(ctx, opts)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// parseResponseText extracts the assistant text from a vendor-shaped
// response body per the configured protocol.
func parseResponseText(protocol Protocol, raw []byte) (string, error) {
	switch protocol {
	case ProtocolMessages:
		var body messagesResponse
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("decode messages response: %w", err)
		}
		for _, block := range body.Content {
			if block.Type == "text" && block.Text != "" {
				return block.Text, nil
			}
		}
		return "", nil
	case ProtocolChat:
		fallthrough
	default:
		var body chatResponse
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("decode chat response: %w", err)
		}
		if len(body.Choices) == 0 {
			return "", nil
		}
		return body.Choices[0].Message.Content, nil
	}
}
