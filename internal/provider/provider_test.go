package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"testing"
)

func TestCLIProviderInvokeSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell assumptions")
	}
	spec := CLISpec{
		ID:           "echo-cli",
		Command:      "/bin/echo",
		ArgsTemplate: []string{"{message}"},
		Capabilities: Capabilities{Agent: true},
	}
	p := NewCLIProvider(spec)

	var streamed string
	exec, err := p.Invoke(context.Background(), InvokeOptions{
		Message:  "hello from ceo",
		OnStdout: func(chunk string) { streamed += chunk },
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if exec.Code != 0 {
		t.Fatalf("Code = %d, want 0", exec.Code)
	}
	if exec.Stdout == "" {
		t.Fatalf("expected non-empty stdout")
	}
	if streamed == "" {
		t.Fatalf("expected OnStdout to have been called")
	}
}

func TestCLIProviderCommandNotFound(t *testing.T) {
	spec := CLISpec{ID: "missing-cli", Command: "/no/such/binary-opengoat-test"}
	p := NewCLIProvider(spec)

	_, err := p.Invoke(context.Background(), InvokeOptions{Message: "hi"})
	if err == nil {
		t.Fatalf("expected ProviderCommandNotFoundError")
	}
}

func TestCLIProviderAuthenticateUnsupported(t *testing.T) {
	spec := CLISpec{ID: "no-auth-cli", Command: "/bin/echo", Capabilities: Capabilities{Auth: false}}
	p := NewCLIProvider(spec)

	_, err := p.Authenticate(context.Background(), InvokeOptions{})
	if err == nil {
		t.Fatalf("expected UnsupportedProviderActionError")
	}
}

func TestCLIProviderExtractsTrailingSessionID(t *testing.T) {
	got := extractTrailingSessionID("some output\n{\"sessionId\": \"abc-123\"}\n")
	if got != "abc-123" {
		t.Fatalf("extractTrailingSessionID() = %q, want abc-123", got)
	}

	if got := extractTrailingSessionID("plain text only\n"); got != "" {
		t.Fatalf("extractTrailingSessionID() = %q, want empty", got)
	}
}

func TestHTTPProviderChatProtocol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: "writer reply for " + req.Messages[len(req.Messages)-1].Content}})
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	os.Setenv("TESTPROVIDER_API_KEY", "test-key")
	defer os.Unsetenv("TESTPROVIDER_API_KEY")

	p := NewHTTPProvider(HTTPSpec{
		ID:             "test-http",
		Protocol:       ProtocolChat,
		DefaultBaseURL: server.URL,
		EndpointPath:   "/v1/chat",
		CredentialEnvs: []string{"TESTPROVIDER_API_KEY"},
		AuthStyle:      AuthStyleBearer,
		Capabilities:   Capabilities{Agent: true},
	})

	exec, err := p.Invoke(context.Background(), InvokeOptions{Message: "draft ABOUT.md"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if exec.Code != 0 {
		t.Fatalf("Code = %d, want 0, stderr=%s", exec.Code, exec.Stderr)
	}
	if exec.Stdout != "writer reply for draft ABOUT.md" {
		t.Fatalf("Stdout = %q", exec.Stdout)
	}
}

func TestHTTPProviderMissingCredentials(t *testing.T) {
	p := NewHTTPProvider(HTTPSpec{
		ID:             "no-cred-http",
		Protocol:       ProtocolChat,
		DefaultBaseURL: "http://127.0.0.1:1",
		CredentialEnvs: []string{"OPENGOAT_TEST_NONEXISTENT_KEY"},
	})

	_, err := p.Invoke(context.Background(), InvokeOptions{Message: "hi"})
	if err == nil {
		t.Fatalf("expected ProviderAuthenticationError")
	}
}

func TestHTTPProviderNon2xxReturnsCodeOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	os.Setenv("TESTPROVIDER2_API_KEY", "k")
	defer os.Unsetenv("TESTPROVIDER2_API_KEY")

	p := NewHTTPProvider(HTTPSpec{
		ID:             "fail-http",
		Protocol:       ProtocolChat,
		DefaultBaseURL: server.URL,
		CredentialEnvs: []string{"TESTPROVIDER2_API_KEY"},
	})

	exec, err := p.Invoke(context.Background(), InvokeOptions{Message: "hi"})
	if err != nil {
		t.Fatalf("Invoke() unexpected error = %v", err)
	}
	if exec.Code != 1 {
		t.Fatalf("Code = %d, want 1", exec.Code)
	}
}

func TestResolveEndpointPrecedence(t *testing.T) {
	p := &httpProvider{spec: HTTPSpec{
		EndpointEnvVar: "OG_TEST_ENDPOINT",
		BaseURLEnvVar:  "OG_TEST_BASEURL",
		EndpointPath:   "/chat",
		DefaultBaseURL: "https://default.example",
	}}

	if got := p.resolveEndpoint(); got != "https://default.example/chat" {
		t.Fatalf("resolveEndpoint() = %q", got)
	}

	os.Setenv("OG_TEST_BASEURL", "https://base.example")
	defer os.Unsetenv("OG_TEST_BASEURL")
	if got := p.resolveEndpoint(); got != "https://base.example/chat" {
		t.Fatalf("resolveEndpoint() with baseUrl env = %q", got)
	}

	os.Setenv("OG_TEST_ENDPOINT", "https://explicit.example/v2")
	defer os.Unsetenv("OG_TEST_ENDPOINT")
	if got := p.resolveEndpoint(); got != "https://explicit.example/v2" {
		t.Fatalf("resolveEndpoint() with explicit env = %q", got)
	}
}

func TestRegistryConfigRoundTrip(t *testing.T) {
	fs := newTestFilesystem()
	reg := NewRegistry(fs, newTestLayout())

	if err := reg.SetConfig("anthropic", map[string]string{"ANTHROPIC_API_KEY": "sk-test"}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	cfg, err := reg.GetConfig("anthropic")
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if cfg.Env["ANTHROPIC_API_KEY"] != "sk-test" {
		t.Fatalf("GetConfig() env = %v", cfg.Env)
	}
}
