package provider

import (
	"os"
	"strings"
)

// knownAPIKeyEnvVars lists environment variable names providers commonly
// look for when no explicit credential env var is configured.
var knownAPIKeyEnvVars = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"AZURE_OPENAI_API_KEY",
	"COHERE_API_KEY",
	"MISTRAL_API_KEY",
	"TOGETHER_API_KEY",
}

// resolveCredential returns the value of the first non-empty environment
// variable among candidates, preferring an explicit prefix-qualified form.
func resolveCredential(prefix string, candidates ...string) (string, string) {
	for _, name := range candidates {
		if name == "" {
			continue
		}
		if prefix != "" {
			if v := os.Getenv(prefix + name); v != "" {
				return v, prefix + name
			}
		}
		if v := os.Getenv(name); v != "" {
			return v, name
		}
	}
	return "", ""
}

// resolveFirstNonEmptyEnv resolves the first of envVars that has a non-empty
// value, used for endpoint precedence resolution.
func resolveFirstNonEmptyEnv(envVars ...string) (string, bool) {
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// authCandidates builds the env var list reported in a ProviderAuthentication
// error: the provider's own configured envs, plus any API-key-shaped
// variable actually set in the environment that the provider didn't check,
// so a misconfigured CredentialEnvs shows up as "did you mean one of these".
func authCandidates(configured []string) []string {
	seen := make(map[string]bool, len(configured))
	candidates := make([]string, 0, len(configured))
	for _, name := range configured {
		if name != "" && !seen[name] {
			seen[name] = true
			candidates = append(candidates, name)
		}
	}
	for _, name := range listAvailableCredentials("") {
		if !seen[name] {
			seen[name] = true
			candidates = append(candidates, name)
		}
	}
	return candidates
}

// listAvailableCredentials scans the environment for configured API key
// style variables, used for diagnostics/introspection.
func listAvailableCredentials(prefix string) []string {
	available := make([]string, 0)
	seen := make(map[string]bool)

	for _, pattern := range knownAPIKeyEnvVars {
		if os.Getenv(pattern) != "" && !seen[pattern] {
			available = append(available, pattern)
			seen[pattern] = true
		}
		if prefix != "" {
			if os.Getenv(prefix+pattern) != "" && !seen[prefix+pattern] {
				available = append(available, prefix+pattern)
				seen[prefix+pattern] = true
			}
		}
	}

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		key := parts[0]
		if seen[key] {
			continue
		}
		lower := strings.ToLower(key)
		if strings.Contains(lower, "api_key") || strings.Contains(lower, "apikey") || strings.Contains(lower, "_token") {
			available = append(available, key)
			seen[key] = true
		}
	}

	return available
}
