package config

// Wire shapes understood by the gateway.
const (
	ShapeAnthropic = "anthropic"
	ShapeOpenAI    = "openai"
	ShapeCompat    = "compat"
	ShapeGemini    = "gemini"
)

// Endpoint describes how to reach one provider.
type Endpoint struct {
	Shape         string `yaml:"shape"`
	CredentialEnv string `yaml:"credential_env"`
	DefaultModel  string `yaml:"default_model"`
	BaseURL       string `yaml:"base_url"`
}

// Registry maps provider name to its endpoint. It is passed to the gateway at
// construction instead of being compiled into it.
type Registry map[string]Endpoint

// DefaultRegistry returns the built-in provider endpoints.
func DefaultRegistry() Registry {
	return Registry{
		"claude": {
			Shape:         ShapeAnthropic,
			CredentialEnv: "ANTHROPIC_API_KEY",
			DefaultModel:  "claude-sonnet-4-20250514",
			BaseURL:       "https://api.anthropic.com/",
		},
		"openai": {
			Shape:         ShapeOpenAI,
			CredentialEnv: "OPENAI_API_KEY",
			DefaultModel:  "gpt-4o",
			BaseURL:       "https://api.openai.com/v1/",
		},
		"grok": {
			Shape:         ShapeCompat,
			CredentialEnv: "XAI_API_KEY",
			DefaultModel:  "grok-3",
			BaseURL:       "https://api.x.ai/v1",
		},
		"deepseek": {
			Shape:         ShapeCompat,
			CredentialEnv: "DEEPSEEK_API_KEY",
			DefaultModel:  "deepseek-chat",
			BaseURL:       "https://api.deepseek.com/v1",
		},
		"gemini": {
			Shape:         ShapeGemini,
			CredentialEnv: "GOOGLE_API_KEY",
			DefaultModel:  "gemini-2.0-pro",
			BaseURL:       "https://generativelanguage.googleapis.com/",
		},
	}
}

// Clone returns a copy that can be modified without touching r.
func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for name, ep := range r {
		out[name] = ep
	}
	return out
}

// Merge overlays non-empty fields of other onto a copy of r.
func (r Registry) Merge(other Registry) Registry {
	out := r.Clone()
	for name, ep := range other {
		base := out[name]
		if ep.Shape != "" {
			base.Shape = ep.Shape
		}
		if ep.CredentialEnv != "" {
			base.CredentialEnv = ep.CredentialEnv
		}
		if ep.DefaultModel != "" {
			base.DefaultModel = ep.DefaultModel
		}
		if ep.BaseURL != "" {
			base.BaseURL = ep.BaseURL
		}
		out[name] = base
	}
	return out
}
