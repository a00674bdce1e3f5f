package factory

import (
	"fmt"

	"procedure-assistant-be/pkg/llm"
	"procedure-assistant-be/pkg/llm/huggingface"
	"procedure-assistant-be/pkg/llm/ollama"
)

type Settings struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func NewLLMProvider(s Settings) (llm.LLMProvider, error) {
	switch s.Provider {
	case "ollama":
		baseURL := s.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, s.Model), nil
	case "huggingface":
		if s.APIKey == "" {
			return nil, fmt.Errorf("huggingface provider needs HUGGINGFACE_API_KEY")
		}
		return huggingface.NewHuggingFaceProvider(s.APIKey, s.BaseURL, s.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", s.Provider)
	}
}
