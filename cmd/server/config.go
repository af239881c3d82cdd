package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/promotor-copilot/internal/handlers"
	"github.com/MegaGrindStone/promotor-copilot/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
	titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port                 string    `yaml:"port"`
	DBPath               string    `yaml:"dbPath"`
	JWTSecret            string    `yaml:"jwtSecret"`
	LogLevel             string    `yaml:"logLevel"`
	SystemPrompt         string    `yaml:"systemPrompt"`
	TitleGeneratorPrompt string    `yaml:"titleGeneratorPrompt"`
	LLM                  llmConfig `yaml:"llm"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
	Endpoint      string `yaml:"endpoint"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string   `yaml:"apiKey"`
	BaseURL       string   `yaml:"baseURL"`
	Temperature   *float32 `yaml:"temperature"`
}

type mockConfig struct {
	BaseLLMConfig `yaml:",inline"`
}

const (
	defaultPort = "5000"

	defaultTitleGeneratorPrompt = `Genera un titulo corto, de maximo seis palabras y en espanol, para una conversacion que
empieza con el mensaje del usuario. Responde unicamente con el titulo, sin comillas ni puntuacion final.`
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port                 string         `yaml:"port"`
		DBPath               string         `yaml:"dbPath"`
		JWTSecret            string         `yaml:"jwtSecret"`
		LogLevel             string         `yaml:"logLevel"`
		SystemPrompt         string         `yaml:"systemPrompt"`
		TitleGeneratorPrompt string         `yaml:"titleGeneratorPrompt"`
		LLM                  map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.DBPath = rawConfig.DBPath
	c.JWTSecret = rawConfig.JWTSecret
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TitleGeneratorPrompt = rawConfig.TitleGeneratorPrompt

	// Without an llm block the server answers with canned replies.
	if rawConfig.LLM == nil {
		c.LLM = &mockConfig{BaseLLMConfig{Provider: "mock"}}
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openai":
		llm = &openaiConfig{}
	case "mock":
		llm = &mockConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// applyDefaults fills the unset fields and the secrets given through the environment.
func (c *config) applyDefaults(cfgDir string) {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(cfgDir, "store.db")
	}
	if c.JWTSecret == "" {
		c.JWTSecret = os.Getenv("JWT_SECRET_KEY")
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.TitleGeneratorPrompt == "" {
		c.TitleGeneratorPrompt = defaultTitleGeneratorPrompt
	}
	if c.LLM == nil {
		c.LLM = &mockConfig{BaseLLMConfig{Provider: "mock"}}
	}
}

func (c config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwtSecret is required, set it in the config file or JWT_SECRET_KEY")
	}
	return nil
}

func (c config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (o ollamaConfig) newOllama(systemPrompt string) (services.Ollama, error) {
	if o.Model == "" {
		return services.Ollama{}, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt)
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (handlers.LLM, error) {
	return o.newOllama(systemPrompt)
}

func (o ollamaConfig) titleGen(systemPrompt string, _ *slog.Logger) (handlers.TitleGenerator, error) {
	return o.newOllama(systemPrompt)
}

func (a anthropicConfig) newAnthropic(systemPrompt string, logger *slog.Logger) (services.Anthropic, error) {
	if a.Model == "" {
		return services.Anthropic{}, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return services.Anthropic{}, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, systemPrompt, a.MaxTokens, a.Endpoint, logger), nil
}

func (a anthropicConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return a.newAnthropic(systemPrompt, logger)
}

func (a anthropicConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	return a.newAnthropic(systemPrompt, logger)
}

func (o openaiConfig) newOpenAI(systemPrompt string, logger *slog.Logger) (services.OpenAI, error) {
	if o.Model == "" {
		return services.OpenAI{}, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Temperature, logger), nil
}

func (o openaiConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return o.newOpenAI(systemPrompt, logger)
}

func (o openaiConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	return o.newOpenAI(systemPrompt, logger)
}

func (mockConfig) llm(string, *slog.Logger) (handlers.LLM, error) {
	return services.MockLLM{}, nil
}

func (mockConfig) titleGen(string, *slog.Logger) (handlers.TitleGenerator, error) {
	return services.MockLLM{}, nil
}
