package config

import "time"

// LLMConfig configures generation and classification calls.
type LLMConfig struct {
	Provider          string  `yaml:"provider" env:"PROVIDER"` // genai, none
	APIKey            string  `yaml:"api_key" env:"API_KEY"`
	Model             string  `yaml:"model" env:"MODEL"`
	ClassifierModel   string  `yaml:"classifier_model" env:"CLASSIFIER_MODEL"`
	Timeout           string  `yaml:"timeout" env:"TIMEOUT"`
	ClassifierTimeout string  `yaml:"classifier_timeout" env:"CLASSIFIER_TIMEOUT"`
	Temperature       float32 `yaml:"temperature" env:"TEMPERATURE"`
	MaxOutputTokens   int32   `yaml:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
}

// EmbeddingConfig configures the embedding engine used for fuzzy claim
// matching and the local memory index.
type EmbeddingConfig struct {
	Provider            string  `yaml:"provider" env:"PROVIDER"` // genai, lexical
	Model               string  `yaml:"model" env:"MODEL"`
	Dimensions          int     `yaml:"dimensions" env:"DIMENSIONS"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
}

// GetLLMTimeout returns the generation timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 45*time.Second)
}

// GetClassifierTimeout returns the classification timeout.
func (c *Config) GetClassifierTimeout() time.Duration {
	return parseDuration(c.LLM.ClassifierTimeout, 20*time.Second)
}
