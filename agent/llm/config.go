package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/recmonkey/scout/agent/contract"
)

// Config selects the gateway models for the four research modes and the
// intake router. Per-mode overrides fall back to the default model;
// temperatures below zero mean "use the default".
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"3000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.4"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"45s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	QuickModel     string `envconfig:"QUICK_MODEL" split_words:"true"`
	RecommendModel string `envconfig:"RECOMMEND_MODEL" split_words:"true"`
	DiscoveryModel string `envconfig:"DISCOVERY_MODEL" split_words:"true"`
	ResearchModel  string `envconfig:"RESEARCH_MODEL" split_words:"true"`
	RouterModel    string `envconfig:"ROUTER_MODEL" split_words:"true"`

	QuickTemperature     float32 `envconfig:"QUICK_TEMPERATURE" split_words:"true" default:"-1"`
	RecommendTemperature float32 `envconfig:"RECOMMEND_TEMPERATURE" split_words:"true" default:"-1"`
	DiscoveryTemperature float32 `envconfig:"DISCOVERY_TEMPERATURE" split_words:"true" default:"-1"`
	ResearchTemperature  float32 `envconfig:"RESEARCH_TEMPERATURE" split_words:"true" default:"-1"`
	RouterTemperature    float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: gateway api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// GatewayFor resolves the gateway settings for one mode's turn model.
func (c Config) GatewayFor(mode contractx.Mode) GatewayConfig {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch mode {
	case contractx.ModeQuickDecision:
		if v := strings.TrimSpace(c.QuickModel); v != "" {
			modelName = v
		}
		if c.QuickTemperature >= 0 {
			temp = c.QuickTemperature
		}
	case contractx.ModeRecommendation:
		if v := strings.TrimSpace(c.RecommendModel); v != "" {
			modelName = v
		}
		if c.RecommendTemperature >= 0 {
			temp = c.RecommendTemperature
		}
	case contractx.ModeProductDiscovery:
		if v := strings.TrimSpace(c.DiscoveryModel); v != "" {
			modelName = v
		}
		if c.DiscoveryTemperature >= 0 {
			temp = c.DiscoveryTemperature
		}
	case contractx.ModeResearch:
		if v := strings.TrimSpace(c.ResearchModel); v != "" {
			modelName = v
		}
		if c.ResearchTemperature >= 0 {
			temp = c.ResearchTemperature
		}
	}

	return c.gateway(modelName, temp)
}

// RouterGateway resolves the gateway settings for the intake router and
// questionnaire calls. These are short structured calls, so a cheaper
// model is the usual override.
func (c Config) RouterGateway() GatewayConfig {
	modelName := strings.TrimSpace(c.Model)
	if v := strings.TrimSpace(c.RouterModel); v != "" {
		modelName = v
	}
	temp := c.Temperature
	if c.RouterTemperature >= 0 {
		temp = c.RouterTemperature
	}
	return c.gateway(modelName, temp)
}

func (c Config) gateway(modelName string, temp float32) GatewayConfig {
	maxCompletionToken := c.MaxCompletionToken
	return GatewayConfig{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
