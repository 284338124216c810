package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/config"
	"github.com/sells-group/contact-resolver/internal/cost"
	"github.com/sells-group/contact-resolver/internal/monitoring"
	"github.com/sells-group/contact-resolver/internal/oracle"
	"github.com/sells-group/contact-resolver/internal/pipeline"
	"github.com/sells-group/contact-resolver/internal/resilience"
	anthropicpkg "github.com/sells-group/contact-resolver/pkg/anthropic"
	geminipkg "github.com/sells-group/contact-resolver/pkg/gemini"
	openaipkg "github.com/sells-group/contact-resolver/pkg/openai"
)

// oracleEnv holds the configured oracle and whatever must be released
// when the command exits.
type oracleEnv struct {
	Adapter *oracle.Adapter
	closers []func() error
}

// Close releases provider clients.
func (e *oracleEnv) Close() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			zap.L().Warn("close oracle client", zap.Error(err))
		}
	}
}

// initOracle builds the provider completer and wraps it in an Adapter
// configured from c.
func initOracle(ctx context.Context, c *config.Config) (*oracleEnv, error) {
	env := &oracleEnv{}

	var completer oracle.Completer
	switch c.Oracle.Provider {
	case cost.ProviderAnthropic:
		completer = oracle.NewAnthropicCompleter(anthropicpkg.NewClient(c.Anthropic.Key), c.Anthropic.Model)
	case cost.ProviderOpenAI:
		completer = oracle.NewOpenAICompleter(openaipkg.NewClient(c.OpenAI.Key, c.OpenAI.BaseURL), c.OpenAI.Model)
	case cost.ProviderGemini:
		client, err := geminipkg.NewClient(ctx, c.Gemini.Key)
		if err != nil {
			return nil, eris.Wrap(err, "init gemini client")
		}
		env.closers = append(env.closers, client.Close)
		completer = oracle.NewGeminiCompleter(client, c.Gemini.Model)
	default:
		return nil, eris.Errorf("unsupported oracle provider: %s", c.Oracle.Provider)
	}

	rules, err := oracle.LoadRules(c.Oracle.RulesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load oracle rules")
	}

	opts := []oracle.Option{
		oracle.WithRules(rules),
		oracle.WithTemperature(c.Oracle.Temperature),
		oracle.WithMaxTokens(c.Oracle.MaxTokens),
		oracle.WithTimeout(time.Duration(c.Oracle.TimeoutSecs) * time.Second),
		oracle.WithRetry(resilience.FromRetryConfig(
			c.Retry.MaxAttempts, c.Retry.InitialBackoffMS, c.Retry.MaxBackoffMS,
			c.Retry.Multiplier, c.Retry.JitterFraction,
		)),
		oracle.WithRateLimit(c.Oracle.RateLimitRPS, c.Oracle.RateBurst),
		oracle.WithCalculator(cost.NewCalculator(c.Pricing)),
	}
	if c.Circuit.Enabled {
		opts = append(opts, oracle.WithCircuitBreaker(resilience.NewCircuitBreaker(
			resilience.FromCircuitConfig(completer.Provider(), c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs),
		)))
	}

	env.Adapter = oracle.New(completer, opts...)
	zap.L().Info("oracle ready",
		zap.String("provider", completer.Provider()),
		zap.String("model", completer.Model()),
	)
	return env, nil
}

// pipelineOptions maps configuration onto pipeline options.
func pipelineOptions(c *config.Config, rules *oracle.Rules) pipeline.Options {
	return pipeline.Options{
		ConfidenceThreshold: c.Pipeline.ConfidenceThreshold,
		BatchSize:           c.Pipeline.BatchSize,
		Concurrency:         c.Pipeline.Concurrency,
		StripLegalSuffixes:  c.Pipeline.StripLegalSuffixes,
		Nicknames:           rules,
		MaxAttempts:         c.Retry.MaxAttempts,
	}
}

func newAlerter(c *config.Config) *monitoring.Alerter {
	return monitoring.NewAlerter(monitoring.Config{
		WebhookURL:           c.Monitoring.WebhookURL,
		FailureRateThreshold: c.Monitoring.FailureRateThreshold,
		CostThresholdUSD:     c.Monitoring.CostThresholdUSD,
		SuspiciousThreshold:  c.Monitoring.SuspiciousThreshold,
	})
}
