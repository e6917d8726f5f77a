package security

import (
	"context"

	"github.com/rs/zerolog"
)

// PresidioClient handles PII detection and redaction using Microsoft Presidio
type PresidioClient struct {
	analyzer   *Analyzer
	anonymizer *Anonymizer
	config     *PresidioConfig
	logger     zerolog.Logger
}

// NewPresidioClient creates a new Presidio client
func NewPresidioClient(config *PresidioConfig, logger zerolog.Logger) *PresidioClient {
	return &PresidioClient{
		analyzer:   NewAnalyzer(config.AnalyzerURL, config.Language, config.Timeout, logger),
		anonymizer: NewAnonymizer(config.AnonymizerURL, config.Timeout, logger),
		config:     config,
		logger:     logger,
	}
}

// RedactPII analyzes and anonymizes text in one call, using language (a
// BCP-47-ish code such as "es" or "en") to select the Presidio NLP model for
// this particular utterance instead of one fixed language for the whole
// client. Pass "" to fall back to the client's configured default language.
func (c *PresidioClient) RedactPII(ctx context.Context, text, language string) (string, error) {
	if !c.config.Enabled {
		return text, nil
	}

	if text == "" {
		return text, nil
	}

	// An empty (non-nil) EntityTypes list means detect nothing.
	if c.config.ShouldDetectNothing() {
		return text, nil
	}

	// Step 1: Analyze to detect PII
	analyzeResults, err := c.analyzer.Analyze(ctx, text, language, c.config.EntityTypes)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug().Err(err).Msg("PII analysis skipped, deadline exceeded")
		} else {
			c.logger.Warn().Err(err).Msg("failed to analyze text for PII")
		}
		// Fail-safe: return original text (don't block the conversation)
		return text, err
	}

	// If no PII detected, return original text
	if len(analyzeResults) == 0 {
		return text, nil
	}

	// Step 2: Anonymize detected PII
	anonymizers := c.config.BuildAnonymizersMap()
	redactedText, err := c.anonymizer.Anonymize(ctx, text, analyzeResults, anonymizers)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug().Err(err).Msg("PII anonymization skipped, deadline exceeded")
		} else {
			c.logger.Warn().Err(err).Msg("failed to anonymize text")
		}
		// Fail-safe: return original text (don't block the conversation)
		return text, err
	}

	return redactedText, nil
}

// HealthCheck verifies that both Presidio services are running
func (c *PresidioClient) HealthCheck(ctx context.Context) error {
	if !c.config.Enabled {
		c.logger.Debug().Msg("Presidio disabled, skipping health check")
		return nil
	}

	// Check analyzer
	if err := c.analyzer.HealthCheck(ctx); err != nil {
		return err
	}

	// Check anonymizer
	if err := c.anonymizer.HealthCheck(ctx); err != nil {
		return err
	}

	c.logger.Info().Msg("Presidio health check passed")
	return nil
}
