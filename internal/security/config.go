package security

import "time"

// ClinicalEntityTypes are the Presidio entity types worth flagging in a
// transcribed clinical encounter. Unlike a generic DLP sweep, this list
// excludes categories that are expected to appear constantly in medical
// speech and carry no redaction value on their own (e.g. plain NRP/URL
// detections), and includes entities most likely to identify a patient
// or a specific prior clinician.
var ClinicalEntityTypes = []string{
	"PERSON",
	"PHONE_NUMBER",
	"EMAIL_ADDRESS",
	"LOCATION",
	"DATE_TIME",
	"US_SSN",
	"MEDICAL_LICENSE",
}

// PresidioConfig holds configuration for Presidio DLP
type PresidioConfig struct {
	Enabled          bool
	AnalyzerURL      string
	AnonymizerURL    string
	Language         string
	EntityTypes      []string                    // nil = detect all, []string{} = detect nothing, ["TYPE"] = specific types
	AnonymizerRules  map[string]AnonymizerConfig // Optional: custom redaction per entity type
	DefaultRedaction AnonymizerConfig            // Required: fallback for all entities

	// Timeout bounds every Presidio HTTP call. RedactPII runs synchronously
	// inside the Post-Transcription Pipeline, on the hot path between a
	// completed STT transcript and the translation/command-detection steps
	// that follow it, so it cannot afford the 10s default an offline batch
	// job could tolerate.
	Timeout time.Duration
}

// NewPresidioConfig creates a new Presidio configuration with secure defaults
func NewPresidioConfig() *PresidioConfig {
	return &PresidioConfig{
		Enabled:       false,
		AnalyzerURL:   "http://localhost:5001",
		AnonymizerURL: "http://localhost:5002",
		Language:      "en",
		EntityTypes:   ClinicalEntityTypes,
		DefaultRedaction: AnonymizerConfig{
			Type:     "replace",
			NewValue: "<PII>",
		},
		AnonymizerRules: make(map[string]AnonymizerConfig), // Empty by default
		Timeout:         2 * time.Second,
	}
}

// WithEnabled enables or disables Presidio
func (c *PresidioConfig) WithEnabled(enabled bool) *PresidioConfig {
	c.Enabled = enabled
	return c
}

// WithURLs sets the analyzer and anonymizer URLs
func (c *PresidioConfig) WithURLs(analyzerURL, anonymizerURL string) *PresidioConfig {
	c.AnalyzerURL = analyzerURL
	c.AnonymizerURL = anonymizerURL
	return c
}

// WithLanguage sets the language for detection
func (c *PresidioConfig) WithLanguage(lang string) *PresidioConfig {
	c.Language = lang
	return c
}

// WithEntityTypes sets which entity types to detect
func (c *PresidioConfig) WithEntityTypes(types []string) *PresidioConfig {
	c.EntityTypes = types
	return c
}

// WithAnonymizerRule adds a custom anonymization rule for a specific entity type
func (c *PresidioConfig) WithAnonymizerRule(entityType string, config AnonymizerConfig) *PresidioConfig {
	if c.AnonymizerRules == nil {
		c.AnonymizerRules = make(map[string]AnonymizerConfig)
	}
	c.AnonymizerRules[entityType] = config
	return c
}

// WithDefaultRedaction sets the fallback redaction strategy
func (c *PresidioConfig) WithDefaultRedaction(config AnonymizerConfig) *PresidioConfig {
	c.DefaultRedaction = config
	return c
}

// WithTimeout overrides the per-call HTTP timeout.
func (c *PresidioConfig) WithTimeout(d time.Duration) *PresidioConfig {
	c.Timeout = d
	return c
}

// ShouldDetectAllEntities returns true if all entity types should be detected
func (c *PresidioConfig) ShouldDetectAllEntities() bool {
	return c.EntityTypes == nil
}

// ShouldDetectNothing returns true if no entities should be detected
func (c *PresidioConfig) ShouldDetectNothing() bool {
	return c.EntityTypes != nil && len(c.EntityTypes) == 0
}

// BuildAnonymizersMap creates the anonymizers map for the Presidio API request
func (c *PresidioConfig) BuildAnonymizersMap() map[string]AnonymizerConfig {
	anonymizers := make(map[string]AnonymizerConfig)

	// DEFAULT rule applies to all entities that don't have custom rules
	anonymizers["DEFAULT"] = c.DefaultRedaction

	// Add any custom rules (these override DEFAULT for specific entity types)
	for entityType, config := range c.AnonymizerRules {
		anonymizers[entityType] = config
	}

	return anonymizers
}
