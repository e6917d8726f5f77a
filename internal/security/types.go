package security

// The types below mirror the Presidio analyzer/anonymizer REST schemas.
// Field names and JSON tags are fixed by that wire contract.

// AnalyzeRequest asks the analyzer to scan text for PII. Entities, when
// set, restricts detection to those types; this backend passes
// ClinicalEntityTypes rather than sweeping every recognizer Presidio has.
type AnalyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Entities []string `json:"entities,omitempty"`
}

// AnalyzeResult is one detected PII span in the analyzed text.
type AnalyzeResult struct {
	EntityType     string  `json:"entity_type"`
	Start          int     `json:"start"`
	End            int     `json:"end"`
	Score          float64 `json:"score"`
	RecognizerName string  `json:"recognizer_name,omitempty"`
}

// AnonymizeRequest asks the anonymizer to rewrite the spans the analyzer
// found, using the per-entity-type rules in Anonymizers (keyed by entity
// type, with "DEFAULT" as the fallback).
type AnonymizeRequest struct {
	Text            string                      `json:"text"`
	Anonymizers     map[string]AnonymizerConfig `json:"anonymizers"`
	AnalyzerResults []AnalyzeResult             `json:"analyzer_results"`
}

// AnonymizerConfig selects a redaction operator ("replace", "mask", "hash",
// "redact") and its operator-specific parameters.
type AnonymizerConfig struct {
	Type        string `json:"type"`
	NewValue    string `json:"new_value,omitempty"`
	MaskingChar string `json:"masking_char,omitempty"`
	CharsToMask int    `json:"chars_to_mask,omitempty"`
	FromEnd     bool   `json:"from_end,omitempty"`
}

// AnonymizeResponse carries the rewritten text plus one item per span
// that was touched.
type AnonymizeResponse struct {
	Text  string          `json:"text"`
	Items []AnonymizeItem `json:"items"`
}

// AnonymizeItem describes a single rewritten span in the output text.
type AnonymizeItem struct {
	Start      int    `json:"start"`
	End        int    `json:"end"`
	EntityType string `json:"entity_type"`
	Text       string `json:"text"`
	Operator   string `json:"operator"`
}
