package engine

import (
	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/redirect-resolver/internal/codec"
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
	"github.com/freewebtopdf/redirect-resolver/internal/metrics"
)

// ExportCSV returns the rules as "source,destination,type" lines
func (e *Engine) ExportCSV() string {
	return codec.EncodeCSV(e.store.Snapshot().Rules)
}

// ExportJSON returns the full rule array, pretty printed
func (e *Engine) ExportJSON() string {
	out, err := codec.EncodeJSON(e.store.Snapshot().Rules)
	if err != nil {
		log.Error().Err(err).Msg("Failed to export rules as JSON")
		return "[]"
	}
	return out
}

// ExportYAML returns the rules as a "rules:" YAML document
func (e *Engine) ExportYAML() string {
	out, err := codec.EncodeYAML(e.store.Snapshot().Rules)
	if err != nil {
		log.Error().Err(err).Msg("Failed to export rules as YAML")
		return "rules: []\n"
	}
	return out
}

// Export dispatches on format
func (e *Engine) Export(format codec.Format) string {
	switch format {
	case codec.FormatCSV:
		return e.ExportCSV()
	case codec.FormatYAML:
		return e.ExportYAML()
	default:
		return e.ExportJSON()
	}
}

// ImportCSV adds the rules in text and returns how many were imported
func (e *Engine) ImportCSV(text string) int {
	return e.Import(codec.FormatCSV, text)
}

// ImportJSON adds the rules in text and returns how many were imported
func (e *Engine) ImportJSON(text string) int {
	return e.Import(codec.FormatJSON, text)
}

// ImportYAML adds the rules in text and returns how many were imported
func (e *Engine) ImportYAML(text string) int {
	return e.Import(codec.FormatYAML, text)
}

// Import parses text, validates every row and adds them all in one change.
// Any parse or validation failure imports nothing and returns 0.
func (e *Engine) Import(format codec.Format, text string) int {
	drafts, err := e.ValidateImport(format, text)
	if err != nil {
		log.Warn().Err(err).Str("format", string(format)).Msg("Import aborted")
		metrics.IncImport(string(format), "failed")
		return 0
	}

	if len(drafts) == 0 {
		metrics.IncImport(string(format), "empty")
		return 0
	}

	added := e.store.AddMany(drafts)
	e.refreshRuleGauge()
	metrics.IncImport(string(format), "success")

	log.Info().Str("format", string(format)).Int("imported", len(added)).Msg("Rules imported")
	return len(added)
}

// ValidateImport parses and validates text without changing the rule set
func (e *Engine) ValidateImport(format codec.Format, text string) ([]domain.RuleDraft, error) {
	rows, err := codec.Decode(format, text)
	if err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrImportFailed, "Import could not be parsed", 422, err, map[string]any{"format": format})
	}

	drafts := codec.NormalizeAll(rows, e.cfg.DefaultType)
	for i := range drafts {
		if err := e.validator.ValidateDraft(&drafts[i]); err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrImportFailed, "Import contains an invalid rule", 422, err, map[string]any{"format": format, "row": i + 1})
		}
	}
	return drafts, nil
}
