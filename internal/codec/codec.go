// Package codec maps rules to and from their CSV, JSON and YAML text forms.
package codec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// Format names an import/export representation
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user supplied name onto a Format
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return FormatCSV, nil
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", domain.NewAppError(
			domain.ErrUnsupportedFormat,
			fmt.Sprintf("Unsupported format %q", name),
			400,
			map[string]any{"supported": []Format{FormatCSV, FormatJSON, FormatYAML}},
		)
	}
}

// ContentType returns the MIME type used when serving an export
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

// Row is one imported record before defaults are applied. Nil pointers mark
// fields the input did not carry.
type Row struct {
	Source      string               `json:"source" yaml:"source"`
	Destination string               `json:"destination" yaml:"destination"`
	Type        *domain.RedirectType `json:"type,omitempty" yaml:"type,omitempty"`
	IsRegex     *bool                `json:"is_regex,omitempty" yaml:"is_regex,omitempty"`
	IsEnabled   *bool                `json:"is_enabled,omitempty" yaml:"is_enabled,omitempty"`
	Notes       string               `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// NormalizeDraft applies import defaults: defaultType when the type is absent
// or empty, literal matching and enabled
func NormalizeDraft(row Row, defaultType domain.RedirectType) domain.RuleDraft {
	draft := domain.RuleDraft{
		Source:      row.Source,
		Destination: row.Destination,
		Type:        defaultType,
		IsRegex:     false,
		IsEnabled:   true,
		Notes:       row.Notes,
	}
	if row.Type != nil && *row.Type != "" {
		draft.Type = *row.Type
	}
	if row.IsRegex != nil {
		draft.IsRegex = *row.IsRegex
	}
	if row.IsEnabled != nil {
		draft.IsEnabled = *row.IsEnabled
	}
	return draft
}

// NormalizeAll runs NormalizeDraft over every row
func NormalizeAll(rows []Row, defaultType domain.RedirectType) []domain.RuleDraft {
	drafts := make([]domain.RuleDraft, len(rows))
	for i, row := range rows {
		drafts[i] = NormalizeDraft(row, defaultType)
	}
	return drafts
}

// EncodeCSV writes one "source,destination,type" line per rule. Fields are
// not quoted, so a comma inside a field cannot survive a round trip.
func EncodeCSV(rules []domain.Rule) string {
	var b strings.Builder
	for _, rule := range rules {
		b.WriteString(rule.Source)
		b.WriteByte(',')
		b.WriteString(rule.Destination)
		b.WriteByte(',')
		b.WriteString(string(rule.Type))
		b.WriteByte('\n')
	}
	return b.String()
}

// DecodeCSV parses "source,destination[,type]" lines. Blank lines are
// skipped; any other malformed line fails the whole input.
func DecodeCSV(text string) ([]Row, error) {
	rows := []Row{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}

		fields := strings.Split(raw, ",")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, csvError(line, fmt.Sprintf("expected 2 or 3 fields, got %d", len(fields)))
		}

		// Source and destination are not trimmed
		row := Row{
			Source:      fields[0],
			Destination: fields[1],
		}
		if strings.TrimSpace(row.Source) == "" || strings.TrimSpace(row.Destination) == "" {
			return nil, csvError(line, "source and destination are required")
		}

		if len(fields) == 3 {
			if t := domain.RedirectType(strings.TrimSpace(fields[2])); t != "" {
				if !t.IsValid() {
					return nil, csvError(line, fmt.Sprintf("unknown redirect type %q", t))
				}
				row.Type = &t
			}
		}
		rows = append(rows, row)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return rows, nil
}

func csvError(line int, msg string) error {
	return fmt.Errorf("line %d: %s", line, msg)
}

// EncodeJSON returns the full rule array, indented with two spaces
func EncodeJSON(rules []domain.Rule) (string, error) {
	if rules == nil {
		rules = []domain.Rule{}
	}
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal rules: %w", err)
	}
	return string(data), nil
}

// DecodeJSON parses an array of rule objects. Identity, counters and
// timestamps in the input are ignored.
func DecodeJSON(text string) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// yamlDocument is the YAML export layout
type yamlDocument struct {
	Rules []domain.Rule `yaml:"rules"`
}

type yamlImport struct {
	Rules []Row `yaml:"rules"`
}

// EncodeYAML returns the rules as a "rules:" document
func EncodeYAML(rules []domain.Rule) (string, error) {
	if rules == nil {
		rules = []domain.Rule{}
	}
	data, err := yaml.Marshal(yamlDocument{Rules: rules})
	if err != nil {
		return "", fmt.Errorf("failed to marshal rules: %w", err)
	}
	return string(data), nil
}

// DecodeYAML parses a "rules:" document with the same field mapping as JSON
func DecodeYAML(text string) ([]Row, error) {
	var doc yamlImport
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc.Rules == nil {
		doc.Rules = []Row{}
	}
	return doc.Rules, nil
}

// Encode dispatches to the encoder for format
func Encode(format Format, rules []domain.Rule) (string, error) {
	switch format {
	case FormatCSV:
		return EncodeCSV(rules), nil
	case FormatYAML:
		return EncodeYAML(rules)
	default:
		return EncodeJSON(rules)
	}
}

// Decode dispatches to the decoder for format
func Decode(format Format, text string) ([]Row, error) {
	switch format {
	case FormatCSV:
		return DecodeCSV(text)
	case FormatYAML:
		return DecodeYAML(text)
	default:
		return DecodeJSON(text)
	}
}
