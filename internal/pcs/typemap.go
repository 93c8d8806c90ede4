package pcs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"pcs-simulator/internal/goose"
)

// FieldDef is one publisher allData slot: an opaque label plus the wire
// kind at that position.
type FieldDef struct {
	Name string
	Kind goose.Kind
}

// TypeMapping defines the publisher allData layout for one PCS type. Field
// order equals wire order.
type TypeMapping struct {
	PcsType string
	Fields  []FieldDef
}

// TypeMappings is the per-type mapping table, keyed by PCS type tag.
type TypeMappings map[string]TypeMapping

// LoadTypeMappings parses the publisher mapping JSON. Key order inside each
// record defines allData wire order, so the file is walked with a token
// decoder instead of an unordered map. Kind tags are validated here, once;
// the hot path only ever sees the closed Kind enum.
func LoadTypeMappings(path string) (TypeMappings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open type mapping file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := expectDelim(dec, '['); err != nil {
		return nil, fmt.Errorf("type mapping file: %w", err)
	}

	out := make(TypeMappings)
	for dec.More() {
		m, err := decodeMappingRecord(dec)
		if err != nil {
			return nil, err
		}
		if _, dup := out[m.PcsType]; dup {
			return nil, fmt.Errorf("type mapping for %q declared twice", m.PcsType)
		}
		out[m.PcsType] = m
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, fmt.Errorf("type mapping file: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("type mapping file contains no records")
	}
	return out, nil
}

func decodeMappingRecord(dec *json.Decoder) (TypeMapping, error) {
	var m TypeMapping
	if err := expectDelim(dec, '{'); err != nil {
		return m, err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return m, fmt.Errorf("type mapping record: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return m, fmt.Errorf("type mapping record: unexpected key token %v", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return m, fmt.Errorf("type mapping record: %w", err)
		}
		val, ok := valTok.(string)
		if !ok {
			return m, fmt.Errorf("type mapping field %q: value must be a string", key)
		}

		if key == "pcstype" {
			m.PcsType = strings.TrimSpace(val)
			continue
		}
		kind, err := goose.KindFromString(val)
		if err != nil {
			return m, fmt.Errorf("type mapping field %q: %w", key, err)
		}
		m.Fields = append(m.Fields, FieldDef{Name: key, Kind: kind})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return m, err
	}
	if m.PcsType == "" {
		return m, fmt.Errorf("type mapping record is missing pcstype")
	}
	if len(m.Fields) == 0 {
		return m, fmt.Errorf("type mapping for %q has no fields", m.PcsType)
	}
	return m, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// Lookup returns the mapping for a PCS type.
func (t TypeMappings) Lookup(pcsType string) (TypeMapping, bool) {
	m, ok := t[pcsType]
	return m, ok
}

// Validate checks that every nameplate type has a mapping. Called at
// startup so a missing mapping fails the process, not the first publish.
func (t TypeMappings) Validate(types []string) error {
	for _, pt := range types {
		if _, ok := t[pt]; !ok {
			return fmt.Errorf("no type mapping for PCS type %q", pt)
		}
	}
	return nil
}
