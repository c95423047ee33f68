// Package docmapper translates between caller-facing JSON documents and the engine-native
// form stored in splits, where every field holds an array of values.
//
// A DocMapper crosses the RPC boundary as its serialized Config; FromJSON rebuilds it.
package docmapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// FieldType is the value type of a mapped field.
type FieldType string

// Field types.
const (
	TypeText FieldType = "text"
	TypeI64  FieldType = "i64"
	TypeU64  FieldType = "u64"
	TypeF64  FieldType = "f64"
)

// Tokenizers.
const (
	TokenizerDefault = "default"
	TokenizerRaw     = "raw"
)

// Mapper types.
const (
	TypeDefault     = "default"
	TypePassthrough = "passthrough"
)

// FieldMapping describes one field.
type FieldMapping struct {
	Name      string    `json:"name" yaml:"name"`
	Type      FieldType `json:"type" yaml:"type"`
	Indexed   bool      `json:"indexed" yaml:"indexed"`
	Fast      bool      `json:"fast" yaml:"fast"`
	Tokenizer string    `json:"tokenizer,omitempty" yaml:"tokenizer,omitempty"`
}

// Config is the serialized form of a DocMapper.
type Config struct {
	Type                string         `json:"type" yaml:"type"`
	FieldMappings       []FieldMapping `json:"field_mappings" yaml:"field_mappings"`
	TimestampField      string         `json:"timestamp_field,omitempty" yaml:"timestamp_field,omitempty"`
	TagFields           []string       `json:"tag_fields,omitempty" yaml:"tag_fields,omitempty"`
	DefaultSearchFields []string       `json:"default_search_fields,omitempty" yaml:"default_search_fields,omitempty"`
}

// EngineDoc is a document in engine-native form.
type EngineDoc map[string][]any

// DocMapper is the pluggable schema of an index.
type DocMapper interface {
	Config() Config
	Field(name string) (FieldMapping, bool)
	Fields() []FieldMapping
	TimestampField() string
	TagFields() []string
	DefaultSearchFields() []string
	// Tokenize splits a text value of field into indexable terms.
	Tokenize(field, text string) []string
	// ToEngineDoc parses a caller document.
	ToEngineDoc(callerJSON []byte) (EngineDoc, error)
	// ToCallerJSON renders an engine-native document for callers.
	ToCallerJSON(engineJSON []byte) (json.RawMessage, error)
}

// Validate checks a mapper config.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeDefault, TypePassthrough:
	default:
		return fmt.Errorf("unknown doc mapper type %q", c.Type)
	}
	seen := make(map[string]FieldMapping, len(c.FieldMappings))
	for _, f := range c.FieldMappings {
		if f.Name == "" {
			return fmt.Errorf("field mapping without name")
		}
		if strings.ContainsAny(f.Name, ": ") {
			return fmt.Errorf("field name %q must not contain ':' or spaces", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		switch f.Type {
		case TypeText, TypeI64, TypeU64, TypeF64:
		default:
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		switch f.Tokenizer {
		case "", TokenizerDefault, TokenizerRaw:
		default:
			return fmt.Errorf("field %q: unknown tokenizer %q", f.Name, f.Tokenizer)
		}
		seen[f.Name] = f
	}
	if c.TimestampField != "" {
		f, ok := seen[c.TimestampField]
		if !ok || f.Type != TypeI64 || !f.Fast {
			return fmt.Errorf("timestamp field %q must be a fast i64 field", c.TimestampField)
		}
	}
	for _, name := range c.TagFields {
		f, ok := seen[name]
		if !ok || !f.Indexed {
			return fmt.Errorf("tag field %q must be an indexed field", name)
		}
	}
	for _, name := range c.DefaultSearchFields {
		f, ok := seen[name]
		if !ok || !f.Indexed {
			return fmt.Errorf("default search field %q must be an indexed field", name)
		}
	}
	return nil
}

// FromJSON rebuilds a DocMapper from its serialized config.
func FromJSON(s string) (DocMapper, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return nil, fmt.Errorf("decode doc mapper: %w", err)
	}
	return New(cfg)
}

// New builds a DocMapper for cfg.
func New(cfg Config) (DocMapper, error) {
	if cfg.Type == "" {
		cfg.Type = TypeDefault
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := base{cfg: cfg, fields: make(map[string]FieldMapping, len(cfg.FieldMappings))}
	for _, f := range cfg.FieldMappings {
		b.fields[f.Name] = f
	}
	if cfg.Type == TypePassthrough {
		return &passthroughMapper{base: b}, nil
	}
	return &defaultMapper{base: b}, nil
}

// MarshalConfig serializes a mapper for the wire.
func MarshalConfig(m DocMapper) (string, error) {
	data, err := json.Marshal(m.Config())
	if err != nil {
		return "", fmt.Errorf("encode doc mapper: %w", err)
	}
	return string(data), nil
}

type base struct {
	cfg    Config
	fields map[string]FieldMapping
}

func (b *base) Config() Config { return b.cfg }

func (b *base) Field(name string) (FieldMapping, bool) {
	f, ok := b.fields[name]
	return f, ok
}

func (b *base) Fields() []FieldMapping { return slices.Clone(b.cfg.FieldMappings) }

func (b *base) TimestampField() string { return b.cfg.TimestampField }

func (b *base) TagFields() []string { return b.cfg.TagFields }

func (b *base) DefaultSearchFields() []string { return b.cfg.DefaultSearchFields }

func (b *base) Tokenize(field, text string) []string {
	f, ok := b.fields[field]
	if ok && (f.Tokenizer == TokenizerRaw || f.Type != TypeText) {
		return []string{text}
	}
	return Tokenize(text)
}

// parseCaller decodes a caller document into per-field arrays, checking mapped fields.
func (b *base) parseCaller(callerJSON []byte, keepUnmapped bool) (EngineDoc, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(callerJSON))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc := make(EngineDoc, len(raw))
	for name, v := range raw {
		f, mapped := b.fields[name]
		if !mapped && !keepUnmapped {
			continue
		}
		values, ok := v.([]any)
		if !ok {
			values = []any{v}
		}
		if mapped {
			for i, val := range values {
				norm, err := normalize(f, val)
				if err != nil {
					return nil, err
				}
				values[i] = norm
			}
		}
		doc[name] = values
	}
	if ts := b.cfg.TimestampField; ts != "" && len(doc[ts]) == 0 {
		return nil, fmt.Errorf("document is missing timestamp field %q", ts)
	}
	return doc, nil
}

func normalize(f FieldMapping, v any) (any, error) {
	if f.Type == TypeText {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q: expected string, got %T", f.Name, v)
		}
		return s, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("field %q: expected number, got %T", f.Name, v)
	}
	if _, err := EncodeNumber(f.Type, n); err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	return n, nil
}

// defaultMapper keeps mapped fields only and unwraps single-valued arrays for callers.
type defaultMapper struct{ base }

func (m *defaultMapper) ToEngineDoc(callerJSON []byte) (EngineDoc, error) {
	return m.parseCaller(callerJSON, false)
}

func (m *defaultMapper) ToCallerJSON(engineJSON []byte) (json.RawMessage, error) {
	var doc map[string][]json.RawMessage
	if err := json.Unmarshal(engineJSON, &doc); err != nil {
		return nil, fmt.Errorf("decode engine document: %w", err)
	}
	out := make(map[string]any, len(doc))
	for name, values := range doc {
		if len(values) == 1 {
			out[name] = values[0]
		} else {
			out[name] = values
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// passthroughMapper keeps every field and returns the engine document unchanged.
type passthroughMapper struct{ base }

func (m *passthroughMapper) ToEngineDoc(callerJSON []byte) (EngineDoc, error) {
	return m.parseCaller(callerJSON, true)
}

func (m *passthroughMapper) ToCallerJSON(engineJSON []byte) (json.RawMessage, error) {
	if !json.Valid(engineJSON) {
		return nil, fmt.Errorf("decode engine document: invalid json")
	}
	return slices.Clone(engineJSON), nil
}

// Tokenize lower-cases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
