package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldKind constrains a required field's JSON type.
type FieldKind int

const (
	KindAny FieldKind = iota
	KindString
	KindNumber
	KindBool
	KindTimestamp // RFC 3339 string
)

// Shape declares a partition file's record shape. Writes validate against
// it and malformed entries are rejected before touching disk.
type Shape struct {
	Required map[string]FieldKind
}

// validate checks that every required field is present with the right kind.
func (s Shape) validate(entry map[string]any) error {
	for field, kind := range s.Required {
		v, ok := entry[field]
		if !ok {
			return fmt.Errorf("missing required field %q", field)
		}
		if err := checkKind(v, kind); err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
	}
	return nil
}

func checkKind(v any, kind FieldKind) error {
	switch kind {
	case KindAny:
		return nil
	case KindString:
		if _, ok := v.(string); !ok {
			return errors.New("expected string")
		}
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
		default:
			return errors.New("expected number")
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return errors.New("expected bool")
		}
	case KindTimestamp:
		s, ok := v.(string)
		if !ok {
			return errors.New("expected RFC 3339 string")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("expected RFC 3339 string: %w", err)
		}
	}
	return nil
}

// tsOnly is the permissive shape for free-form partitions.
var tsOnly = Shape{Required: map[string]FieldKind{"ts": KindTimestamp}}

// runtimeShapes declares the known runtime files. Unknown runtime files
// fall back to the ts-only shape.
var runtimeShapes = map[string]Shape{
	"action_outcomes.jsonl": {Required: map[string]FieldKind{
		"ts":      KindTimestamp,
		"job_id":  KindString,
		"task":    KindString,
		"success": KindBool,
	}},
	"anomalies.jsonl": {Required: map[string]FieldKind{
		"ts":       KindTimestamp,
		"type":     KindString,
		"severity": KindString,
	}},
	"confidence_history.jsonl": {Required: map[string]FieldKind{
		"ts":         KindTimestamp,
		"task":       KindString,
		"confidence": KindNumber,
	}},
	"recovery_actions.jsonl": {Required: map[string]FieldKind{
		"ts":      KindTimestamp,
		"action":  KindString,
		"success": KindBool,
	}},
}

// shapeFor resolves the record shape governing a partition file.
func shapeFor(partition, filename string) Shape {
	if partition == "runtime" {
		if s, ok := runtimeShapes[filename]; ok {
			return s
		}
	}
	if strings.HasPrefix(partition, "profiles/") {
		return tsOnly
	}
	return tsOnly
}
