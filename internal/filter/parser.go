package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FilterParser turns the string values a query request carries (an
// entity type name, a timestamp, a comma-separated tag list) into the
// typed values EqualityFilter/RangeFilter/ContainmentFilter operate on,
// optionally checked against a per-field type schema describing a
// noun or verb's metadata shape.
type FilterParser struct {
	fieldTypes map[string]FieldType
}

// NewFilterParser creates a parser. A nil schema disables type
// validation and falls back to type inference.
func NewFilterParser(schema map[string]FieldType) *FilterParser {
	return &FilterParser{
		fieldTypes: schema,
	}
}

// ParseValue parses value according to field's schema type, or infers a
// type from the string itself when no schema was supplied.
func (p *FilterParser) ParseValue(field string, value string) (interface{}, error) {
	if p.fieldTypes == nil {
		return p.inferType(value), nil
	}

	fieldType, ok := p.fieldTypes[field]
	if !ok {
		return nil, NewFilterError("parser", field, "field not found in schema")
	}

	return p.parseTypedValue(value, fieldType)
}

// ParseValues parses a batch of string values for a multi-valued field.
func (p *FilterParser) ParseValues(field string, values []string) ([]interface{}, error) {
	parsed := make([]interface{}, 0, len(values))
	for _, value := range values {
		v, err := p.ParseValue(field, value)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, v)
	}
	return parsed, nil
}

// ValidateField checks if a field exists in the schema
func (p *FilterParser) ValidateField(field string) error {
	if p.fieldTypes == nil {
		return nil
	}
	if _, ok := p.fieldTypes[field]; !ok {
		return NewFilterError("parser", field, "field not found in schema")
	}
	return nil
}

// ValidateFieldType checks that field's schema type is one of expectedTypes.
func (p *FilterParser) ValidateFieldType(field string, expectedTypes ...FieldType) error {
	if p.fieldTypes == nil {
		return nil
	}

	fieldType, ok := p.fieldTypes[field]
	if !ok {
		return NewFilterError("parser", field, "field not found in schema")
	}

	for _, expected := range expectedTypes {
		if fieldType == expected {
			return nil
		}
	}

	return NewFilterError("parser", field, fmt.Sprintf("field type %v not compatible with expected types %v", fieldType, expectedTypes))
}

// GetFieldType returns the type of a field from the schema
func (p *FilterParser) GetFieldType(field string) (FieldType, bool) {
	if p.fieldTypes == nil {
		return StringField, false
	}
	fieldType, ok := p.fieldTypes[field]
	return fieldType, ok
}

func (p *FilterParser) parseTypedValue(value string, fieldType FieldType) (interface{}, error) {
	switch fieldType {
	case StringField:
		return value, nil

	case IntField:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, NewFilterError("parser", "", fmt.Sprintf("invalid integer value: %s", value))
		}
		return v, nil

	case FloatField:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, NewFilterError("parser", "", fmt.Sprintf("invalid float value: %s", value))
		}
		return v, nil

	case BoolField:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, NewFilterError("parser", "", fmt.Sprintf("invalid boolean value: %s", value))
		}
		return v, nil

	case TimeField:
		return p.parseTimeValue(value)

	case StringArrayField:
		if strings.Contains(value, ",") {
			return strings.Split(value, ","), nil
		}
		return []string{value}, nil

	case IntArrayField:
		parts := strings.Split(value, ",")
		result := make([]int64, 0, len(parts))
		for _, part := range parts {
			v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, NewFilterError("parser", "", fmt.Sprintf("invalid integer in array: %s", part))
			}
			result = append(result, v)
		}
		return result, nil

	case FloatArrayField:
		parts := strings.Split(value, ",")
		result := make([]float64, 0, len(parts))
		for _, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, NewFilterError("parser", "", fmt.Sprintf("invalid float in array: %s", part))
			}
			result = append(result, v)
		}
		return result, nil

	default:
		return nil, NewFilterError("parser", "", fmt.Sprintf("unsupported field type: %v", fieldType))
	}
}

// parseTimeValue tries a handful of common layouts before falling back
// to a Unix-seconds timestamp.
func (p *FilterParser) parseTimeValue(value string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}

	if timestamp, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(timestamp, 0), nil
	}

	return time.Time{}, NewFilterError("parser", "", fmt.Sprintf("unable to parse time value: %s", value))
}

// inferType guesses bool, then int, then float, then time, falling back
// to a bare string — used when no schema pins the field's type down.
func (p *FilterParser) inferType(value string) interface{} {
	if boolVal, err := strconv.ParseBool(value); err == nil {
		return boolVal
	}
	if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
		return intVal
	}
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}
	if timeVal, err := p.parseTimeValue(value); err == nil {
		return timeVal
	}
	return value
}

// CreateEqualityFilter creates an equality filter with proper type parsing
func (p *FilterParser) CreateEqualityFilter(field, value string) (*EqualityFilter, error) {
	if err := p.ValidateField(field); err != nil {
		return nil, err
	}

	parsedValue, err := p.ParseValue(field, value)
	if err != nil {
		return nil, err
	}

	return NewEqualityFilter(field, parsedValue), nil
}

// CreateRangeFilter creates a range filter with proper type parsing
func (p *FilterParser) CreateRangeFilter(field, minValue, maxValue string) (*RangeFilter, error) {
	if err := p.ValidateField(field); err != nil {
		return nil, err
	}
	if err := p.ValidateFieldType(field, IntField, FloatField, TimeField, StringField); err != nil {
		return nil, err
	}

	var min, max interface{}
	var err error

	if minValue != "" {
		min, err = p.ParseValue(field, minValue)
		if err != nil {
			return nil, err
		}
	}

	if maxValue != "" {
		max, err = p.ParseValue(field, maxValue)
		if err != nil {
			return nil, err
		}
	}

	return NewRangeFilter(field, min, max), nil
}

// CreateContainmentFilter creates a containment filter with proper type parsing
func (p *FilterParser) CreateContainmentFilter(field string, values []string, mode ContainmentMode) (*ContainmentFilter, error) {
	if err := p.ValidateField(field); err != nil {
		return nil, err
	}

	parsedValues, err := p.ParseValues(field, values)
	if err != nil {
		return nil, err
	}

	return &ContainmentFilter{
		Field:  field,
		Values: parsedValues,
		Mode:   mode,
	}, nil
}
