package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONB holds a raw JSON document stored in a PostgreSQL JSONB column.
// A nil JSONB maps to SQL NULL and to JSON null.
type JSONB []byte

// NewJSONB marshals v into a JSONB value.
func NewJSONB(v any) (JSONB, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONB(data), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case string:
		*j = JSONB(v)
	case []byte:
		*j = append((*j)[:0], v...)
	default:
		return errors.New("unsupported type for JSONB")
	}
	return nil
}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// MarshalJSON emits the stored document unchanged.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores a copy of the raw document.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], data...)
	return nil
}
