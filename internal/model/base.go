package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// RawJSON is a JSON document stored and served verbatim
type RawJSON []byte

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("model.RawJSON: UnmarshalJSON on nil pointer")
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	*r = append((*r)[0:0], data...)
	return nil
}

func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return string(r), nil
}

func (r *RawJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append(RawJSON(nil), v...)
	case string:
		*r = RawJSON(v)
	default:
		return errors.New("model.RawJSON: unsupported scan type")
	}
	return nil
}

// Valid reports whether r holds a syntactically valid JSON document
func (r RawJSON) Valid() bool {
	return len(r) > 0 && json.Valid(r)
}
