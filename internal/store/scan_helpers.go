package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// scanNullString converts sql.NullString to string (empty if NULL)
func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanNullTime converts sql.NullTime to *time.Time (nil if NULL)
func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// decodeJSONColumn unmarshals a JSON text column into dst, treating empty
// text as absent. Malformed stored JSON is a programming error upstream;
// the zero value is kept and no error surfaces to read paths.
func decodeJSONColumn(raw string, dst any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}

// encodeJSONColumn marshals v for storage in a JSON text column.
// Fallback for unmarshalable values is the provided empty literal.
func encodeJSONColumn(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return string(b)
}
