package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Selector is a structural query describing which documents match. It uses
// MongoDB-style operators ($eq, $ne, $gt, $in, $and, ...). A nil or empty
// selector matches every document.
type Selector map[string]interface{}

// Modifier is a structural description of an update to apply to a matched
// document ($set, $unset, $inc, ...).
type Modifier map[string]interface{}

// IsEmpty reports whether the selector matches everything.
func (s Selector) IsEmpty() bool {
	return len(s) == 0
}

// SortField is one entry of a sort specification. Direction is 1 for
// ascending, -1 for descending.
type SortField struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// Projection maps field names to 1 (include) or 0 (exclude). Inclusion and
// exclusion must not be mixed; "id" is special-cased and always included
// unless explicitly excluded with id: 0.
type Projection map[string]int

// Options configures query execution: sort order, pagination and projection.
type Options struct {
	Sort   []SortField `json:"sort,omitempty"`
	Skip   int         `json:"skip,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Fields Projection  `json:"fields,omitempty"`
}

// QueryState describes the lifecycle of a registered live query.
type QueryState string

const (
	// QueryStateActive means the query is registered and an evaluation is
	// pending or in flight.
	QueryStateActive QueryState = "active"

	// QueryStateComplete means the last evaluation succeeded and the cached
	// result is current.
	QueryStateComplete QueryState = "complete"

	// QueryStateError means the last evaluation failed; the error is
	// available through the query error accessor.
	QueryStateError QueryState = "error"
)

// QueryID derives the deterministic identifier for a (selector, options)
// pair. Structurally identical pairs always collapse to the same id, so
// repeated registrations of the same query share one record.
func QueryID(selector Selector, options Options) string {
	payload := struct {
		Selector Selector `json:"selector"`
		Options  Options  `json:"options"`
	}{selector, options}

	// encoding/json marshals map keys in sorted order, which makes the
	// serialization canonical for structurally equal selectors.
	raw, err := json.Marshal(payload)
	if err != nil {
		// Selectors are plain JSON data; marshaling only fails on values
		// that could never have crossed a JSON boundary.
		raw = []byte(err.Error())
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
