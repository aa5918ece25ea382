package executor

import (
	"encoding/json"

	"github.com/okinrev/veza-web-app/internal/storedriver"
)

// toRows snapshots live storedriver.Row cursors into plain maps so they
// can outlive the connection and be cached.
func toRows(driverRows []storedriver.Row) []Row {
	out := make([]Row, 0, len(driverRows))
	for _, r := range driverRows {
		out = append(out, Row(r.Map()))
	}
	return out
}

// encodeRows serializes rows for storage in the query cache.
func encodeRows(rows []Row) []byte {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil
	}
	return b
}

// decodeRows deserializes rows previously produced by encodeRows.
func decodeRows(data []byte) []Row {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil
	}
	return rows
}
