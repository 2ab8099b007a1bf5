package store

import (
	"bytes"
	"encoding/json"
	"math"
)

// decodeRecord reads a JSON payload. Integral numbers in Variables come back
// as int and the rest as float64, so a record read from a JSON-backed store
// matches what MemoryStore returns for int and float64 values.
func decodeRecord(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	for k, v := range rec.Variables {
		rec.Variables[k] = normalizeNumbers(v)
	}
	return &rec, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil && n >= math.MinInt && n <= math.MaxInt {
			return int(n)
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeNumbers(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeNumbers(item)
		}
		return t
	default:
		return v
	}
}
