package stats

import (
	"encoding/json"
	"strconv"
	"time"
)

// Snapshot is the normalized aggregate view. Missing backend fields
// default to zero values; a snapshot is never nil-valued.
type Snapshot struct {
	Total      float64
	TotalToday float64
	Recent     []Activity
}

// Activity is one recent transaction.
type Activity struct {
	Total           float64
	TransactionDate time.Time
}

// Receipt is one row of the receipt listing.
type Receipt struct {
	ID              string
	Total           float64
	TransactionDate time.Time
}

// listFields is the ordered set of wrapper fields probed when the
// listing endpoint returns an object instead of a bare array.
var listFields = []string{"receipts", "data", "results"}

// NormalizeSnapshot decodes the stats resource defensively: total
// falls back from "total" to "receipts_total" to zero, numbers may
// arrive as JSON numbers or numeric strings, and a malformed body
// yields the zero snapshot rather than an error.
func NormalizeSnapshot(raw json.RawMessage) Snapshot {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Snapshot{Recent: []Activity{}}
	}

	total := asNumber(doc["receipts_total"])
	if v, ok := doc["total"]; ok && v != nil {
		total = asNumber(v)
	}

	snap := Snapshot{
		Total:      total,
		TotalToday: asNumber(doc["total_today"]),
		Recent:     []Activity{},
	}
	if items, ok := doc["recent_receipts"].([]any); ok {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			snap.Recent = append(snap.Recent, Activity{
				Total:           asNumber(m["total"]),
				TransactionDate: asTime(m["transaction_date"]),
			})
		}
	}
	return snap
}

// NormalizeList decodes the receipt listing: a bare array is used
// as-is, otherwise the wrapper fields are probed in a fixed order, and
// anything else yields an empty list.
func NormalizeList(raw json.RawMessage) []Receipt {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Receipt{}
	}

	items, ok := doc.([]any)
	if !ok {
		m, isMap := doc.(map[string]any)
		if isMap {
			for _, field := range listFields {
				if wrapped, found := m[field].([]any); found {
					items, ok = wrapped, true
					break
				}
			}
		}
	}
	if !ok {
		return []Receipt{}
	}

	receipts := make([]Receipt, 0, len(items))
	for _, item := range items {
		m, isMap := item.(map[string]any)
		if !isMap {
			continue
		}
		id := asString(m["receipt_id"])
		if id == "" {
			id = asString(m["id"])
		}
		receipts = append(receipts, Receipt{
			ID:              id,
			Total:           asNumber(m["total"]),
			TransactionDate: asTime(m["transaction_date"]),
		})
	}
	return receipts
}

// asNumber coerces JSON numbers and numeric strings; anything else is 0.
func asNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

// asTime parses RFC 3339 timestamps and the naive datetime format the
// backend emits for transaction dates; unparseable input reads as the
// zero time.
func asTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
