// Package telemetry ships sensor readings to their consumers.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Sample is one value of a named series.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Batch holds the samples of one poll cycle, keyed by series name
// (<sensor>.<field>).
type Batch map[string]Sample

// Publisher consumes batches.
type Publisher interface {
	Publish(ctx context.Context, b Batch) error
}

type record struct {
	Ts     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`
}

// Payload encodes b in the ThingsBoard telemetry format: a JSON array of
// {"ts": <unix ms>, "values": {...}} objects, one per distinct timestamp, in
// ascending time order.
func Payload(b Batch) ([]byte, error) {
	byTs := make(map[int64]map[string]float64)
	for name, s := range b {
		ts := s.Timestamp.UnixMilli()
		if byTs[ts] == nil {
			byTs[ts] = make(map[string]float64)
		}
		byTs[ts][name] = s.Value
	}
	records := make([]record, 0, len(byTs))
	for ts, values := range byTs {
		records = append(records, record{Ts: ts, Values: values})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Ts < records[j].Ts })
	return json.Marshal(records)
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, b Batch) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
