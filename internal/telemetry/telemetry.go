package telemetry

import "time"

// Sample is one timestamped reading of a controller channel. Samples are
// immutable once produced; Seq is monotonic per controller so that the write
// path can detect duplicates and gaps.
type Sample struct {
	ControllerID string
	Channel      string
	Value        float64
	Unit         string
	Timestamp    time.Time
	Seq          uint64
}

// Batch is a bounded group of samples written to the store in one transaction.
type Batch []Sample

// ControllerIDs returns the distinct controller ids present in the batch,
// in first-seen order.
func (b Batch) ControllerIDs() []string {
	seen := make(map[string]struct{}, 2)
	ids := make([]string, 0, 2)
	for _, s := range b {
		if _, ok := seen[s.ControllerID]; ok {
			continue
		}
		seen[s.ControllerID] = struct{}{}
		ids = append(ids, s.ControllerID)
	}

	return ids
}
