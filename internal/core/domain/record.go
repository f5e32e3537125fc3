package domain

import "fmt"

// RecordIDField is the payload field carrying a record's identity.
const RecordIDField = "Id"

// RecordID identifies a record at the remote source.
type RecordID string

// Record is an opaque record payload as returned by the source.
// It is passed through to events unchanged.
type Record map[string]any

// ID returns the record identity, or "" if the payload carries none.
func (r Record) ID() RecordID {
	v, ok := r[RecordIDField]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return RecordID(id)
	case RecordID:
		return id
	default:
		return RecordID(fmt.Sprint(id))
	}
}

// RecordRef is the minimal identity of a record, used for update and delete notifications
// that carry no payload.
type RecordRef struct {
	ID RecordID `json:"Id"`
}

// Record returns the minimal payload for a reference: {"Id": id}.
func (r RecordRef) Record() Record {
	return Record{RecordIDField: string(r.ID)}
}

// RefsToRecords converts a list of ids into minimal payloads.
func RefsToRecords(ids []RecordID) []Record {
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, RecordRef{ID: id}.Record())
	}
	return records
}

// DetectionMode indicates how a delta was computed.
type DetectionMode string

const (
	// DetectionModeBootstrap is a full snapshot taken when no watermark exists yet
	DetectionModeBootstrap   DetectionMode = "bootstrap"
	// DetectionModeIncremental queries changes since the last watermark
	DetectionModeIncremental DetectionMode = "incremental"
)

// Delta is the set of created, updated and deleted records detected for one entity type
// in one poll cycle.
type Delta struct {
	Mode    DetectionMode `json:"mode"`
	Created []Record      `json:"created"`
	Updated []Record      `json:"updated"`
	Deleted []Record      `json:"deleted"`
}

// Size returns the total number of records across all buckets.
func (d *Delta) Size() int {
	if d == nil {
		return 0
	}
	return len(d.Created) + len(d.Updated) + len(d.Deleted)
}
