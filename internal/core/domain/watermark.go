package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// IDSet is the set of record ids believed to exist at the source for one entity type.
// It marshals to a sorted JSON array.
type IDSet map[RecordID]struct{}

// NewIDSet builds a set from the given ids.
func NewIDSet(ids ...RecordID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts an id. It returns false if the id was already present.
func (s IDSet) Add(id RecordID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove deletes an id. Removing an absent id is a no-op.
func (s IDSet) Remove(id RecordID) {
	delete(s, id)
}

// Contains reports whether the id is in the set.
func (s IDSet) Contains(id RecordID) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the ids in sorted order.
func (s IDSet) Slice() []RecordID {
	ids := make([]RecordID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []RecordID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// Watermark is the per (subscription, entity type) cursor: the time of the last
// successful poll and the id set observed so far.
type Watermark struct {
	// LastPolled is nil only before the first successful poll.
	LastPolled *time.Time `json:"last_polled,omitempty"`
	IDs        IDSet      `json:"ids"`
}

// NewWatermark returns an empty watermark for a bootstrap poll.
func NewWatermark() *Watermark {
	return &Watermark{IDs: NewIDSet()}
}

// Bootstrapped reports whether the entity type has been polled successfully before.
func (w *Watermark) Bootstrapped() bool {
	return w != nil && w.LastPolled != nil
}

// Advance moves LastPolled forward to t. It never moves it backwards.
func (w *Watermark) Advance(t time.Time) {
	t = t.UTC()
	if w.LastPolled != nil && t.Before(*w.LastPolled) {
		return
	}
	w.LastPolled = &t
}

// Clone returns a deep copy.
func (w *Watermark) Clone() *Watermark {
	if w == nil {
		return nil
	}
	c := &Watermark{IDs: make(IDSet, len(w.IDs))}
	for id := range w.IDs {
		c.IDs[id] = struct{}{}
	}
	if w.LastPolled != nil {
		t := *w.LastPolled
		c.LastPolled = &t
	}
	return c
}

// EntityWatermark is a stored watermark together with its key, as returned by listings.
type EntityWatermark struct {
	SubscriptionID string     `json:"subscription_id"`
	EntityType     string     `json:"entity_type"`
	Watermark      *Watermark `json:"watermark"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
