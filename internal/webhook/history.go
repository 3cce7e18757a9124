package webhook

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// DeliveryRecord is one attempt to hand an event to one route.
type DeliveryRecord struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	RouteID    string    `json:"routeId"`
	Target     string    `json:"target"`
	ServiceID  string    `json:"serviceId,omitempty"`
	URL        string    `json:"url,omitempty"`
	Attempt    int       `json:"attempt"`
	Outcome    Outcome   `json:"outcome"`
	Transient  bool      `json:"transient,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
}

// History keeps the most recent delivery records.
type History struct {
	cache *lru.Cache[string, DeliveryRecord]
}

func NewHistory(size int) (*History, error) {
	if size < 1 {
		size = 1
	}

	cache, err := lru.New[string, DeliveryRecord](size)
	if err != nil {
		return nil, err
	}

	return &History{cache: cache}, nil
}

func (h *History) Add(record DeliveryRecord) {
	h.cache.Add(record.ID, record)
}

// Recent returns up to n records, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []DeliveryRecord {
	keys := h.cache.Keys()
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}

	out := make([]DeliveryRecord, 0, n)
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		if record, ok := h.cache.Peek(keys[i]); ok {
			out = append(out, record)
		}
	}
	return out
}

func (h *History) Len() int {
	return h.cache.Len()
}
