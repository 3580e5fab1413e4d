package forge

import (
	"sync"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Build step events
////////////////////////////////////////////////////////////////////////////////

const (
	eventStepStarted    = "step.started"
	eventStepEnded      = "step.ended"
	eventBuildCompleted = "build.completed"
	eventBuildFailed    = "build.failed"
)

type buildEventPayload struct {
	BuildID    string    `json:"build_id"`
	Sequence   int64     `json:"sequence"`
	Step       string    `json:"step,omitempty"`
	StepIndex  int       `json:"step_index,omitempty"`
	TotalSteps int       `json:"total_steps,omitempty"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

type buildEventRecord struct {
	Name    string
	Payload buildEventPayload
}

type buildEventHub struct {
	mu           sync.Mutex
	historyLimit int
	nextSequence int64
	nextSubID    uint64
	records      []buildEventRecord
	subscribers  map[uint64]chan buildEventRecord
}

func newBuildEventHub(historyLimit int) *buildEventHub {
	if historyLimit <= 0 {
		historyLimit = eventHistoryLimit
	}
	return &buildEventHub{
		mu:           sync.Mutex{},
		historyLimit: historyLimit,
		nextSequence: 0,
		nextSubID:    0,
		records:      nil,
		subscribers:  map[uint64]chan buildEventRecord{},
	}
}

func (h *buildEventHub) publish(name string, payload buildEventPayload) {
	if h == nil {
		return
	}
	if payload.At.IsZero() {
		payload.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSequence++
	payload.Sequence = h.nextSequence
	record := buildEventRecord{Name: name, Payload: payload}
	h.records = append(h.records, record)
	if len(h.records) > h.historyLimit {
		h.records = append([]buildEventRecord(nil), h.records[len(h.records)-h.historyLimit:]...)
	}
	// Delivery happens under the lock so a concurrent unsubscribe cannot
	// close a channel mid-send; sends never block, slow subscribers drop.
	for _, ch := range h.subscribers {
		select {
		case ch <- record:
		default:
		}
	}
}

func (h *buildEventHub) subscribe() (uint64, <-chan buildEventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSubID++
	id := h.nextSubID
	ch := make(chan buildEventRecord, eventSubscriberBuffer)
	h.subscribers[id] = ch
	return id, ch
}

func (h *buildEventHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(ch)
}

func (h *buildEventHub) history() []buildEventRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]buildEventRecord(nil), h.records...)
}
