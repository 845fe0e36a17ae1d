package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/internal/notify"
)

const defaultTrackerCapacity = 10000

// DeliveryStatus is the last known delivery outcome for a challenge key.
type DeliveryStatus struct {
	Delivered  bool      `json:"delivered"`
	Provider   string    `json:"provider,omitempty"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// DeliveryTracker remembers the latest dispatcher result per challenge key so
// support can see whether a code ever left the building.
type DeliveryTracker struct {
	mu       sync.RWMutex
	last     map[string]DeliveryStatus
	capacity int
	logger   *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDeliveryTracker creates a tracker holding at most capacity keys.
func NewDeliveryTracker(capacity int, logger *zap.Logger) *DeliveryTracker {
	if capacity <= 0 {
		capacity = defaultTrackerCapacity
	}
	return &DeliveryTracker{
		last:     make(map[string]DeliveryStatus),
		capacity: capacity,
		logger:   logger.Named("delivery-tracker"),
		done:     make(chan struct{}),
	}
}

// Record stores a dispatcher result.
func (t *DeliveryTracker) Record(result notify.Result) {
	key := domain.ChallengeKey{Identity: result.Recipient, Purpose: result.Purpose}.String()
	status := DeliveryStatus{
		Delivered:  result.Err == nil,
		Provider:   result.Provider,
		Attempts:   result.Attempts,
		FinishedAt: time.Now(),
	}
	if result.Err != nil {
		status.Error = notify.ErrorCode(result.Err)
		if status.Error == "" {
			status.Error = result.Err.Error()
		}
	}
	t.logger.Debug("Delivery result recorded",
		zap.String("job_id", result.JobID),
		zap.Bool("delivered", status.Delivered))

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.last[key]; !exists && len(t.last) >= t.capacity {
		// Evict an arbitrary entry.
		for k := range t.last {
			delete(t.last, k)
			break
		}
	}
	t.last[key] = status
}

// Last returns the latest status for a key.
func (t *DeliveryTracker) Last(key domain.ChallengeKey) (DeliveryStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.last[key.String()]
	return status, ok
}

// Follow consumes results until the channel closes or Stop is called. Stop
// records whatever is already buffered before returning.
func (t *DeliveryTracker) Follow(results <-chan notify.Result) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.done:
				for {
					select {
					case result, ok := <-results:
						if !ok {
							return
						}
						t.Record(result)
					default:
						return
					}
				}
			case result, ok := <-results:
				if !ok {
					return
				}
				t.Record(result)
			}
		}
	}()
}

// Stop ends Follow.
func (t *DeliveryTracker) Stop() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.wg.Wait()
}
