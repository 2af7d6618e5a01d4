package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/reliefops/aidchain/core/model"
)

func newCommandID() string { return uuid.NewString() }

// TelemetrySub is one consumer's view of a device's shared telemetry feed.
// C closes when the consumer cancels or the device disconnects.
type TelemetrySub struct {
	C      <-chan model.Telemetry
	cancel func()
}

// Cancel detaches this consumer. Other consumers of the same feed keep
// receiving samples.
func (s *TelemetrySub) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// sharedFeed fans one device's telemetry out to any number of consumers.
// There is exactly one feed per connected device; a second stream request
// joins the existing feed instead of opening a new device subscription.
type sharedFeed struct {
	mu     sync.Mutex
	subs   map[int]chan model.Telemetry
	next   int
	closed bool
}

func newSharedFeed() *sharedFeed {
	return &sharedFeed{subs: make(map[int]chan model.Telemetry)}
}

// publish delivers the sample to every listener without blocking; a consumer
// that stopped draining loses samples rather than stalling the pump.
func (f *sharedFeed) publish(tm model.Telemetry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, ch := range f.subs {
		select {
		case ch <- tm:
		default:
		}
	}
}

func (f *sharedFeed) subscribe() *TelemetrySub {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan model.Telemetry, 16)
	if f.closed {
		close(ch)
		return &TelemetrySub{C: ch, cancel: func() {}}
	}
	id := f.next
	f.next++
	f.subs[id] = ch
	return &TelemetrySub{C: ch, cancel: func() { f.unsubscribe(id) }}
}

func (f *sharedFeed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(ch)
}

// listeners is the current consumer count.
func (f *sharedFeed) listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// close terminates the feed for all consumers on device disconnect.
func (f *sharedFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
