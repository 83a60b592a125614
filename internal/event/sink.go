package event

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Sink accepts emitted events. Implementations assign the envelope sequence.
type Sink interface {
	Emit(env Envelope)
}

// New builds an envelope for emission. EventID is fresh; sequence is zero
// until a sink assigns it.
func New(t Type, currencyID uint16, maturity uint64, vault common.Address, payload any, ts time.Time) Envelope {
	return Envelope{
		EventID:    uuid.New(),
		Type:       t,
		TypeName:   t.String(),
		CurrencyID: currencyID,
		Maturity:   maturity,
		Vault:      vault,
		Payload:    payload,
		Timestamp:  ts,
	}
}

// MemorySink collects events in order. Used by tests and as a default when
// no downstream transport is configured.
type MemorySink struct {
	mu     sync.Mutex
	seq    int64
	events []Envelope
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	env.Sequence = s.seq
	s.events = append(s.events, env)
}

// Events returns a copy of all collected events.
func (s *MemorySink) Events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.events))
	copy(out, s.events)
	return out
}

// ByType filters collected events by type.
func (s *MemorySink) ByType(t Type) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ChannelSink assigns sequences and fans out to a blocking persistence
// channel and a non-blocking publish channel. Mirrors the backpressure
// split used for the daemon's event log: persistence must not lose events,
// publishing may drop when the consumer falls behind.
type ChannelSink struct {
	mu          sync.Mutex
	seq         int64
	persistChan chan<- Envelope
	publishChan chan<- Envelope
	dropped     int64

	dropCounter  Counter
	blockCounter Counter
}

// Counter is the subset of a metrics counter the sink needs. Satisfied by
// prometheus counters.
type Counter interface {
	Inc()
}

func NewChannelSink(startSequence int64, persistChan, publishChan chan<- Envelope) *ChannelSink {
	return &ChannelSink{
		seq:         startSequence,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// WithMetrics attaches counters for publish drops and persist backpressure.
func (s *ChannelSink) WithMetrics(drops, backpressure Counter) *ChannelSink {
	s.dropCounter = drops
	s.blockCounter = backpressure
	return s
}

func (s *ChannelSink) Emit(env Envelope) {
	s.mu.Lock()
	s.seq++
	env.Sequence = s.seq
	s.mu.Unlock()

	if s.persistChan != nil {
		select {
		case s.persistChan <- env:
		default:
			// Full persist channel: stall the caller rather than lose the
			// event.
			if s.blockCounter != nil {
				s.blockCounter.Inc()
			}
			s.persistChan <- env
		}
	}

	if s.publishChan != nil {
		select {
		case s.publishChan <- env:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			if s.dropCounter != nil {
				s.dropCounter.Inc()
			}
		}
	}
}

// Dropped reports how many events the publish channel refused.
func (s *ChannelSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
