package accessory

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/hubproto"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// DefaultFullLoadThreshold is the accessory count above which a payload is
// always treated as a full load.
const DefaultFullLoadThreshold = 3

// LoadMode distinguishes snapshot replacement from snapshot merge.
type LoadMode int

const (
	LoadFull LoadMode = iota
	LoadIncremental
)

func (m LoadMode) String() string {
	if m == LoadFull {
		return "full"
	}
	return "incremental"
}

// Result describes the outcome of one Apply.
type Result struct {
	Mode LoadMode
	// Redundant is set when a full payload repeated the previous one byte for
	// byte. Deltas is empty in that case.
	Redundant   bool
	Deltas      []Delta
	Accessories int
	// Skipped counts accessories without identity and characteristics whose
	// value did not fit their format.
	Skipped int
}

// View is an immutable picture of the store taken after a load. Callers must
// not modify anything reachable from it.
type View struct {
	Accessories []Accessory
	Index       *Index
	// Raw is the most recent accessories-data payload, kept even when it
	// failed to decode.
	Raw       json.RawMessage
	Loaded    bool
	UpdatedAt time.Time

	positions map[string]int
}

// Accessory returns the accessory with identity.
func (v *View) Accessory(identity string) (*Accessory, bool) {
	pos, ok := v.positions[identity]
	if !ok {
		return nil, false
	}
	return &v.Accessories[pos], true
}

// Config configures a Store.
type Config struct {
	FullLoadThreshold int
}

// Store is the canonical mirror of hub accessories. Apply calls are
// serialized; readers see only whole Views published after each load.
type Store struct {
	mu          sync.Mutex
	threshold   int
	accessories map[string]*Accessory
	order       []string
	loaded      bool
	lastFull    []byte

	view atomic.Pointer[View]

	logger  *slog.Logger
	metrics *storeMetrics
	now     func() time.Time
}

// NewStore creates an empty store. registry may be nil.
func NewStore(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Store, error) {
	if cfg.FullLoadThreshold < 1 {
		cfg.FullLoadThreshold = DefaultFullLoadThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newStoreMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Store", "NewStore", "register metrics")
	}

	s := &Store{
		threshold:   cfg.FullLoadThreshold,
		accessories: make(map[string]*Accessory),
		logger:      logger.With("component", "accessory-store"),
		metrics:     metrics,
		now:         time.Now,
	}
	s.view.Store(&View{Index: buildIndex(nil), positions: map[string]int{}})
	return s, nil
}

// Apply loads an accessories-data payload and returns the resulting deltas.
// A decode failure leaves the snapshot untouched but still records the raw
// payload.
func (s *Store) Apply(payload json.RawMessage) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := append(json.RawMessage(nil), payload...)

	wire, err := hubproto.DecodeAccessories(raw)
	if err != nil {
		s.publishRaw(raw)
		s.metrics.recordLoad("unknown", "error")
		return Result{}, errors.Wrap(err, "Store", "Apply", "decode accessories-data")
	}

	incoming, skipped := s.convert(wire)

	mode := LoadIncremental
	if len(wire) > s.threshold || !s.loaded {
		mode = LoadFull
	}

	result := Result{Mode: mode, Skipped: skipped}

	switch mode {
	case LoadFull:
		if s.lastFull != nil && bytes.Equal(s.lastFull, raw) {
			result.Redundant = true
			break
		}
		result.Deltas = Diff(s.accessories, incoming)

		s.accessories = make(map[string]*Accessory, len(incoming))
		s.order = s.order[:0]
		for i := range incoming {
			acc := incoming[i]
			s.accessories[acc.Identity] = &acc
			s.order = append(s.order, acc.Identity)
		}
		s.lastFull = raw

	case LoadIncremental:
		result.Deltas = Diff(s.accessories, incoming)

		for _, acc := range incoming {
			if existing, ok := s.accessories[acc.Identity]; ok {
				merged := mergeInto(existing, acc)
				s.accessories[acc.Identity] = &merged
				continue
			}
			added := acc
			s.accessories[acc.Identity] = &added
			s.order = append(s.order, acc.Identity)
		}
		// the next full payload must not be compared against a snapshot
		// this merge has since changed
		s.lastFull = nil
	}

	s.loaded = true
	s.publish(raw)

	result.Accessories = len(s.order)
	s.metrics.recordApply(result)

	s.logger.Debug("Applied accessories-data",
		"mode", mode.String(),
		"redundant", result.Redundant,
		"deltas", len(result.Deltas),
		"accessories", result.Accessories,
		"skipped", skipped)

	return result, nil
}

// convert turns wire accessories into canonical ones, dropping those without
// identity. A repeated identity keeps its first position and its last content.
func (s *Store) convert(wire []hubproto.Accessory) ([]Accessory, int) {
	out := make([]Accessory, 0, len(wire))
	positions := make(map[string]int, len(wire))
	skipped := 0

	for _, w := range wire {
		identity, ok := w.Identity()
		if !ok {
			skipped++
			continue
		}

		acc, bad := fromWire(identity, w)
		skipped += bad

		if pos, dup := positions[identity]; dup {
			out[pos] = acc
			continue
		}
		positions[identity] = len(out)
		out = append(out, acc)
	}

	return out, skipped
}

// publish rebuilds the index and swaps in a fresh view. Must hold s.mu.
func (s *Store) publish(raw json.RawMessage) {
	accessories := make([]Accessory, 0, len(s.order))
	positions := make(map[string]int, len(s.order))
	for _, id := range s.order {
		positions[id] = len(accessories)
		accessories = append(accessories, s.accessories[id].clone())
	}

	s.view.Store(&View{
		Accessories: accessories,
		Index:       buildIndex(accessories),
		Raw:         raw,
		Loaded:      s.loaded,
		UpdatedAt:   s.now(),
		positions:   positions,
	})
}

// publishRaw records a payload that could not be decoded. Must hold s.mu.
func (s *Store) publishRaw(raw json.RawMessage) {
	next := *s.view.Load()
	next.Raw = raw
	s.view.Store(&next)
}

// View returns the latest published view. It is never nil.
func (s *Store) View() *View {
	return s.view.Load()
}

// Snapshot returns the accessories of the latest view in hub order.
func (s *Store) Snapshot() []Accessory {
	return s.View().Accessories
}

// Index returns the lookup index of the latest view.
func (s *Store) Index() *Index {
	return s.View().Index
}

// HasSnapshot reports whether any payload has been loaded.
func (s *Store) HasSnapshot() bool {
	return s.View().Loaded
}

// LastRaw returns the most recent accessories-data payload, or nil.
func (s *Store) LastRaw() json.RawMessage {
	return s.View().Raw
}

// CurrentValue returns the stored value of a characteristic.
func (s *Store) CurrentValue(identity, characteristic string) (Value, bool) {
	acc, ok := s.View().Accessory(identity)
	if !ok {
		return Value{}, false
	}
	c, ok := acc.Characteristic(characteristic)
	if !ok {
		return Value{}, false
	}
	return c.Value, true
}
