package natsclient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// DefaultSubjectPrefix roots every mirrored subject.
const DefaultSubjectPrefix = "rtiproxy"

// Publisher is the slice of Client the mirror needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Mirror republishes downstream broadcasts onto NATS subjects:
//
//	<prefix>.accessory.<identity>   one message per accessory-update
//	<prefix>.connection             one message per connection-status
//
// Publishing never blocks the caller beyond the client's buffered write and
// a failed publish is logged and counted only.
type Mirror struct {
	publisher Publisher
	prefix    string
	timeout   time.Duration
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// NewMirror creates a mirror over publisher. An empty prefix uses DefaultSubjectPrefix.
func NewMirror(publisher Publisher, prefix string, registry *metric.MetricsRegistry, logger *slog.Logger) *Mirror {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, "."),
		timeout:   time.Second,
		logger:    logger.With("component", "nats-mirror"),
	}
	if registry != nil {
		m.metrics = registry.CoreMetrics()
	}
	return m
}

// AccessorySubject returns the subject an update for identity is published on.
func (m *Mirror) AccessorySubject(identity string) string {
	return m.prefix + ".accessory." + subjectToken(identity)
}

// ConnectionSubject returns the subject link status changes are published on.
func (m *Mirror) ConnectionSubject() string {
	return m.prefix + ".connection"
}

// PublishUpdate mirrors one accessory-update message.
func (m *Mirror) PublishUpdate(delta accessory.Delta, data []byte) {
	m.publish(m.AccessorySubject(delta.Identity), data)
}

// PublishStatus mirrors one connection-status message.
func (m *Mirror) PublishStatus(_ bool, data []byte) {
	m.publish(m.ConnectionSubject(), data)
}

func (m *Mirror) publish(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	err := m.publisher.Publish(ctx, subject, data)
	if m.metrics != nil {
		m.metrics.RecordNATSPublish(err == nil)
	}
	if err != nil {
		m.logger.Debug("Mirror publish failed", "subject", subject, "error", err)
	}
}

// subjectToken makes identity safe as a single subject token. Dots split
// tokens and whitespace or wildcards are illegal in a published subject.
func subjectToken(identity string) string {
	if identity == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, identity)
}
