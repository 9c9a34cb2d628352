package protocol

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports engine counters to Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	frames        *prometheus.CounterVec
	malformed     prometheus.Counter
	commands      prometheus.Counter
	retries       prometheus.Counter
	noReply       prometheus.Counter
	eventsDropped prometheus.Counter
}

// NewMetrics creates the engine counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sscma",
			Subsystem: "protocol",
			Name:      "frames_total",
			Help:      "Frames decoded from the device stream, by type.",
		}, []string{"type"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sscma",
			Subsystem: "protocol",
			Name:      "frames_malformed_total",
			Help:      "Delimited frames that failed to decode.",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sscma",
			Subsystem: "protocol",
			Name:      "commands_total",
			Help:      "Command lines written to the device.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sscma",
			Subsystem: "protocol",
			Name:      "command_retries_total",
			Help:      "Command attempts repeated after a timeout.",
		}),
		noReply: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sscma",
			Subsystem: "protocol",
			Name:      "command_no_reply_total",
			Help:      "Commands that exhausted every attempt without a reply.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sscma",
			Subsystem: "protocol",
			Name:      "events_dropped_total",
			Help:      "Events and logs dropped because the dispatch queue was full.",
		}),
	}

	for _, c := range []prometheus.Collector{m.frames, m.malformed, m.commands, m.retries, m.noReply, m.eventsDropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) frame(t MessageType) {
	if m != nil {
		m.frames.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) malformedFrame() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) command() {
	if m != nil {
		m.commands.Inc()
	}
}

func (m *Metrics) retry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) noReplyCommand() {
	if m != nil {
		m.noReply.Inc()
	}
}

func (m *Metrics) eventDropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}
