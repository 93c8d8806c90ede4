// Package observability bundles the simulator's Prometheus collectors.
// A nil *Collector is valid everywhere and records nothing, so tests and
// tools can run without a registry.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reason labels used by the packet pipeline.
const (
	DropDecode       = "decode"
	DropUnknownAppID = "unknown_appid"
	DropQueueFull    = "queue_full"
)

// Collector bundles all simulator metrics.
type Collector struct {
	PacketsProcessed   prometheus.Counter
	PacketsDropped     *prometheus.CounterVec
	CommandsApplied    prometheus.Counter
	ExtractionFailures prometheus.Counter
	FramesPublished    prometheus.Counter
	SchemaMismatches   prometheus.Counter
	HistoryDropped     prometheus.Counter
	ValidUnits         *prometheus.GaugeVec
	InvalidUnits       *prometheus.GaugeVec
}

// NewCollector registers the simulator metrics against reg, defaulting to
// the global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcs_packets_processed_total",
			Help: "GOOSE packets fully processed by the pipeline.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_packets_dropped_total",
			Help: "GOOSE packets dropped, labeled by reason.",
		}, []string{"reason"}),
		CommandsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcs_commands_applied_total",
			Help: "Per-unit command extractions applied to the state store.",
		}),
		ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcs_extraction_failures_total",
			Help: "Per-unit command extractions that failed and were skipped.",
		}),
		FramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcs_frames_published_total",
			Help: "Feedback GOOSE frames handed to the transmitter.",
		}),
		SchemaMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcs_schema_mismatches_total",
			Help: "Frame updates rejected because the value set disagreed with the type mapping.",
		}),
		HistoryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pcs_history_dropped_total",
			Help: "History records dropped because the recorder queue was full.",
		}),
		ValidUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pcs_valid_units",
			Help: "Units currently considered fresh, labeled by path (lan1, lan2, combined).",
		}, []string{"path"}),
		InvalidUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pcs_invalid_units",
			Help: "Units currently considered stale, labeled by path (lan1, lan2, combined).",
		}, []string{"path"}),
	}

	for _, col := range []prometheus.Collector{
		c.PacketsProcessed, c.PacketsDropped, c.CommandsApplied,
		c.ExtractionFailures, c.FramesPublished, c.SchemaMismatches,
		c.HistoryDropped, c.ValidUnits, c.InvalidUnits,
	} {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, err
		}
	}
	return c, nil
}

// RecordProcessed counts one fully processed packet.
func (c *Collector) RecordProcessed() {
	if c == nil {
		return
	}
	c.PacketsProcessed.Inc()
}

// RecordDrop counts one dropped packet by reason.
func (c *Collector) RecordDrop(reason string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordCommandApplied counts one committed per-unit command.
func (c *Collector) RecordCommandApplied() {
	if c == nil {
		return
	}
	c.CommandsApplied.Inc()
}

// RecordExtractionFailure counts one skipped unit.
func (c *Collector) RecordExtractionFailure() {
	if c == nil {
		return
	}
	c.ExtractionFailures.Inc()
}

// RecordPublished counts one transmitted feedback frame.
func (c *Collector) RecordPublished() {
	if c == nil {
		return
	}
	c.FramesPublished.Inc()
}

// RecordSchemaMismatch counts one rejected frame update.
func (c *Collector) RecordSchemaMismatch() {
	if c == nil {
		return
	}
	c.SchemaMismatches.Inc()
}

// RecordHistoryDrop counts one discarded history record.
func (c *Collector) RecordHistoryDrop() {
	if c == nil {
		return
	}
	c.HistoryDropped.Inc()
}

// SetValidity publishes sweep results for one path.
func (c *Collector) SetValidity(path string, valid, invalid int) {
	if c == nil {
		return
	}
	c.ValidUnits.WithLabelValues(path).Set(float64(valid))
	c.InvalidUnits.WithLabelValues(path).Set(float64(invalid))
}
