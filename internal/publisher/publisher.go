// Package publisher owns the outbound side: one GOOSE frame per unit,
// refreshed from the state store and retransmitted with exponential
// backoff. A state change (new command data) restarts the burst at the
// initial interval with stNum incremented and sqNum reset; every timeout
// retransmission increments sqNum and doubles the interval up to the
// ceiling.
package publisher

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"pcs-simulator/internal/goose"
	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/nameplate"
	"pcs-simulator/internal/observability"
	"pcs-simulator/internal/pcs"
	"pcs-simulator/internal/store"
)

// Transmitter puts an encoded frame on the wire. Implementations send on
// both LANs.
type Transmitter interface {
	Send(raw []byte) error
}

// Config tunes the retransmission schedule.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// FirstWaitPoll bounds how long a shutdown request can go unnoticed
	// while waiting for the first command.
	FirstWaitPoll time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 2 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.FirstWaitPoll <= 0 {
		c.FirstWaitPoll = 100 * time.Millisecond
	}
	return c
}

type unitFrame struct {
	logicalID uint16
	mapping   pcs.TypeMapping
	frame     goose.Frame
}

// Publisher drives the retransmission loop for all configured units.
type Publisher struct {
	cfg     Config
	store   *store.Store
	tx      Transmitter
	signal  *Signal
	frames  []*unitFrame
	log     logging.Logger
	metrics *observability.Collector
	now     func() time.Time
}

// New initializes one frame per nameplate. A nameplate whose PCS type has
// no mapping is a configuration error.
func New(cfg Config, nps []nameplate.Nameplate, mappings pcs.TypeMappings, st *store.Store, tx Transmitter, sig *Signal, log logging.Logger, metrics *observability.Collector) (*Publisher, error) {
	if log == nil {
		log = logging.Noop()
	}
	p := &Publisher{
		cfg:     cfg.withDefaults(),
		store:   st,
		tx:      tx,
		signal:  sig,
		log:     log.With(logging.String("component", "publisher")),
		metrics: metrics,
		now:     time.Now,
	}
	for _, np := range nps {
		mapping, ok := mappings.Lookup(np.PcsType)
		if !ok {
			return nil, fmt.Errorf("publisher: no type mapping for PCS type %q (logical id %d)", np.PcsType, np.LogicalID)
		}
		p.frames = append(p.frames, &unitFrame{
			logicalID: np.LogicalID,
			mapping:   mapping,
			frame:     InitFrame(np, mapping),
		})
	}
	return p, nil
}

// Run blocks until ctx is cancelled. Nothing is sent before the first
// command arrives, so startup never floods the network with zero frames.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("waiting for first command", logging.Int("frames", len(p.frames)))
	for !p.signal.Wait(ctx, p.cfg.FirstWaitPoll) {
		if ctx.Err() != nil {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	p.log.Info("first command received, starting retransmission")

	stateChange := true
	interval := p.cfg.InitialInterval
	for {
		p.transmit(stateChange)

		if !stateChange && interval < p.cfg.MaxInterval {
			interval *= 2
			if interval > p.cfg.MaxInterval {
				interval = p.cfg.MaxInterval
			}
		}
		stateChange = p.signal.Wait(ctx, interval)
		if ctx.Err() != nil {
			return nil
		}
		if stateChange {
			interval = p.cfg.InitialInterval
		}
	}
}

// transmit refreshes, re-sequences and sends every unit frame. A schema
// mismatch skips only that unit; its frame keeps the last good values.
func (p *Publisher) transmit(stateChange bool) {
	t := utcTimestamp(p.now())
	for _, uf := range p.frames {
		view, err := p.store.View(uf.logicalID)
		if err != nil {
			p.log.Error("state read failed", logging.Uint16("logical_id", uf.logicalID), logging.Err(err))
			continue
		}
		values := FeedbackValues(&uf.frame, uf.mapping, view)
		if err := UpdateFrame(&uf.frame, uf.mapping, values); err != nil {
			p.metrics.RecordSchemaMismatch()
			p.log.Warn("frame update rejected", logging.Uint16("logical_id", uf.logicalID), logging.Err(err))
			continue
		}

		if stateChange {
			uf.frame.Pdu.StNum++
			uf.frame.Pdu.SqNum = 0
		} else {
			uf.frame.Pdu.SqNum++
		}
		uf.frame.Pdu.T = t

		raw, err := goose.Encode(&uf.frame)
		if err != nil {
			p.log.Error("frame encode failed", logging.Uint16("logical_id", uf.logicalID), logging.Err(err))
			continue
		}
		if err := p.tx.Send(raw); err != nil {
			p.log.Error("frame send failed", logging.Uint16("logical_id", uf.logicalID), logging.Err(err))
			continue
		}
		p.metrics.RecordPublished()
	}
}

// utcTimestamp renders t as an IEC 61850 UtcTime: four bytes of seconds,
// three bytes of binary second fraction, one quality byte.
func utcTimestamp(t time.Time) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint32(out[:4], uint32(t.Unix()))
	frac := uint32(uint64(t.Nanosecond()) << 24 / 1e9)
	out[4] = byte(frac >> 16)
	out[5] = byte(frac >> 8)
	out[6] = byte(frac)
	out[7] = 0x18 // 24 bits of fraction accuracy
	return out
}
