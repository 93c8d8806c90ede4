// Package pipeline owns the inbound processing path: raw frames captured on
// either LAN are queued on a bounded channel and decoded, routed, recorded
// and (for command frames) applied by a fixed pool of workers.
package pipeline

import (
	"errors"
	"sync"
	"time"

	"pcs-simulator/internal/goose"
	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/observability"
	"pcs-simulator/internal/pcs"
	"pcs-simulator/internal/store"
)

// Item is one captured frame awaiting processing. Raw is owned by the
// pipeline once submitted; callers must not reuse the slice.
type Item struct {
	Lan store.LAN
	Raw []byte
}

// CommandRecord describes a setpoint command that was applied to a unit.
type CommandRecord struct {
	LogicalID uint16
	AppID     uint16
	Lan       store.LAN
	Command   pcs.Command
	At        time.Time
}

// CommandSink receives applied commands, typically for history recording.
// Implementations must not block.
type CommandSink interface {
	RecordCommand(CommandRecord)
}

// Config sizes the worker pool and its queue.
type Config struct {
	Workers   int
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

// Pipeline fans captured frames out to workers over a shared bounded queue.
type Pipeline struct {
	queue    chan Item
	workers  int
	routing  *pcs.RoutingTable
	commands *pcs.CommandMap
	store    *store.Store

	log     logging.Logger
	metrics *observability.Collector
	sink    CommandSink

	now func() time.Time

	wg      sync.WaitGroup
	started bool
}

func New(cfg Config, routing *pcs.RoutingTable, commands *pcs.CommandMap, st *store.Store, log logging.Logger, metrics *observability.Collector, sink CommandSink) *Pipeline {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.Noop()
	}
	return &Pipeline{
		queue:    make(chan Item, cfg.QueueSize),
		workers:  cfg.Workers,
		routing:  routing,
		commands: commands,
		store:    st,
		log:      log.With(logging.String("component", "pipeline")),
		metrics:  metrics,
		sink:     sink,
		now:      time.Now,
	}
}

// Submit enqueues a frame without blocking. When the queue is full the frame
// is dropped and counted; the capture path must never stall behind slow
// workers.
func (p *Pipeline) Submit(item Item) bool {
	select {
	case p.queue <- item:
		return true
	default:
		p.metrics.RecordDrop(observability.DropQueueFull)
		p.log.Warn("queue full, frame dropped", logging.String("lan", item.Lan.String()))
		return false
	}
}

// Start launches the worker pool. Workers exit once Close has been called
// and the queue has drained; an item already picked up is always processed
// to completion.
func (p *Pipeline) Start() {
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			log := p.log.With(logging.Int("worker", id))
			for item := range p.queue {
				p.process(log, item)
			}
		}(i)
	}
}

// Close stops accepting frames and waits for the workers to drain the queue.
func (p *Pipeline) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pipeline) process(log logging.Logger, item Item) {
	frame, err := goose.Decode(item.Raw)
	if err != nil {
		p.metrics.RecordDrop(observability.DropDecode)
		log.Debug("frame discarded", logging.String("lan", item.Lan.String()), logging.Err(err))
		return
	}

	appid := frame.Header.AppID
	target, ok := p.routing.Lookup(appid)
	if !ok {
		p.metrics.RecordDrop(observability.DropUnknownAppID)
		log.Debug("unknown appid", logging.Uint16("appid", appid), logging.String("lan", item.Lan.String()))
		return
	}

	now := p.now()
	if err := p.store.UpdateRaw(target.LogicalID, item.Lan, frame.Pdu.AllData, now); err != nil {
		log.Error("raw update failed", logging.Uint16("logical_id", target.LogicalID), logging.Err(err))
		return
	}
	p.metrics.RecordProcessed()

	ids, isCommand := p.commands.Lookup(appid)
	if !isCommand {
		return
	}
	p.applyCommands(log, item.Lan, appid, ids, frame.Pdu.AllData, now)
}

// applyCommands walks the command group in logical-id order. A malformed
// slot only skips its own unit; siblings in the same frame still apply.
func (p *Pipeline) applyCommands(log logging.Logger, lan store.LAN, appid uint16, ids []uint16, allData []goose.Value, now time.Time) {
	n := len(ids)
	for index, id := range ids {
		cmd, err := pcs.ExtractCommand(allData, n, index)
		if err != nil {
			p.metrics.RecordExtractionFailure()
			log.Warn("command extraction failed",
				logging.Uint16("appid", appid),
				logging.Uint16("logical_id", id),
				logging.Int("index", index),
				logging.Err(err))
			if errors.Is(err, pcs.ErrLayoutMismatch) {
				// the whole frame has the wrong shape, no slot can be read
				return
			}
			continue
		}
		if err := p.store.ApplyCommand(id, cmd.ActiveEnable, cmd.ReactiveEnable, cmd.ActiveSetpoint, cmd.ReactiveSetpoint); err != nil {
			log.Error("command apply failed", logging.Uint16("logical_id", id), logging.Err(err))
			continue
		}
		p.metrics.RecordCommandApplied()
		if p.sink != nil {
			p.sink.RecordCommand(CommandRecord{
				LogicalID: id,
				AppID:     appid,
				Lan:       lan,
				Command:   cmd,
				At:        now,
			})
		}
	}
}
