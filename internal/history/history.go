// Package history persists applied commands and validity transitions to
// SQLite through a bounded queue: the hot paths enqueue and move on, a
// single writer goroutine owns the database. A full queue drops the record
// and counts it rather than stalling packet processing.
package history

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/observability"
	"pcs-simulator/internal/pipeline"
	"pcs-simulator/internal/validity"
)

// CommandSample is one applied setpoint command.
type CommandSample struct {
	ID               uint   `gorm:"primaryKey"`
	LogicalID        uint16 `gorm:"index"`
	AppID            uint16
	Lan              uint8
	ActiveEnable     bool
	ReactiveEnable   bool
	ActiveSetpoint   float32
	ReactiveSetpoint float32
	AppliedAt        time.Time `gorm:"index"`
}

// ValidityChange is one validity flag flip on one LAN path.
type ValidityChange struct {
	ID        uint   `gorm:"primaryKey"`
	LogicalID uint16 `gorm:"index"`
	Lan       uint8
	Valid     bool
	At        time.Time `gorm:"index"`
}

// Recorder is the async history writer. It implements the pipeline's
// command sink and the validity engine's transition sink.
type Recorder struct {
	db      *gorm.DB
	q       chan any
	wg      sync.WaitGroup
	log     logging.Logger
	metrics *observability.Collector
}

// Open creates or migrates the database at path and starts the writer.
func Open(path string, queueSize int, log logging.Logger, metrics *observability.Collector) (*Recorder, error) {
	if queueSize <= 0 {
		queueSize = 4096
	}
	if log == nil {
		log = logging.Noop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&CommandSample{}, &ValidityChange{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	r := &Recorder{
		db:      db,
		q:       make(chan any, queueSize),
		log:     log.With(logging.String("component", "history")),
		metrics: metrics,
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r, nil
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for rec := range r.q {
		if err := r.db.Create(rec).Error; err != nil {
			r.log.Warn("history insert failed", logging.Err(err))
		}
	}
}

// enqueue never blocks; a full queue loses the record.
func (r *Recorder) enqueue(rec any) {
	select {
	case r.q <- rec:
	default:
		r.metrics.RecordHistoryDrop()
	}
}

// RecordCommand persists one applied command.
func (r *Recorder) RecordCommand(cmd pipeline.CommandRecord) {
	r.enqueue(&CommandSample{
		LogicalID:        cmd.LogicalID,
		AppID:            cmd.AppID,
		Lan:              uint8(cmd.Lan),
		ActiveEnable:     cmd.Command.ActiveEnable,
		ReactiveEnable:   cmd.Command.ReactiveEnable,
		ActiveSetpoint:   cmd.Command.ActiveSetpoint,
		ReactiveSetpoint: cmd.Command.ReactiveSetpoint,
		AppliedAt:        cmd.At,
	})
}

// RecordTransition persists one validity flip.
func (r *Recorder) RecordTransition(tr validity.Transition) {
	r.enqueue(&ValidityChange{
		LogicalID: tr.LogicalID,
		Lan:       uint8(tr.Lan),
		Valid:     tr.Valid,
		At:        tr.At,
	})
}

// Close drains the queue, then closes the database.
func (r *Recorder) Close() error {
	close(r.q)
	r.wg.Wait()
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
