package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Reader is a read-only view of a history database, for offline tooling.
type Reader struct {
	db *gorm.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CommandInfo mirrors one command_samples row for JSON output.
type CommandInfo struct {
	LogicalID        uint16    `json:"logical_id"`
	AppID            uint16    `json:"appid"`
	Lan              uint8     `json:"lan"`
	ActiveEnable     bool      `json:"active_enable"`
	ReactiveEnable   bool      `json:"reactive_enable"`
	ActiveSetpoint   float32   `json:"active_setpoint"`
	ReactiveSetpoint float32   `json:"reactive_setpoint"`
	AppliedAt        time.Time `json:"applied_at"`
}

// TransitionInfo mirrors one validity_changes row for JSON output.
type TransitionInfo struct {
	LogicalID uint16    `json:"logical_id"`
	Lan       uint8     `json:"lan"`
	Valid     bool      `json:"valid"`
	At        time.Time `json:"at"`
}

// LatestCommands returns, per unit, the most recent applied command.
func (r *Reader) LatestCommands(ctx context.Context) ([]CommandInfo, error) {
	sub := r.db.Table("command_samples").
		Select("logical_id, MAX(applied_at) AS applied_at").
		Group("logical_id")

	var out []CommandInfo
	err := r.db.WithContext(ctx).
		Table("command_samples AS c").
		Select("c.logical_id, c.app_id AS app_id, c.lan, c.active_enable, c.reactive_enable, c.active_setpoint, c.reactive_setpoint, c.applied_at").
		Joins("JOIN (?) m ON m.logical_id = c.logical_id AND m.applied_at = c.applied_at", sub).
		Order("c.logical_id").
		Scan(&out).Error
	return out, err
}

// LatestCommandsJSON renders LatestCommands as JSON.
func (r *Reader) LatestCommandsJSON(ctx context.Context) ([]byte, error) {
	cmds, err := r.LatestCommands(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cmds)
}

// UnitStats aggregates one unit's recorded history.
type UnitStats struct {
	LogicalID       uint16           `json:"logical_id"`
	CommandCount    int64            `json:"command_count"`
	TransitionCount int64            `json:"transition_count"`
	Commands        []CommandInfo    `json:"commands"`
	Transitions     []TransitionInfo `json:"transitions"`
}

// Stats returns counts plus the most recent rows for one unit, newest
// first. limit <= 0 means unbounded.
func (r *Reader) Stats(ctx context.Context, logicalID uint16, limit int) (UnitStats, error) {
	st := UnitStats{LogicalID: logicalID}

	if err := r.db.WithContext(ctx).Model(&CommandSample{}).
		Where("logical_id = ?", logicalID).
		Count(&st.CommandCount).Error; err != nil {
		return st, err
	}
	if err := r.db.WithContext(ctx).Model(&ValidityChange{}).
		Where("logical_id = ?", logicalID).
		Count(&st.TransitionCount).Error; err != nil {
		return st, err
	}

	cq := r.db.WithContext(ctx).Model(&CommandSample{}).
		Select("logical_id, app_id AS app_id, lan, active_enable, reactive_enable, active_setpoint, reactive_setpoint, applied_at").
		Where("logical_id = ?", logicalID).
		Order("applied_at DESC")
	tq := r.db.WithContext(ctx).Model(&ValidityChange{}).
		Select("logical_id, lan, valid, at").
		Where("logical_id = ?", logicalID).
		Order("at DESC")
	if limit > 0 {
		cq = cq.Limit(limit)
		tq = tq.Limit(limit)
	}
	if err := cq.Scan(&st.Commands).Error; err != nil {
		return st, err
	}
	if err := tq.Scan(&st.Transitions).Error; err != nil {
		return st, err
	}
	return st, nil
}

// StatsJSON renders Stats as JSON.
func (r *Reader) StatsJSON(ctx context.Context, logicalID uint16, limit int) ([]byte, error) {
	st, err := r.Stats(ctx, logicalID, limit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}
