package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pcs-simulator/internal/pcs"
	"pcs-simulator/internal/pipeline"
	"pcs-simulator/internal/store"
	"pcs-simulator/internal/validity"
)

func TestReaderLatestCommands(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	rec := openAt(t, path)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// two commands for unit 1, one for unit 2; only the newest per unit
	// must come back
	rec.RecordCommand(pipeline.CommandRecord{
		LogicalID: 1, AppID: 0x0101, Lan: store.LAN1,
		Command: pcs.Command{ActiveSetpoint: 50},
		At:      base,
	})
	rec.RecordCommand(pipeline.CommandRecord{
		LogicalID: 1, AppID: 0x0101, Lan: store.LAN2,
		Command: pcs.Command{ActiveEnable: true, ActiveSetpoint: 75},
		At:      base.Add(time.Second),
	})
	rec.RecordCommand(pipeline.CommandRecord{
		LogicalID: 2, AppID: 0x0101, Lan: store.LAN1,
		Command: pcs.Command{ReactiveSetpoint: -20},
		At:      base,
	})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	cmds, err := r.LatestCommands(context.Background())
	if err != nil {
		t.Fatalf("LatestCommands: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 units, got %d", len(cmds))
	}
	if cmds[0].LogicalID != 1 || cmds[1].LogicalID != 2 {
		t.Fatalf("bad unit order: %+v", cmds)
	}
	if !cmds[0].ActiveEnable || cmds[0].ActiveSetpoint != 75 {
		t.Fatalf("unit 1 did not return the newest command: %+v", cmds[0])
	}
	if cmds[1].ReactiveSetpoint != -20 {
		t.Fatalf("unit 2 command wrong: %+v", cmds[1])
	}
}

func TestReaderStats(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	rec := openAt(t, path)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec.RecordCommand(pipeline.CommandRecord{
			LogicalID: 7, AppID: 0x0101, Lan: store.LAN1,
			Command: pcs.Command{ActiveSetpoint: float32(i)},
			At:      base.Add(time.Duration(i) * time.Second),
		})
	}
	rec.RecordTransition(validity.Transition{LogicalID: 7, Lan: store.LAN1, Valid: false, At: base})
	rec.RecordTransition(validity.Transition{LogicalID: 7, Lan: store.LAN1, Valid: true, At: base.Add(time.Minute)})
	rec.RecordCommand(pipeline.CommandRecord{LogicalID: 8, AppID: 0x0101, Lan: store.LAN1, At: base})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	st, err := r.Stats(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.CommandCount != 5 {
		t.Fatalf("expected 5 commands counted, got %d", st.CommandCount)
	}
	if st.TransitionCount != 2 {
		t.Fatalf("expected 2 transitions counted, got %d", st.TransitionCount)
	}
	if len(st.Commands) != 3 {
		t.Fatalf("limit not honored, got %d commands", len(st.Commands))
	}
	if st.Commands[0].ActiveSetpoint != 4 {
		t.Fatalf("commands not newest first: %+v", st.Commands[0])
	}
	if len(st.Transitions) != 2 || !st.Transitions[0].Valid {
		t.Fatalf("transitions wrong: %+v", st.Transitions)
	}
}
