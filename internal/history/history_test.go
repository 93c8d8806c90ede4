package history

import (
	"path/filepath"
	"testing"
	"time"

	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/pcs"
	"pcs-simulator/internal/pipeline"
	"pcs-simulator/internal/store"
	"pcs-simulator/internal/validity"
)

func openAt(t *testing.T, path string) *Recorder {
	t.Helper()
	r, err := Open(path, 64, logging.Noop(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestRecorderPersistsCommands(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	r := openAt(t, path)
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	r.RecordCommand(pipeline.CommandRecord{
		LogicalID: 3,
		AppID:     0x0101,
		Lan:       store.LAN1,
		Command: pcs.Command{
			ActiveEnable:     true,
			ActiveSetpoint:   100,
			ReactiveSetpoint: -10,
		},
		At: at,
	})
	r.RecordCommand(pipeline.CommandRecord{LogicalID: 4, AppID: 0x0101, Lan: store.LAN2, At: at})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reopen and read back
	r2 := openAt(t, path)
	defer r2.Close()
	var rows []CommandSample
	if err := r2.db.Order("logical_id").Find(&rows).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(rows))
	}
	got := rows[0]
	if got.LogicalID != 3 || got.AppID != 0x0101 || got.Lan != uint8(store.LAN1) {
		t.Fatalf("identity fields wrong: %+v", got)
	}
	if !got.ActiveEnable || got.ActiveSetpoint != 100 || got.ReactiveSetpoint != -10 {
		t.Fatalf("command fields wrong: %+v", got)
	}
}

func TestRecorderPersistsTransitions(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	r := openAt(t, path)
	at := time.Now().UTC().Truncate(time.Second)

	r.RecordTransition(validity.Transition{LogicalID: 5, Lan: store.LAN2, Valid: false, At: at})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r2 := openAt(t, path)
	defer r2.Close()
	var rows []ValidityChange
	if err := r2.db.Find(&rows).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(rows))
	}
	if rows[0].LogicalID != 5 || rows[0].Lan != uint8(store.LAN2) || rows[0].Valid {
		t.Fatalf("transition fields wrong: %+v", rows[0])
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	t.Parallel()
	r := openAt(t, filepath.Join(t.TempDir(), "history.db"))
	defer r.Close()

	// hammer the queue far past its capacity; enqueue must never block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			r.RecordCommand(pipeline.CommandRecord{LogicalID: uint16(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}
