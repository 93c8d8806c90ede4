package pcs

import (
	"errors"
	"fmt"

	"pcs-simulator/internal/goose"
)

// Command extraction failures. All are per-unit and non-fatal: the caller
// skips the unit and continues with its siblings.
var (
	ErrLayoutMismatch    = errors.New("command allData length does not match 4*numberOfPcs")
	ErrIndexOutOfRange   = errors.New("unit index outside command group")
	ErrFieldKindMismatch = errors.New("command field has wrong value kind")
)

// Command is the decoded per-unit setpoint block of a command frame.
type Command struct {
	ActiveEnable     bool
	ReactiveEnable   bool
	ActiveSetpoint   float32
	ReactiveSetpoint float32
}

// ExtractCommand reads one unit's values from a command allData array laid
// out as four N-sized blocks: active enables, reactive enables, active
// setpoints, reactive setpoints. It is pure; the caller applies the result
// to the store. A kind mismatch at any of the four offsets aborts the whole
// extraction so a unit never sees a partial command.
func ExtractCommand(allData []goose.Value, n, index int) (Command, error) {
	var cmd Command
	if len(allData) != 4*n {
		return cmd, fmt.Errorf("%w: got %d values for %d units", ErrLayoutMismatch, len(allData), n)
	}
	if index < 0 || index >= n {
		return cmd, fmt.Errorf("%w: index %d of %d units", ErrIndexOutOfRange, index, n)
	}

	var ok bool
	if cmd.ActiveEnable, ok = allData[index].AsBool(); !ok {
		return Command{}, kindErr("active_power_enable", index, goose.KindBool, allData[index])
	}
	if cmd.ReactiveEnable, ok = allData[n+index].AsBool(); !ok {
		return Command{}, kindErr("reactive_power_enable", n+index, goose.KindBool, allData[n+index])
	}
	if cmd.ActiveSetpoint, ok = allData[2*n+index].AsFloat(); !ok {
		return Command{}, kindErr("active_power_setpoint", 2*n+index, goose.KindFloat, allData[2*n+index])
	}
	if cmd.ReactiveSetpoint, ok = allData[3*n+index].AsFloat(); !ok {
		return Command{}, kindErr("reactive_power_setpoint", 3*n+index, goose.KindFloat, allData[3*n+index])
	}
	return cmd, nil
}

func kindErr(field string, offset int, want goose.Kind, got goose.Value) error {
	return fmt.Errorf("%w: %s at offset %d is %s, want %s", ErrFieldKindMismatch, field, offset, got.Kind(), want)
}
