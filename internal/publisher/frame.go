package publisher

import (
	"errors"
	"fmt"
	"strings"

	"pcs-simulator/internal/goose"
	"pcs-simulator/internal/nameplate"
	"pcs-simulator/internal/pcs"
	"pcs-simulator/internal/store"
)

// ErrSchemaMismatch reports a value set whose arity or kind sequence
// disagrees with the type mapping. The frame is left untouched.
var ErrSchemaMismatch = errors.New("publisher: value set does not match type mapping")

// Published status codes.
const (
	statusRunning int32 = 1
	statusStandby int32 = 2
)

// Placeholder values for fields the simulator has no live source for.
const (
	defaultSoc              float32 = 50.0
	defaultChargeLimit      float32 = 1000.0
	defaultDischargeLimit   float32 = 1000.0
	defaultCapacitiveLimit  float32 = 500.0
	defaultInductiveLimit   float32 = 500.0
	defaultTimeAllowedToLive        = 5000
)

// InitFrame builds the outbound GOOSE frame for one unit: the Ethernet
// envelope comes from the nameplate, the allData slots are zero values in
// the mapping's field order. Sequence numbers start at zero and are owned
// by the retransmission loop from here on.
func InitFrame(np nameplate.Nameplate, mapping pcs.TypeMapping) goose.Frame {
	allData := make([]goose.Value, len(mapping.Fields))
	for i, fd := range mapping.Fields {
		allData[i] = goose.Zero(fd.Kind)
	}
	return goose.Frame{
		Header: goose.EthernetHeader{
			DstAddr: np.DstMAC,
			SrcAddr: np.SrcMAC,
			TPID:    np.TPID,
			TCI:     np.TCI,
			AppID:   np.AppID,
		},
		Pdu: goose.Pdu{
			GocbRef:           np.GocbRef,
			TimeAllowedToLive: defaultTimeAllowedToLive,
			DatSet:            np.DataSet,
			GoID:              np.GoID,
			Simulation:        np.Simulation,
			ConfRev:           np.ConfRev,
			NdsCom:            np.NdsCom,
			NumDatSetEntries:  uint32(len(mapping.Fields)),
			AllData:           allData,
		},
	}
}

// FeedbackValues derives the value set for one update from the unit's
// current state. Field names are matched by substring; an unrecognized
// field keeps its current frame slot so spare points hold their last
// value. Match order matters: "reactive" names contain their "active"
// counterparts as substrings.
func FeedbackValues(f *goose.Frame, mapping pcs.TypeMapping, view store.RecordView) []goose.Value {
	fb := view.Feedback
	status := statusStandby
	if fb.ActiveEnable || fb.ReactiveEnable {
		status = statusRunning
	}

	values := make([]goose.Value, len(mapping.Fields))
	for i, fd := range mapping.Fields {
		switch name := fd.Name; {
		case strings.Contains(name, "realtime_reactive_power"):
			values[i] = goose.Float(fb.ReactivePower)
		case strings.Contains(name, "realtime_active_power"):
			values[i] = goose.Float(fb.ActivePower)
		case strings.Contains(name, "reactive_power_enable"):
			values[i] = goose.Bool(fb.ReactiveEnable)
		case strings.Contains(name, "active_power_enable"):
			values[i] = goose.Bool(fb.ActiveEnable)
		case strings.Contains(name, "status"):
			values[i] = goose.Int(status)
		case strings.Contains(name, "soc"):
			values[i] = goose.Float(defaultSoc)
		case strings.Contains(name, "maximum_charging_power"):
			values[i] = goose.Float(defaultChargeLimit)
		case strings.Contains(name, "maximum_discharging_power"):
			values[i] = goose.Float(defaultDischargeLimit)
		case strings.Contains(name, "maximum_capacitive_power"):
			values[i] = goose.Float(defaultCapacitiveLimit)
		case strings.Contains(name, "maximum_inductive_power"):
			values[i] = goose.Float(defaultInductiveLimit)
		case i < len(f.Pdu.AllData):
			values[i] = f.Pdu.AllData[i]
		default:
			values[i] = goose.Zero(fd.Kind)
		}
	}
	return values
}

// UpdateFrame writes a value set into the frame's allData slots. The whole
// set is validated against the mapping first; on any disagreement the frame
// keeps its previous values and ErrSchemaMismatch is returned.
func UpdateFrame(f *goose.Frame, mapping pcs.TypeMapping, values []goose.Value) error {
	if len(values) != len(mapping.Fields) || len(f.Pdu.AllData) != len(mapping.Fields) {
		return fmt.Errorf("%w: mapping %q has %d fields, frame has %d slots, got %d values",
			ErrSchemaMismatch, mapping.PcsType, len(mapping.Fields), len(f.Pdu.AllData), len(values))
	}
	for i, fd := range mapping.Fields {
		if values[i].Kind() != fd.Kind {
			return fmt.Errorf("%w: field %q wants %s, got %s",
				ErrSchemaMismatch, fd.Name, fd.Kind, values[i].Kind())
		}
	}
	copy(f.Pdu.AllData, values)
	return nil
}
