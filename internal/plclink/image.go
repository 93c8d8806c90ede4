// Package plclink implements the UDP exchange with the station PLC: a
// periodic binary image of all unit states going out, and setpoint command
// datagrams coming in. All wire integers are little-endian.
package plclink

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"pcs-simulator/internal/nameplate"
	"pcs-simulator/internal/store"
)

const (
	imageProtocol   = 10
	commandProtocol = 20

	imageHeaderSize   = 27 // protocol(1) + number_of_pcs(2) + lifecounter(8) + spare(16)
	unitInfoSize      = 49
	commandHeaderSize = 27 // protocol(1) + nanotimer(8) + number_of_pcs(2) + spare(16)
	unitCommandSize   = 27 // logical_id(2) + protocol(1) + active(4) + reactive(4) + spare(16)
)

// invalidValue marks a reading the simulator could not produce.
const invalidValue float32 = 999999.0

// Published limits for fields without a live source, matching the GOOSE
// publisher's placeholders.
const (
	imageChargeLimit     float32 = 1000.0
	imageDischargeLimit  float32 = 1000.0
	imageInductiveLimit  float32 = 500.0
	imageCapacitiveLimit float32 = 500.0
	imageSoc             float32 = 50.0
)

// UnitInfo is one unit's slice of the PLC image.
type UnitInfo struct {
	LogicalID     uint16
	Valid         bool
	FeedLineID    uint8
	Controllable  bool
	ActivePower   float32
	ReactivePower float32
	MaxCharge     float32
	MaxDischarge  float32
	MaxInductive  float32
	MaxCapacitive float32
	Soc           float32
}

// Image is one full PLC report: the per-LAN unit lists ordered by logical
// id, stamped with a monotonically increasing lifecounter so the PLC can
// detect a stalled simulator.
type Image struct {
	NumberOfPcs uint16
	Lifecounter uint64
	NetworkA    []UnitInfo
	NetworkB    []UnitInfo
}

// ImageBuilder snapshots the state store into PLC images.
type ImageBuilder struct {
	store       *store.Store
	feedLines   map[uint16]uint8
	controlled  map[uint16]bool
	lifecounter atomic.Uint64
}

func NewImageBuilder(st *store.Store, nps []nameplate.Nameplate) *ImageBuilder {
	b := &ImageBuilder{
		store:      st,
		feedLines:  make(map[uint16]uint8, len(nps)),
		controlled: make(map[uint16]bool, len(nps)),
	}
	for _, np := range nps {
		b.feedLines[np.LogicalID] = uint8(np.FeedLineID)
		b.controlled[np.LogicalID] = np.Controlled
	}
	return b
}

// Snapshot reads every unit once per LAN and stamps the next lifecounter.
func (b *ImageBuilder) Snapshot() Image {
	ids := b.store.IDs()
	img := Image{
		NumberOfPcs: uint16(len(ids)),
		Lifecounter: b.lifecounter.Add(1) - 1,
		NetworkA:    make([]UnitInfo, 0, len(ids)),
		NetworkB:    make([]UnitInfo, 0, len(ids)),
	}
	for _, id := range ids {
		view, err := b.store.View(id)
		if err != nil {
			continue
		}
		img.NetworkA = append(img.NetworkA, b.unitInfo(view, view.Lan1Valid))
		img.NetworkB = append(img.NetworkB, b.unitInfo(view, view.Lan2Valid))
	}
	return img
}

func (b *ImageBuilder) unitInfo(view store.RecordView, valid bool) UnitInfo {
	info := UnitInfo{
		LogicalID:     view.LogicalID,
		Valid:         valid,
		FeedLineID:    b.feedLines[view.LogicalID],
		Controllable:  b.controlled[view.LogicalID],
		ActivePower:   view.Feedback.ActivePower,
		ReactivePower: view.Feedback.ReactivePower,
		MaxCharge:     imageChargeLimit,
		MaxDischarge:  imageDischargeLimit,
		MaxInductive:  imageInductiveLimit,
		MaxCapacitive: imageCapacitiveLimit,
		Soc:           imageSoc,
	}
	if !valid {
		info.ActivePower = invalidValue
		info.ReactivePower = invalidValue
	}
	return info
}

// Marshal renders the image in the PLC wire layout.
func (img *Image) Marshal() []byte {
	size := imageHeaderSize + (len(img.NetworkA)+len(img.NetworkB))*unitInfoSize
	buf := make([]byte, 0, size)

	buf = append(buf, imageProtocol)
	buf = binary.LittleEndian.AppendUint16(buf, img.NumberOfPcs)
	buf = binary.LittleEndian.AppendUint64(buf, img.Lifecounter)
	buf = append(buf, make([]byte, 16)...) // spare

	for _, info := range img.NetworkA {
		buf = appendUnitInfo(buf, info)
	}
	for _, info := range img.NetworkB {
		buf = appendUnitInfo(buf, info)
	}
	return buf
}

func appendUnitInfo(buf []byte, info UnitInfo) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, info.LogicalID)
	buf = append(buf, boolByte(info.Valid), info.FeedLineID, boolByte(info.Controllable))
	buf = appendFloat(buf, info.ActivePower)
	buf = appendFloat(buf, info.ReactivePower)
	buf = appendFloat(buf, info.MaxCharge)
	buf = appendFloat(buf, info.MaxDischarge)
	buf = appendFloat(buf, info.MaxInductive)
	buf = appendFloat(buf, info.MaxCapacitive)
	buf = appendFloat(buf, info.Soc)
	return append(buf, make([]byte, 16)...) // spare
}

func appendFloat(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

func floatFrom(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// UnitCommand is one unit's setpoint pair from a PLC command datagram.
type UnitCommand struct {
	LogicalID     uint16
	Protocol      uint8
	ActivePower   float32
	ReactivePower float32
}

// CommandAll is one decoded PLC command datagram.
type CommandAll struct {
	NanoTimer   uint64
	NumberOfPcs uint16
	Commands    []UnitCommand
}

// DecodeCommandAll parses a PLC command datagram. Every length is checked
// before the corresponding read; the declared unit count must be fully
// present.
func DecodeCommandAll(data []byte) (CommandAll, error) {
	var all CommandAll
	if len(data) < commandHeaderSize {
		return all, fmt.Errorf("plclink: datagram too short: %d bytes, header needs %d", len(data), commandHeaderSize)
	}
	if data[0] != commandProtocol {
		return all, fmt.Errorf("plclink: unexpected protocol %d, want %d", data[0], commandProtocol)
	}
	all.NanoTimer = binary.LittleEndian.Uint64(data[1:9])
	all.NumberOfPcs = binary.LittleEndian.Uint16(data[9:11])
	// bytes 11..27 are spare

	want := commandHeaderSize + int(all.NumberOfPcs)*unitCommandSize
	if len(data) < want {
		return all, fmt.Errorf("plclink: datagram declares %d units but holds %d of %d bytes", all.NumberOfPcs, len(data), want)
	}

	all.Commands = make([]UnitCommand, 0, all.NumberOfPcs)
	offset := commandHeaderSize
	for i := 0; i < int(all.NumberOfPcs); i++ {
		cmd := UnitCommand{
			LogicalID:     binary.LittleEndian.Uint16(data[offset : offset+2]),
			Protocol:      data[offset+2],
			ActivePower:   floatFrom(data[offset+3 : offset+7]),
			ReactivePower: floatFrom(data[offset+7 : offset+11]),
		}
		// bytes offset+11..offset+27 are spare
		all.Commands = append(all.Commands, cmd)
		offset += unitCommandSize
	}
	return all, nil
}
