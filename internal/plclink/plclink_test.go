package plclink

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"pcs-simulator/internal/goose"
	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/nameplate"
	"pcs-simulator/internal/store"
)

func testNameplates() []nameplate.Nameplate {
	return []nameplate.Nameplate{
		{LogicalID: 1, PcsType: "PCS-A", AppID: 0x8801, FeedLineID: 1, Controlled: true},
		{LogicalID: 2, PcsType: "PCS-A", AppID: 0x8802, FeedLineID: 2},
	}
}

func TestSnapshotLifecounter(t *testing.T) {
	t.Parallel()
	b := NewImageBuilder(store.New(testNameplates()), testNameplates())

	for want := uint64(0); want < 3; want++ {
		img := b.Snapshot()
		if img.Lifecounter != want {
			t.Fatalf("lifecounter = %d, want %d", img.Lifecounter, want)
		}
	}
}

func TestSnapshotValidityAndSentinel(t *testing.T) {
	t.Parallel()
	st := store.New(testNameplates())
	if err := st.ApplyCommand(1, true, false, 120, -30); err != nil {
		t.Fatalf("ApplyCommand: %v", err)
	}
	if err := st.UpdateRaw(1, store.LAN1, []goose.Value{goose.Bool(true)}, time.Now()); err != nil {
		t.Fatalf("UpdateRaw: %v", err)
	}
	if _, err := st.MarkValidity(1, store.LAN1, true); err != nil {
		t.Fatalf("MarkValidity: %v", err)
	}

	img := NewImageBuilder(st, testNameplates()).Snapshot()
	if img.NumberOfPcs != 2 || len(img.NetworkA) != 2 || len(img.NetworkB) != 2 {
		t.Fatalf("unexpected image shape: %+v", img)
	}

	a := img.NetworkA[0]
	if !a.Valid || a.ActivePower != 120 || a.ReactivePower != -30 {
		t.Fatalf("valid unit 1 on network A: %+v", a)
	}
	if a.FeedLineID != 1 || !a.Controllable {
		t.Fatalf("nameplate attributes lost: %+v", a)
	}

	// same unit is stale on LAN2, powers become the sentinel
	b2 := img.NetworkB[0]
	if b2.Valid || b2.ActivePower != invalidValue || b2.ReactivePower != invalidValue {
		t.Fatalf("stale unit must carry the invalid sentinel: %+v", b2)
	}
}

func TestImageMarshalLayout(t *testing.T) {
	t.Parallel()
	st := store.New(testNameplates())
	b := NewImageBuilder(st, testNameplates())
	img := b.Snapshot()
	raw := img.Marshal()

	wantLen := imageHeaderSize + 4*unitInfoSize
	if len(raw) != wantLen {
		t.Fatalf("marshaled length %d, want %d", len(raw), wantLen)
	}
	if raw[0] != imageProtocol {
		t.Fatalf("protocol byte = %d, want %d", raw[0], imageProtocol)
	}
	if got := binary.LittleEndian.Uint16(raw[1:3]); got != 2 {
		t.Fatalf("number_of_pcs = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint64(raw[3:11]); got != img.Lifecounter {
		t.Fatalf("lifecounter = %d, want %d", got, img.Lifecounter)
	}

	// first unit record sits right after the 27-byte header
	rec := raw[imageHeaderSize:]
	if got := binary.LittleEndian.Uint16(rec[0:2]); got != 1 {
		t.Fatalf("first record logical id = %d, want 1", got)
	}
	soc := math.Float32frombits(binary.LittleEndian.Uint32(rec[29:33]))
	if soc != imageSoc {
		t.Fatalf("soc field = %v, want %v", soc, imageSoc)
	}
}

func encodeCommandAll(nanotimer uint64, cmds []UnitCommand) []byte {
	buf := []byte{commandProtocol}
	buf = binary.LittleEndian.AppendUint64(buf, nanotimer)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(cmds)))
	buf = append(buf, make([]byte, 16)...)
	for _, c := range cmds {
		buf = binary.LittleEndian.AppendUint16(buf, c.LogicalID)
		buf = append(buf, c.Protocol)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(c.ActivePower))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(c.ReactivePower))
		buf = append(buf, make([]byte, 16)...)
	}
	return buf
}

func TestDecodeCommandAll(t *testing.T) {
	t.Parallel()
	want := []UnitCommand{
		{LogicalID: 1, Protocol: 20, ActivePower: 100.5, ReactivePower: -25},
		{LogicalID: 2, Protocol: 20, ActivePower: 0, ReactivePower: 10},
	}
	raw := encodeCommandAll(123456789, want)

	all, err := DecodeCommandAll(raw)
	if err != nil {
		t.Fatalf("DecodeCommandAll: %v", err)
	}
	if all.NanoTimer != 123456789 || int(all.NumberOfPcs) != len(want) {
		t.Fatalf("header mismatch: %+v", all)
	}
	for i, c := range all.Commands {
		if c != want[i] {
			t.Fatalf("command %d: got %+v want %+v", i, c, want[i])
		}
	}
}

func TestDecodeCommandAllRejectsMalformed(t *testing.T) {
	t.Parallel()
	good := encodeCommandAll(1, []UnitCommand{{LogicalID: 1}})

	cases := map[string][]byte{
		"empty":          nil,
		"short header":   good[:10],
		"wrong protocol": append([]byte{imageProtocol}, good[1:]...),
		"truncated unit": good[:len(good)-1],
	}
	for name, raw := range cases {
		if _, err := DecodeCommandAll(raw); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestListenerDeliversCommands(t *testing.T) {
	t.Parallel()
	got := make(chan CommandAll, 1)
	l, err := NewListener("127.0.0.1:0", func(all CommandAll) { got <- all }, logging.Noop())
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	conn, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	raw := encodeCommandAll(42, []UnitCommand{{LogicalID: 7, ActivePower: 55}})
	if _, err := conn.Write([]byte{0xFF}); err != nil { // malformed, must be skipped
		t.Fatalf("write: %v", err)
	}
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case all := <-got:
		if all.NanoTimer != 42 || len(all.Commands) != 1 || all.Commands[0].LogicalID != 7 {
			t.Fatalf("unexpected command: %+v", all)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
