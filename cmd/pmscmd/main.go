// pmscmd builds and sends one controller-side GOOSE command frame, for
// bench tests against a running simulator. The frame carries the 4N
// command layout: N active enables, N reactive enables, N active
// setpoints, N reactive setpoints.
package main

import (
	"flag"
	"log"
	"net"
	"strings"

	"pcs-simulator/internal/goose"
	"pcs-simulator/internal/nameplate"
)

func main() {
	var (
		addrs          string
		appidStr       string
		units          int
		activeEnable   bool
		reactiveEnable bool
		active         float64
		reactive       float64
		stNum          uint
		sqNum          uint
	)
	flag.StringVar(&addrs, "addr", "127.0.0.1:10201", "comma-separated UDP targets, one per LAN")
	flag.StringVar(&appidStr, "appid", "0x0101", "command APPID (hex)")
	flag.IntVar(&units, "units", 10, "number of units in the command group")
	flag.BoolVar(&activeEnable, "active-enable", true, "active power enable for all units")
	flag.BoolVar(&reactiveEnable, "reactive-enable", false, "reactive power enable for all units")
	flag.Float64Var(&active, "active", 100, "active power setpoint for all units")
	flag.Float64Var(&reactive, "reactive", 0, "reactive power setpoint for all units")
	flag.UintVar(&stNum, "stnum", 1, "state number")
	flag.UintVar(&sqNum, "sqnum", 0, "sequence number")
	flag.Parse()

	appid, err := nameplate.ParseHexUint16(appidStr)
	if err != nil {
		log.Fatalf("bad appid %q: %v", appidStr, err)
	}
	if units <= 0 {
		log.Fatalf("units must be positive, got %d", units)
	}

	allData := make([]goose.Value, 0, 4*units)
	for i := 0; i < units; i++ {
		allData = append(allData, goose.Bool(activeEnable))
	}
	for i := 0; i < units; i++ {
		allData = append(allData, goose.Bool(reactiveEnable))
	}
	for i := 0; i < units; i++ {
		allData = append(allData, goose.Float(float32(active)))
	}
	for i := 0; i < units; i++ {
		allData = append(allData, goose.Float(float32(reactive)))
	}

	frame := goose.Frame{
		Header: goose.EthernetHeader{
			DstAddr: [6]byte{0x01, 0x0C, 0xCD, 0x01, 0x00, 0x01},
			SrcAddr: [6]byte{0x00, 0x0C, 0xCD, 0x00, 0x00, 0x01},
			AppID:   appid,
		},
		Pdu: goose.Pdu{
			GocbRef:           "PMS/LLN0$GO$gocb1",
			TimeAllowedToLive: 10000,
			DatSet:            "PMS/LLN0$dataset1",
			GoID:              "PMS/LLN0$GO$gocb1",
			StNum:             uint32(stNum),
			SqNum:             uint32(sqNum),
			ConfRev:           1,
			NumDatSetEntries:  uint32(len(allData)),
			AllData:           allData,
		},
	}
	raw, err := goose.Encode(&frame)
	if err != nil {
		log.Fatalf("encode frame: %v", err)
	}

	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		conn, err := net.Dial("udp", addr)
		if err != nil {
			log.Fatalf("dial %s: %v", addr, err)
		}
		if _, err := conn.Write(raw); err != nil {
			log.Fatalf("send to %s: %v", addr, err)
		}
		conn.Close()
		log.Printf("sent %d bytes to %s (APPID 0x%04X, %d units)", len(raw), addr, appid, units)
	}
}
