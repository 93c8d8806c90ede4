package nameplate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const csvHeader = "no,device_id,goose_appid,goose_srcAddr,goose_dstAddr,goose_TPID,goose_TCI,goose_gocbRef,goose_dataSet,goose_goID,goose_simulation,goose_confRev,goose_ndsCom,feed_line_id,feed_line_alias,logical_id,pcs_type,pms_appid"

func writeCSV(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcs.csv")
	content := csvHeader + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test csv: %v", err)
	}
	return path
}

func TestLoadBasic(t *testing.T) {
	t.Parallel()
	path := writeCSV(t,
		"1,devA,0x8801,01:0C:CD:01:00:01,01:0C:CD:FF:FF:FF,0x8100,0x8002,SIM/LLN0$GO$gocb1,SIM/LLN0$dataset1,SIM/LLN0$GO$gocb1,false,2,false,101,Line1,1,PCS-A,0x0101",
		"2,devB,0x8802,,,,,,,,,,,102,,2,PCS-B,",
	)

	nps, skipped, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped rows, got %v", skipped)
	}
	if len(nps) != 2 {
		t.Fatalf("expected 2 nameplates, got %d", len(nps))
	}

	a := nps[0]
	if a.DeviceID != "devA" || a.AppID != 0x8801 || a.LogicalID != 1 || a.PcsType != "PCS-A" {
		t.Fatalf("unexpected first nameplate: %+v", a)
	}
	if a.SrcMAC != [6]byte{0x01, 0x0C, 0xCD, 0x01, 0x00, 0x01} {
		t.Fatalf("unexpected src MAC: %v", a.SrcMAC)
	}
	if a.TPID != 0x8100 || a.TCI != 0x8002 || a.ConfRev != 2 {
		t.Fatalf("unexpected VLAN/confRev fields: %+v", a)
	}
	if !a.Controlled || a.CommandAppID != 0x0101 {
		t.Fatalf("expected controlled unit with command appid 0x0101, got %+v", a)
	}
	if a.FeedLineID != 101 || a.FeedLineAlias != "Line1" {
		t.Fatalf("unexpected feed line fields: %+v", a)
	}

	b := nps[1]
	if b.Controlled {
		t.Fatalf("devB has no pms_appid, should not be controlled: %+v", b)
	}
	if b.ConfRev != 1 {
		t.Fatalf("expected default confRev 1, got %d", b.ConfRev)
	}
}

func TestLoadDuplicateAppIDFatal(t *testing.T) {
	t.Parallel()
	path := writeCSV(t,
		"1,devA,0x8801,,,,,,,,,,,101,Line1,1,PCS-A,",
		"2,devB,0x8801,,,,,,,,,,,102,Line2,2,PCS-B,",
	)
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected fatal error for duplicate goose_appid")
	}
}

func TestLoadDuplicateLogicalIDFatal(t *testing.T) {
	t.Parallel()
	path := writeCSV(t,
		"1,devA,0x8801,,,,,,,,,,,101,Line1,1,PCS-A,",
		"2,devB,0x8802,,,,,,,,,,,102,Line2,1,PCS-B,",
	)
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected fatal error for duplicate logical_id")
	}
}

func TestLoadSkipsInvalidRows(t *testing.T) {
	t.Parallel()
	path := writeCSV(t,
		"1,devA,0x8801,,,,,,,,,,,0,Line1,2,PCS-B,",  // feed_line_id 0
		"2,devC,0x8803,,,,,,,,,,,103,Line3,0,PCS-C,", // logical_id 0
		"3,devD,0x8804,,,,,,,,,,,104,Line4,4,,",      // missing pcs_type
		"4,devE,0x8805,,,,,,,,,,,105,Line5,5,PCS-E,",
	)

	nps, skipped, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(nps) != 1 || nps[0].DeviceID != "devE" {
		t.Fatalf("expected only devE to survive, got %+v", nps)
	}
	if len(skipped) != 3 {
		t.Fatalf("expected 3 skipped rows, got %v", skipped)
	}
}

func TestLoadAllRowsInvalid(t *testing.T) {
	t.Parallel()
	path := writeCSV(t, "1,devA,0x8801,,,,,,,,,,,101,Line1,1,,")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error when no valid rows remain")
	}
}

func TestParseMAC(t *testing.T) {
	t.Parallel()
	want := [6]byte{0x01, 0x0C, 0xCD, 0x01, 0x00, 0x01}
	for _, input := range []string{
		"01:0C:CD:01:00:01",
		"01-0C-CD-01-00-01",
		"010CCD010001",
		`"01:0C:CD:01:00:01"`,
	} {
		got, err := ParseMAC(input)
		if err != nil {
			t.Fatalf("ParseMAC(%q) failed: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseMAC(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := ParseMAC("01:0C:CD"); err == nil {
		t.Fatal("expected error for short MAC")
	}
}

func TestParseHexUint16(t *testing.T) {
	t.Parallel()
	for input, want := range map[string]uint16{"0x8100": 0x8100, "8100": 0x8100, `"0x0101"`: 0x0101} {
		got, err := ParseHexUint16(input)
		if err != nil {
			t.Fatalf("ParseHexUint16(%q) failed: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseHexUint16(%q) = 0x%04X, want 0x%04X", input, got, want)
		}
	}
	if _, err := ParseHexUint16("zz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}
