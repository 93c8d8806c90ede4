// Package nameplate loads the static per-PCS configuration file: one CSV
// row per simulated unit carrying its addressing, GOOSE identifiers and
// type tag. Rows are fully parsed here so the rest of the system only ever
// sees typed values.
package nameplate

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Nameplate is one parsed CSV row.
type Nameplate struct {
	DeviceID  string
	LogicalID uint16
	PcsType   string

	AppID   uint16
	SrcMAC  [6]byte
	DstMAC  [6]byte
	TPID    uint16
	TCI     uint16
	GocbRef string
	DataSet string
	GoID    string

	Simulation bool
	ConfRev    uint32
	NdsCom     bool

	FeedLineID    uint16
	FeedLineAlias string

	// CommandAppID is the controller command frame this unit listens to.
	// Controlled is false for units not driven by the controller.
	CommandAppID uint16
	Controlled   bool
}

// RowError describes a row that was skipped during load.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) String() string { return fmt.Sprintf("row %d: %s", e.Row, e.Reason) }

// Load reads and validates the nameplate CSV. Rows with recoverable
// problems (missing pcs_type, zero ids, unparsable fields) are skipped and
// reported in the second return value. Duplicate goose_appid, command
// appid collisions with feedback appids, or duplicate logical_id are fatal:
// the routing table cannot be built from an ambiguous file.
func Load(path string) ([]Nameplate, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open nameplate file: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]Nameplate, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read nameplate header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"goose_appid", "logical_id", "pcs_type"} {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("nameplate header is missing column %q", required)
		}
	}

	var (
		out      []Nameplate
		skipped  []RowError
		seenApp  = map[uint16]int{}
		seenID   = map[uint16]int{}
		rowNum   = 1
	)
	for {
		rowNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped = append(skipped, RowError{Row: rowNum, Reason: err.Error()})
			continue
		}
		field := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		np, reason := parseRow(field)
		if reason != "" {
			skipped = append(skipped, RowError{Row: rowNum, Reason: reason})
			continue
		}
		if prev, dup := seenApp[np.AppID]; dup {
			return nil, nil, fmt.Errorf("row %d: duplicate goose_appid 0x%04X (first seen on row %d)", rowNum, np.AppID, prev)
		}
		if prev, dup := seenID[np.LogicalID]; dup {
			return nil, nil, fmt.Errorf("row %d: duplicate logical_id %d (first seen on row %d)", rowNum, np.LogicalID, prev)
		}
		seenApp[np.AppID] = rowNum
		seenID[np.LogicalID] = rowNum
		out = append(out, np)
	}
	if len(out) == 0 {
		return nil, skipped, fmt.Errorf("nameplate file contains no valid rows")
	}
	return out, skipped, nil
}

func parseRow(field func(string) string) (Nameplate, string) {
	var np Nameplate

	np.DeviceID = field("device_id")
	np.PcsType = field("pcs_type")
	if np.PcsType == "" {
		return np, "pcs_type is not configured"
	}

	id, err := strconv.ParseUint(field("logical_id"), 10, 16)
	if err != nil {
		return np, fmt.Sprintf("invalid logical_id: %v", err)
	}
	if id == 0 {
		return np, "logical_id 0 is invalid (must be >= 1)"
	}
	np.LogicalID = uint16(id)

	np.AppID, err = ParseHexUint16(field("goose_appid"))
	if err != nil {
		return np, fmt.Sprintf("invalid goose_appid: %v", err)
	}

	if s := field("goose_srcAddr"); s != "" {
		np.SrcMAC, err = ParseMAC(s)
		if err != nil {
			return np, fmt.Sprintf("invalid goose_srcAddr: %v", err)
		}
	}
	if s := field("goose_dstAddr"); s != "" {
		np.DstMAC, err = ParseMAC(s)
		if err != nil {
			return np, fmt.Sprintf("invalid goose_dstAddr: %v", err)
		}
	}
	if s := field("goose_TPID"); s != "" {
		np.TPID, err = ParseHexUint16(s)
		if err != nil {
			return np, fmt.Sprintf("invalid goose_TPID: %v", err)
		}
	}
	if s := field("goose_TCI"); s != "" {
		np.TCI, err = ParseHexUint16(s)
		if err != nil {
			return np, fmt.Sprintf("invalid goose_TCI: %v", err)
		}
	}

	np.GocbRef = field("goose_gocbRef")
	np.DataSet = field("goose_dataSet")
	np.GoID = field("goose_goID")
	np.Simulation = strings.EqualFold(field("goose_simulation"), "true")
	np.NdsCom = strings.EqualFold(field("goose_ndsCom"), "true")

	np.ConfRev = 1
	if s := field("goose_confRev"); s != "" {
		if rev, err := strconv.ParseUint(s, 10, 32); err == nil {
			np.ConfRev = uint32(rev)
		}
	}

	if s := field("feed_line_id"); s != "" {
		fid, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return np, fmt.Sprintf("invalid feed_line_id: %v", err)
		}
		if fid == 0 {
			return np, "feed_line_id 0 is invalid (must be > 0)"
		}
		np.FeedLineID = uint16(fid)
	}
	np.FeedLineAlias = field("feed_line_alias")

	if s := field("pms_appid"); s != "" {
		np.CommandAppID, err = ParseHexUint16(s)
		if err != nil {
			return np, fmt.Sprintf("invalid pms_appid: %v", err)
		}
		np.Controlled = true
	}

	return np, ""
}

// ParseMAC accepts "01:0C:CD:01:00:01", "01-0C-CD-01-00-01" and bare
// 12-hex-digit forms.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	s = strings.Trim(strings.TrimSpace(s), `"`)

	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == '-' || r == '.'
	})
	if len(parts) == 6 {
		for i, p := range parts {
			if len(p) != 2 {
				return mac, fmt.Errorf("MAC part %q has wrong length in %q", p, s)
			}
			b, err := strconv.ParseUint(p, 16, 8)
			if err != nil {
				return mac, fmt.Errorf("invalid hex %q in MAC address %q", p, s)
			}
			mac[i] = byte(b)
		}
		return mac, nil
	}

	var hexOnly strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			hexOnly.WriteRune(r)
		}
	}
	if hexOnly.Len() == 12 {
		h := hexOnly.String()
		for i := 0; i < 6; i++ {
			b, err := strconv.ParseUint(h[2*i:2*i+2], 16, 8)
			if err != nil {
				return mac, fmt.Errorf("invalid hex in MAC address %q", s)
			}
			mac[i] = byte(b)
		}
		return mac, nil
	}
	return mac, fmt.Errorf("invalid MAC format: %q", s)
}

// ParseHexUint16 parses a hex string with or without the 0x prefix.
func ParseHexUint16(s string) (uint16, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parse hex uint16 %q: %w", s, err)
	}
	return uint16(v), nil
}
