package pcs

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"pcs-simulator/internal/nameplate"
)

// SubscriberRecord is one entry of the subscriber mapping file. APPID and
// NumberOfPcs arrive as strings (hex and decimal) and are parsed during
// command map construction.
type SubscriberRecord struct {
	AppID       string `json:"APPID"`
	GocbRef     string `json:"gocbRef"`
	DatSet      string `json:"datSet"`
	GoID        string `json:"goID"`
	NumberOfPcs string `json:"numberOfPcs"`
}

// CommandMap maps a command APPID to its ordered group of controlled units.
// Index i of the group corresponds to offsets i, N+i, 2N+i, 3N+i of the
// command allData array.
type CommandMap struct {
	groups map[uint16][]uint16
}

// LoadSubscriberRecords reads the subscriber mapping JSON file.
func LoadSubscriberRecords(path string) ([]SubscriberRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open subscriber mapping: %w", err)
	}
	var records []SubscriberRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse subscriber mapping: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("subscriber mapping contains no records")
	}
	return records, nil
}

// BuildCommandMap groups controlled units by their command APPID, sorts
// each group by logical id for a stable index order, and reconciles every
// group against the subscriber mapping's declared numberOfPcs. Any
// mismatch is a configuration error: the process must not start with a
// command layout that disagrees with the unit population.
func BuildCommandMap(records []SubscriberRecord, nps []nameplate.Nameplate) (*CommandMap, error) {
	groups := make(map[uint16][]uint16)
	for _, np := range nps {
		if !np.Controlled {
			continue
		}
		groups[np.CommandAppID] = append(groups[np.CommandAppID], np.LogicalID)
	}
	for _, ids := range groups {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	declared := make(map[uint16]int, len(records))
	for i, rec := range records {
		appid, err := nameplate.ParseHexUint16(rec.AppID)
		if err != nil {
			return nil, fmt.Errorf("subscriber record %d: invalid APPID: %w", i, err)
		}
		n, err := strconv.Atoi(rec.NumberOfPcs)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("subscriber record %d (APPID 0x%04X): invalid numberOfPcs %q", i, appid, rec.NumberOfPcs)
		}
		if _, dup := declared[appid]; dup {
			return nil, fmt.Errorf("subscriber mapping declares APPID 0x%04X twice", appid)
		}
		declared[appid] = n
	}

	for appid, n := range declared {
		ids := groups[appid]
		if len(ids) != n {
			return nil, fmt.Errorf("command APPID 0x%04X declares %d units but nameplates assign %d", appid, n, len(ids))
		}
	}
	for appid, ids := range groups {
		if _, ok := declared[appid]; !ok {
			return nil, fmt.Errorf("nameplates assign %d units to command APPID 0x%04X but the subscriber mapping does not declare it", len(ids), appid)
		}
	}

	return &CommandMap{groups: groups}, nil
}

// Lookup returns the ordered unit group for a command APPID. Callers must
// not mutate the returned slice.
func (m *CommandMap) Lookup(appid uint16) ([]uint16, bool) {
	ids, ok := m.groups[appid]
	return ids, ok
}

// AppIDs returns the sorted command APPIDs, for startup logging.
func (m *CommandMap) AppIDs() []uint16 {
	out := make([]uint16, 0, len(m.groups))
	for appid := range m.groups {
		out = append(out, appid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
