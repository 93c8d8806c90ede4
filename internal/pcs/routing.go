// Package pcs holds the startup-built lookup tables that drive packet
// routing (APPID to unit, command APPID to unit group, PCS type to
// publisher allData layout) and the pure command extractor. All tables are
// immutable after construction and safe for unsynchronized concurrent reads.
package pcs

import (
	"fmt"

	"pcs-simulator/internal/nameplate"
)

// Target is the routing result for a feedback APPID.
type Target struct {
	LogicalID uint16
	PcsType   string
}

// RoutingTable maps APPID to exactly one PCS unit.
type RoutingTable struct {
	byAppID map[uint16]Target
}

// BuildRoutingTable indexes nameplates by APPID: every unit's own feedback
// APPID routes to that unit, and every command APPID routes to the lead
// (lowest logical id) unit of its group so inbound command traffic has a
// single receive-tracking target. Any APPID collision is fatal; the table
// must never be ambiguous.
func BuildRoutingTable(nps []nameplate.Nameplate) (*RoutingTable, error) {
	t := &RoutingTable{byAppID: make(map[uint16]Target, len(nps))}
	for _, np := range nps {
		if prev, dup := t.byAppID[np.AppID]; dup {
			return nil, fmt.Errorf("duplicate APPID 0x%04X: logical ids %d and %d", np.AppID, prev.LogicalID, np.LogicalID)
		}
		t.byAppID[np.AppID] = Target{LogicalID: np.LogicalID, PcsType: np.PcsType}
	}

	lead := make(map[uint16]Target)
	for _, np := range nps {
		if !np.Controlled {
			continue
		}
		cur, ok := lead[np.CommandAppID]
		if !ok || np.LogicalID < cur.LogicalID {
			lead[np.CommandAppID] = Target{LogicalID: np.LogicalID, PcsType: np.PcsType}
		}
	}
	for appid, target := range lead {
		if prev, dup := t.byAppID[appid]; dup {
			return nil, fmt.Errorf("command APPID 0x%04X collides with feedback APPID of logical id %d", appid, prev.LogicalID)
		}
		t.byAppID[appid] = target
	}
	return t, nil
}

// Lookup returns the routing target for an APPID.
func (t *RoutingTable) Lookup(appid uint16) (Target, bool) {
	target, ok := t.byAppID[appid]
	return target, ok
}

// Size reports the number of routed units.
func (t *RoutingTable) Size() int { return len(t.byAppID) }
