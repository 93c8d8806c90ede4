// Package goose implements the IEC61850 GOOSE frame model and wire codec
// used by the simulator: a closed value-kind enum for allData entries, the
// Ethernet envelope + GOOSE PDU, and BER encode/decode of complete frames.
package goose

import "fmt"

// Kind identifies the payload type of an allData value. The set is closed:
// mapping files are validated against it once at load time so the hot path
// never dispatches on strings.
type Kind uint8

const (
	KindBool Kind = iota
	KindFloat
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindFromString maps a mapping-file tag to a Kind.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "boolean":
		return KindBool, nil
	case "float":
		return KindFloat, nil
	case "int":
		return KindInt, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is one allData entry: a kind tag plus the matching payload.
type Value struct {
	kind Kind
	b    bool
	f    float32
	i    int32
}

func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }
func Float(v float32) Value { return Value{kind: KindFloat, f: v} }
func Int(v int32) Value     { return Value{kind: KindInt, i: v} }

func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean payload, with ok=false on kind mismatch.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsFloat returns the float32 payload, with ok=false on kind mismatch.
func (v Value) AsFloat() (float32, bool) { return v.f, v.kind == KindFloat }

// AsInt returns the int32 payload, with ok=false on kind mismatch.
func (v Value) AsInt() (int32, bool) { return v.i, v.kind == KindInt }

func (v Value) Equal(o Value) bool { return v == o }

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprintf("boolean(%t)", v.b)
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.f)
	case KindInt:
		return fmt.Sprintf("int(%d)", v.i)
	default:
		return "invalid"
	}
}

// Zero returns the default value for a kind, used to pre-fill publisher
// allData slots before the first feedback update.
func Zero(k Kind) Value {
	switch k {
	case KindFloat:
		return Float(0)
	case KindInt:
		return Int(0)
	default:
		return Bool(false)
	}
}

// EthernetHeader is the layer-2 envelope of a GOOSE frame including the
// 802.1Q tag and the APPID/length words that precede the APDU.
type EthernetHeader struct {
	DstAddr [6]byte
	SrcAddr [6]byte
	TPID    uint16
	TCI     uint16
	AppID   uint16
	Length  uint16
}

// Pdu is the goosePdu APDU. Field order matches the wire tag order.
type Pdu struct {
	GocbRef          string
	TimeAllowedToLive uint32
	DatSet           string
	GoID             string
	T                [8]byte
	StNum            uint32
	SqNum            uint32
	Simulation       bool
	ConfRev          uint32
	NdsCom           bool
	NumDatSetEntries uint32
	AllData          []Value
}

// Frame is a complete GOOSE frame ready for encoding.
type Frame struct {
	Header EthernetHeader
	Pdu    Pdu
}
