package goose

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BER tags of the goosePdu APDU and its data elements.
const (
	tagGoosePdu      = 0x61
	tagGocbRef       = 0x80
	tagTimeToLive    = 0x81
	tagDatSet        = 0x82
	tagGoID          = 0x83
	tagT             = 0x84
	tagStNum         = 0x85
	tagSqNum         = 0x86
	tagSimulation    = 0x87
	tagConfRev       = 0x88
	tagNdsCom        = 0x89
	tagNumEntries    = 0x8A
	tagAllData       = 0xAB
	tagDataBoolean   = 0x83
	tagDataInteger   = 0x85
	tagDataFloat     = 0x87
)

const (
	etherTypeGoose = 0x88B8
	etherTypeVLAN  = 0x8100

	// exponent width byte that prefixes an IEEE754 single on the wire
	float32ExpWidth = 0x08
)

// ErrDecode wraps all malformed-frame conditions. Callers drop the offending
// packet and count it; they never need to distinguish the sub-cause.
var ErrDecode = errors.New("goose: malformed frame")

// Encode serializes a frame to raw Ethernet bytes. A zero TPID produces an
// untagged frame; otherwise the 802.1Q tag from the header is emitted.
func Encode(f *Frame) ([]byte, error) {
	apdu, err := encodePdu(&f.Pdu)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(f.Header.DstAddr[:])
	buf.Write(f.Header.SrcAddr[:])
	if f.Header.TPID != 0 {
		writeU16(&buf, f.Header.TPID)
		writeU16(&buf, f.Header.TCI)
	}
	writeU16(&buf, etherTypeGoose)
	writeU16(&buf, f.Header.AppID)
	// length covers APPID, length, both reserved words and the APDU
	writeU16(&buf, uint16(8+len(apdu)))
	writeU16(&buf, 0) // reserved 1
	writeU16(&buf, 0) // reserved 2
	buf.Write(apdu)
	return buf.Bytes(), nil
}

func encodePdu(p *Pdu) ([]byte, error) {
	var body bytes.Buffer
	writeTLVString(&body, tagGocbRef, p.GocbRef)
	writeTLVUint(&body, tagTimeToLive, p.TimeAllowedToLive)
	writeTLVString(&body, tagDatSet, p.DatSet)
	writeTLVString(&body, tagGoID, p.GoID)
	writeTLV(&body, tagT, p.T[:])
	writeTLVUint(&body, tagStNum, p.StNum)
	writeTLVUint(&body, tagSqNum, p.SqNum)
	writeTLVBool(&body, tagSimulation, p.Simulation)
	writeTLVUint(&body, tagConfRev, p.ConfRev)
	writeTLVBool(&body, tagNdsCom, p.NdsCom)
	writeTLVUint(&body, tagNumEntries, p.NumDatSetEntries)

	var data bytes.Buffer
	for i, v := range p.AllData {
		switch v.Kind() {
		case KindBool:
			b, _ := v.AsBool()
			writeTLVBool(&data, tagDataBoolean, b)
		case KindInt:
			n, _ := v.AsInt()
			writeTLV(&data, tagDataInteger, encodeInt(n))
		case KindFloat:
			fv, _ := v.AsFloat()
			raw := make([]byte, 5)
			raw[0] = float32ExpWidth
			binary.BigEndian.PutUint32(raw[1:], math.Float32bits(fv))
			writeTLV(&data, tagDataFloat, raw)
		default:
			return nil, fmt.Errorf("allData[%d]: invalid value kind", i)
		}
	}
	writeTLV(&body, tagAllData, data.Bytes())

	var apdu bytes.Buffer
	writeTLV(&apdu, tagGoosePdu, body.Bytes())
	return apdu.Bytes(), nil
}

// Decode parses a raw Ethernet frame into the envelope and PDU. Both tagged
// and untagged GOOSE frames are accepted.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if len(raw) < 14 {
		return f, fmt.Errorf("%w: %d bytes is shorter than an ethernet header", ErrDecode, len(raw))
	}
	copy(f.Header.DstAddr[:], raw[0:6])
	copy(f.Header.SrcAddr[:], raw[6:12])

	offset := 12
	ethType := binary.BigEndian.Uint16(raw[offset:])
	if ethType == etherTypeVLAN {
		if len(raw) < 18 {
			return f, fmt.Errorf("%w: truncated 802.1Q tag", ErrDecode)
		}
		f.Header.TPID = etherTypeVLAN
		f.Header.TCI = binary.BigEndian.Uint16(raw[offset+2:])
		offset += 4
		ethType = binary.BigEndian.Uint16(raw[offset:])
	}
	if ethType != etherTypeGoose {
		return f, fmt.Errorf("%w: ethertype 0x%04X is not GOOSE", ErrDecode, ethType)
	}
	offset += 2

	if len(raw) < offset+8 {
		return f, fmt.Errorf("%w: truncated APPID/length words", ErrDecode)
	}
	f.Header.AppID = binary.BigEndian.Uint16(raw[offset:])
	f.Header.Length = binary.BigEndian.Uint16(raw[offset+2:])
	offset += 8 // APPID, length, two reserved words

	if err := decodePdu(raw[offset:], &f.Pdu); err != nil {
		return f, err
	}
	return f, nil
}

func decodePdu(raw []byte, p *Pdu) error {
	body, err := expectTLV(raw, tagGoosePdu)
	if err != nil {
		return err
	}
	r := reader{buf: body}
	var s string
	var u uint32
	var b bool

	if s, err = r.tlvString(tagGocbRef); err != nil {
		return err
	}
	p.GocbRef = s
	if u, err = r.tlvUint(tagTimeToLive); err != nil {
		return err
	}
	p.TimeAllowedToLive = u
	if s, err = r.tlvString(tagDatSet); err != nil {
		return err
	}
	p.DatSet = s
	if s, err = r.tlvString(tagGoID); err != nil {
		return err
	}
	p.GoID = s
	t, err := r.tlvBytes(tagT)
	if err != nil {
		return err
	}
	if len(t) != 8 {
		return fmt.Errorf("%w: timestamp length %d", ErrDecode, len(t))
	}
	copy(p.T[:], t)
	if u, err = r.tlvUint(tagStNum); err != nil {
		return err
	}
	p.StNum = u
	if u, err = r.tlvUint(tagSqNum); err != nil {
		return err
	}
	p.SqNum = u
	if b, err = r.tlvBool(tagSimulation); err != nil {
		return err
	}
	p.Simulation = b
	if u, err = r.tlvUint(tagConfRev); err != nil {
		return err
	}
	p.ConfRev = u
	if b, err = r.tlvBool(tagNdsCom); err != nil {
		return err
	}
	p.NdsCom = b
	if u, err = r.tlvUint(tagNumEntries); err != nil {
		return err
	}
	p.NumDatSetEntries = u

	data, err := r.tlvBytes(tagAllData)
	if err != nil {
		return err
	}
	p.AllData, err = decodeAllData(data)
	return err
}

func decodeAllData(raw []byte) ([]Value, error) {
	var out []Value
	r := reader{buf: raw}
	for !r.done() {
		tag, val, err := r.next()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagDataBoolean:
			if len(val) != 1 {
				return nil, fmt.Errorf("%w: boolean length %d", ErrDecode, len(val))
			}
			out = append(out, Bool(val[0] != 0))
		case tagDataInteger:
			n, err := decodeInt(val)
			if err != nil {
				return nil, err
			}
			out = append(out, Int(n))
		case tagDataFloat:
			if len(val) != 5 || val[0] != float32ExpWidth {
				return nil, fmt.Errorf("%w: float32 encoding", ErrDecode)
			}
			out = append(out, Float(math.Float32frombits(binary.BigEndian.Uint32(val[1:]))))
		default:
			return nil, fmt.Errorf("%w: unsupported allData tag 0x%02X", ErrDecode, tag)
		}
	}
	return out, nil
}

// ---- TLV primitives ----

type reader struct {
	buf []byte
	pos int
}

func (r *reader) done() bool { return r.pos >= len(r.buf) }

func (r *reader) next() (byte, []byte, error) {
	if r.pos+2 > len(r.buf) {
		return 0, nil, fmt.Errorf("%w: truncated TLV header", ErrDecode)
	}
	tag := r.buf[r.pos]
	length, consumed, err := readLength(r.buf[r.pos+1:])
	if err != nil {
		return 0, nil, err
	}
	start := r.pos + 1 + consumed
	if start+length > len(r.buf) {
		return 0, nil, fmt.Errorf("%w: TLV length %d exceeds buffer", ErrDecode, length)
	}
	r.pos = start + length
	return tag, r.buf[start : start+length], nil
}

func (r *reader) tlvBytes(want byte) ([]byte, error) {
	tag, val, err := r.next()
	if err != nil {
		return nil, err
	}
	if tag != want {
		return nil, fmt.Errorf("%w: expected tag 0x%02X, got 0x%02X", ErrDecode, want, tag)
	}
	return val, nil
}

func (r *reader) tlvString(want byte) (string, error) {
	val, err := r.tlvBytes(want)
	return string(val), err
}

func (r *reader) tlvUint(want byte) (uint32, error) {
	val, err := r.tlvBytes(want)
	if err != nil {
		return 0, err
	}
	if len(val) == 0 || len(val) > 5 {
		return 0, fmt.Errorf("%w: unsigned length %d", ErrDecode, len(val))
	}
	var n uint64
	for _, b := range val {
		n = n<<8 | uint64(b)
	}
	if n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: unsigned overflow", ErrDecode)
	}
	return uint32(n), nil
}

func (r *reader) tlvBool(want byte) (bool, error) {
	val, err := r.tlvBytes(want)
	if err != nil {
		return false, err
	}
	if len(val) != 1 {
		return false, fmt.Errorf("%w: boolean length %d", ErrDecode, len(val))
	}
	return val[0] != 0, nil
}

func expectTLV(raw []byte, want byte) ([]byte, error) {
	r := reader{buf: raw}
	return r.tlvBytes(want)
}

// readLength parses a BER definite length, returning the value and the
// number of bytes consumed.
func readLength(raw []byte) (int, int, error) {
	if len(raw) == 0 {
		return 0, 0, fmt.Errorf("%w: missing length", ErrDecode)
	}
	first := raw[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	n := int(first & 0x7F)
	if n == 0 || n > 2 || len(raw) < 1+n {
		return 0, 0, fmt.Errorf("%w: unsupported length form 0x%02X", ErrDecode, first)
	}
	length := 0
	for _, b := range raw[1 : 1+n] {
		length = length<<8 | int(b)
	}
	return length, 1 + n, nil
}

func writeLength(buf *bytes.Buffer, n int) {
	switch {
	case n < 0x80:
		buf.WriteByte(byte(n))
	case n <= 0xFF:
		buf.WriteByte(0x81)
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(0x82)
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	}
}

func writeTLV(buf *bytes.Buffer, tag byte, val []byte) {
	buf.WriteByte(tag)
	writeLength(buf, len(val))
	buf.Write(val)
}

func writeTLVString(buf *bytes.Buffer, tag byte, s string) {
	writeTLV(buf, tag, []byte(s))
}

func writeTLVBool(buf *bytes.Buffer, tag byte, v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	writeTLV(buf, tag, []byte{b})
}

func writeTLVUint(buf *bytes.Buffer, tag byte, v uint32) {
	writeTLV(buf, tag, encodeUint(v))
}

// encodeUint emits a minimal big-endian unsigned integer with a leading
// zero byte when the top bit would otherwise flag it negative.
func encodeUint(v uint32) []byte {
	out := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	for len(out) > 1 && out[0] == 0 {
		out = out[1:]
	}
	if out[0]&0x80 != 0 {
		out = append([]byte{0}, out...)
	}
	return out
}

// encodeInt emits a minimal big-endian two's complement integer.
func encodeInt(v int32) []byte {
	out := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	for len(out) > 1 {
		if out[0] == 0x00 && out[1]&0x80 == 0 {
			out = out[1:]
			continue
		}
		if out[0] == 0xFF && out[1]&0x80 != 0 {
			out = out[1:]
			continue
		}
		break
	}
	return out
}

func decodeInt(raw []byte) (int32, error) {
	if len(raw) == 0 || len(raw) > 4 {
		return 0, fmt.Errorf("%w: integer length %d", ErrDecode, len(raw))
	}
	n := int64(int8(raw[0])) // sign extend from the first byte
	for _, b := range raw[1:] {
		n = n<<8 | int64(b)
	}
	return int32(n), nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}
