// Package wire implements the DHCPv4 packet wire format: fixed header,
// magic cookie, and TLV options, per RFC 2131/2132. Decode and Encode are
// the only entry points; everything else in this package is private
// layout detail.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Op values for the fixed op field.
const (
	OpRequest byte = 1
	OpReply   byte = 2
)

// HtypeEthernet is the only hardware type this server accepts for chaddr.
const HtypeEthernet byte = 1

const (
	minPacketLength = 241
	headerLength    = 240 // everything up to and including the magic cookie
	optionsOffset   = 240
	chaddrOffset    = 28
	chaddrLength    = 16
	snameLength     = 64
	fileLength      = 128
)

var magicCookie = [4]byte{99, 130, 83, 99}

// Sentinel wire errors. Wrapped with github.com/pkg/errors so callers can
// still recover the underlying cause via errors.Cause while logging a
// single, specific error kind.
var (
	ErrTooShort           = errors.New("dhcp: packet shorter than minimum header length")
	ErrNoEndOption        = errors.New("dhcp: options truncated before end option")
	ErrInvalidLength      = errors.New("dhcp: option length exceeds remaining packet")
	ErrInvalidMagic       = errors.New("dhcp: magic cookie mismatch")
	ErrInvalidMessageType = errors.New("dhcp: op field is not BOOTREQUEST or BOOTREPLY")
)

// OptionEnd is the terminating option code; it carries no length or value.
const OptionEnd byte = 255

// Option is a single (code, value) pair from the options area of a packet.
// Decode never yields the End option, and Encode always writes it itself
// after the other options, skipping any Option whose Code is OptionEnd.
type Option struct {
	Code  byte
	Value []byte
}

// Packet is the decoded, in-memory form of a DHCP message.
type Packet struct {
	Op      byte
	Htype   byte
	Hlen    byte
	Hops    byte
	Xid     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  [4]byte
	YIAddr  [4]byte
	SIAddr  [4]byte
	GIAddr  [4]byte
	CHAddr  [16]byte
	Options []Option
}

// Option looks up the first option with the given code.
func (p *Packet) Option(code byte) (Option, bool) {
	for _, opt := range p.Options {
		if opt.Code == code {
			return opt, true
		}
	}
	return Option{}, false
}

// SetOption appends an option. Callers build packets option-by-option in
// the exact emission order the protocol engine requires; SetOption never
// deduplicates or reorders.
func (p *Packet) SetOption(code byte, value []byte) {
	p.Options = append(p.Options, Option{Code: code, Value: value})
}

// Decode parses a raw UDP payload into a Packet.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < minPacketLength {
		return nil, errors.Wrapf(ErrTooShort, "got %d bytes, need at least %d", len(buf), minPacketLength)
	}

	op := buf[0]
	if op != OpRequest && op != OpReply {
		return nil, errors.Wrapf(ErrInvalidMessageType, "op=%d", op)
	}

	var cookie [4]byte
	copy(cookie[:], buf[236:240])
	if cookie != magicCookie {
		return nil, errors.Wrapf(ErrInvalidMagic, "got %v", cookie)
	}

	p := &Packet{
		Op:    op,
		Htype: buf[1],
		Hlen:  buf[2],
		Hops:  buf[3],
		Xid:   binary.BigEndian.Uint32(buf[4:8]),
		Secs:  binary.BigEndian.Uint16(buf[8:10]),
		Flags: binary.BigEndian.Uint16(buf[10:12]),
	}
	copy(p.CIAddr[:], buf[12:16])
	copy(p.YIAddr[:], buf[16:20])
	copy(p.SIAddr[:], buf[20:24])
	copy(p.GIAddr[:], buf[24:28])
	copy(p.CHAddr[:], buf[chaddrOffset:chaddrOffset+chaddrLength])

	options, err := decodeOptions(buf[optionsOffset:])
	if err != nil {
		return nil, err
	}
	p.Options = options

	return p, nil
}

func decodeOptions(buf []byte) ([]Option, error) {
	var options []Option
	i := 0
	for {
		if i >= len(buf) {
			return nil, ErrNoEndOption
		}
		code := buf[i]
		if code == OptionEnd {
			return options, nil
		}
		i++
		if i >= len(buf) {
			return nil, errors.Wrap(ErrInvalidLength, "truncated length byte")
		}
		length := int(buf[i])
		i++
		if i+length > len(buf) {
			return nil, errors.Wrapf(ErrInvalidLength, "option %d declares length %d past end of buffer", code, length)
		}
		value := append([]byte(nil), buf[i:i+length]...)
		options = append(options, Option{Code: code, Value: value})
		i += length
	}
}

// Encode serializes p into wire format, zeroing sname/file and always
// terminating the options list with the End option.
func Encode(p *Packet) []byte {
	buf := make([]byte, headerLength, headerLength+len(p.Options)*2+16+1)
	buf[0] = p.Op
	buf[1] = p.Htype
	buf[2] = p.Hlen
	buf[3] = p.Hops
	binary.BigEndian.PutUint32(buf[4:8], p.Xid)
	binary.BigEndian.PutUint16(buf[8:10], p.Secs)
	binary.BigEndian.PutUint16(buf[10:12], p.Flags)
	copy(buf[12:16], p.CIAddr[:])
	copy(buf[16:20], p.YIAddr[:])
	copy(buf[20:24], p.SIAddr[:])
	copy(buf[24:28], p.GIAddr[:])
	copy(buf[chaddrOffset:chaddrOffset+chaddrLength], p.CHAddr[:])
	// sname (64) and file (128) are already zero from make().
	copy(buf[236:240], magicCookie[:])

	for _, opt := range p.Options {
		if opt.Code == OptionEnd {
			continue
		}
		buf = append(buf, opt.Code, byte(len(opt.Value)))
		buf = append(buf, opt.Value...)
	}
	buf = append(buf, OptionEnd)

	return buf
}
