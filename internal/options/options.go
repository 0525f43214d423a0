// Package options enumerates the DHCP option codes this server recognizes
// and provides typed encode/decode helpers for them, per spec.md §4.2.
package options

import (
	"encoding/binary"

	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
	"github.com/shipsimfan/dhcp-server/internal/wire"
)

// Option codes used by this server.
const (
	SubnetMask        byte = 1
	Router            byte = 3
	DNS               byte = 6
	BroadcastAddress  byte = 28
	RequestedAddress  byte = 50
	AddressLeaseTime  byte = 51
	MessageType       byte = 53
	ServerIdentifier  byte = 54
	RenewalTime       byte = 58
	RebindingTime     byte = 59
	ClientIdentifier  byte = 61
	End               byte = wire.OptionEnd
)

// Message subtypes carried in the single-byte MessageType option.
const (
	MsgDiscover byte = 1
	MsgOffer    byte = 2
	MsgRequest  byte = 3
	MsgDecline  byte = 4
	MsgAck      byte = 5
	MsgNak      byte = 6
	MsgRelease  byte = 7
	MsgInform   byte = 8
)

// PutIPv4 encodes a single 4-byte IPv4 option value.
func PutIPv4(addr ipaddr.IPv4) []byte {
	return append([]byte(nil), addr[:]...)
}

// GetIPv4 decodes a 4-byte IPv4 option value.
func GetIPv4(value []byte) (ipaddr.IPv4, bool) {
	if len(value) != 4 {
		return ipaddr.IPv4{}, false
	}
	return ipaddr.IPv4{value[0], value[1], value[2], value[3]}, true
}

// PutIPv4Pair encodes two IPv4 addresses back to back, as used by the DNS
// option.
func PutIPv4Pair(first, second ipaddr.IPv4) []byte {
	out := make([]byte, 0, 8)
	out = append(out, first[:]...)
	out = append(out, second[:]...)
	return out
}

// PutU32 encodes a big-endian uint32 seconds value, as used by the lease,
// renewal, and rebinding time options.
func PutU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// GetU32 decodes a big-endian uint32 option value.
func GetU32(value []byte) (uint32, bool) {
	if len(value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(value), true
}

// PutClientIdentifier encodes option 61 as a single htype byte followed by
// the hardware address.
func PutClientIdentifier(mac ipaddr.MAC) []byte {
	out := make([]byte, 0, 7)
	out = append(out, wire.HtypeEthernet)
	out = append(out, mac[:]...)
	return out
}
