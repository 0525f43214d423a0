// Package ipaddr provides the fixed-size IPv4 and hardware-address value
// types used throughout the DHCP core, plus the host-address increment
// operator the lease pool scans with.
package ipaddr

import (
	"fmt"
	"net"
)

// IPv4 is a four-byte IPv4 address, ordered most-significant octet first.
type IPv4 [4]byte

// MAC is a six-byte Ethernet hardware address.
type MAC [6]byte

// ZeroIPv4 is the unspecified address 0.0.0.0.
var ZeroIPv4 = IPv4{0, 0, 0, 0}

// FromNetIP converts a net.IP into an IPv4, returning false if ip is not a
// valid 4-byte (or 4-in-16) address.
func FromNetIP(ip net.IP) (IPv4, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return IPv4{}, false
	}
	return IPv4{v4[0], v4[1], v4[2], v4[3]}, true
}

// ParseIPv4 parses a dotted-decimal string into an IPv4.
func ParseIPv4(s string) (IPv4, bool) {
	return FromNetIP(net.ParseIP(s))
}

// ToNetIP returns the net.IP view of addr.
func (addr IPv4) ToNetIP() net.IP {
	return net.IPv4(addr[0], addr[1], addr[2], addr[3]).To4()
}

// IsZero reports whether addr is 0.0.0.0.
func (addr IPv4) IsZero() bool {
	return addr == ZeroIPv4
}

// String renders addr in dotted-decimal form.
func (addr IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", addr[0], addr[1], addr[2], addr[3])
}

// Less reports whether addr sorts before other, comparing octets
// most-significant first.
func (addr IPv4) Less(other IPv4) bool {
	for i := 0; i < 4; i++ {
		if addr[i] != other[i] {
			return addr[i] < other[i]
		}
	}
	return false
}

// Compare returns -1, 0, or 1 as addr is less than, equal to, or greater
// than other.
func (addr IPv4) Compare(other IPv4) int {
	for i := 0; i < 4; i++ {
		if addr[i] != other[i] {
			if addr[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Next returns the next host address after addr, carrying into higher
// octets as needed and skipping any address whose last octet is 0 or 255
// (higher octets may be 255, e.g. 10.0.255.1). ok is false only on
// overflow past 255.255.255.255, which the lease manager never reaches
// because its allocation scan stops at lease_end first.
//
// Unlike the Rust original this scans iteratively rather than recursing,
// per the redesign note: recursion here only ever existed to re-check the
// skip condition after carrying into the next octet.
func (addr IPv4) Next() (next IPv4, ok bool) {
	next = addr
	for {
		i := 3
		for i >= 0 {
			if next[i] != 255 {
				next[i]++
				break
			}
			next[i] = 0
			i--
		}
		if i < 0 {
			// Overflowed past 255.255.255.255.
			return IPv4{}, false
		}
		if next[3] == 0 || next[3] == 255 {
			continue
		}
		return next, true
	}
}

// MACFromNetHardwareAddr converts a net.HardwareAddr into a MAC, returning
// false if it is not exactly 6 bytes.
func MACFromNetHardwareAddr(hw net.HardwareAddr) (MAC, bool) {
	if len(hw) != 6 {
		return MAC{}, false
	}
	var mac MAC
	copy(mac[:], hw)
	return mac, true
}

// MACFromString parses a colon- or dash-separated hardware address string
// into a MAC.
func MACFromString(s string) (MAC, bool) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, false
	}
	return MACFromNetHardwareAddr(hw)
}

// ToNetHardwareAddr returns the net.HardwareAddr view of mac.
func (mac MAC) ToNetHardwareAddr() net.HardwareAddr {
	return append(net.HardwareAddr(nil), mac[:]...)
}

// String renders mac in colon-separated hex form.
func (mac MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
