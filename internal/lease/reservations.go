package lease

import "github.com/shipsimfan/dhcp-server/internal/ipaddr"

// Reservations is an immutable MAC→IP table loaded once at startup. The
// protocol engine checks Reservations before consulting a Manager for a
// reserved MAC. A Manager does not consult this table, so a reserved
// address that lies inside the lease range can also be allocated from the
// dynamic pool to another MAC.
type Reservations struct {
	byMAC map[ipaddr.MAC]ipaddr.IPv4
}

// NewReservations builds a Reservations table from a set of (mac, ip)
// pairs. Duplicate MACs from distinct sources are the caller's problem to
// catch (see internal/config and internal/reservedb, which reject
// conflicting entries before this constructor ever runs).
func NewReservations(pairs map[ipaddr.MAC]ipaddr.IPv4) *Reservations {
	byMAC := make(map[ipaddr.MAC]ipaddr.IPv4, len(pairs))
	for mac, ip := range pairs {
		byMAC[mac] = ip
	}
	return &Reservations{byMAC: byMAC}
}

// Lookup returns the reserved address for mac, if any.
func (r *Reservations) Lookup(mac ipaddr.MAC) (ipaddr.IPv4, bool) {
	ip, ok := r.byMAC[mac]
	return ip, ok
}

// Len reports the number of reservations.
func (r *Reservations) Len() int {
	return len(r.byMAC)
}

// All returns an owned copy of every reservation, for status reporting.
func (r *Reservations) All() map[ipaddr.MAC]ipaddr.IPv4 {
	out := make(map[ipaddr.MAC]ipaddr.IPv4, len(r.byMAC))
	for mac, ip := range r.byMAC {
		out[mac] = ip
	}
	return out
}
