// Package lease owns the pool of offered and leased dynamic addresses,
// plus the static per-MAC reservation table. Manager is the only mutable,
// concurrently-shared state in the core; every entry point serializes
// through a single mutex per spec.md §5.
package lease

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
)

// ErrPoolExhausted describes an exhausted address pool. Allocate reports
// exhaustion through its boolean result and does not return this value.
var ErrPoolExhausted = errors.New("lease: address pool exhausted")

type binding struct {
	mac       ipaddr.MAC
	timestamp time.Time
}

// Manager tracks tentative offers and committed leases over a fixed
// inclusive IPv4 range.
type Manager struct {
	mu sync.Mutex

	start, end          ipaddr.IPv4
	addressTime         time.Duration
	offerTime           time.Duration
	leases              map[ipaddr.IPv4]binding
	offers              map[ipaddr.IPv4]binding
	nextAvailable       *ipaddr.IPv4
	now                 func() time.Time
}

// New creates a Manager over the inclusive range [start, end].
func New(start, end ipaddr.IPv4, addressTime, offerTime time.Duration) *Manager {
	hint := start
	return &Manager{
		start:         start,
		end:           end,
		addressTime:   addressTime,
		offerTime:     offerTime,
		leases:        make(map[ipaddr.IPv4]binding),
		offers:        make(map[ipaddr.IPv4]binding),
		nextAvailable: &hint,
		now:           time.Now,
	}
}

// Snapshot is an owned, point-in-time view of one lease, returned by
// Leases so callers never see the internal maps directly (spec.md §9).
type Snapshot struct {
	IP        ipaddr.IPv4
	MAC       ipaddr.MAC
	Committed time.Time
	Expiry    time.Time
}

// Allocate reserves the next free address in the pool for mac as a
// tentative offer. The scan starts at the next-available hint (or the
// range start when there is none) and stops at the range end, so a false
// result means no address from the hint to the end is free; addresses
// below the hint are not searched in that call. A false result clears the
// hint, so the following call scans from the range start.
func (m *Manager) Allocate(mac ipaddr.MAC) (ipaddr.IPv4, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.start
	if m.nextAvailable != nil {
		start = *m.nextAvailable
	}

	candidate := start
	found := false
	m.nextAvailable = nil
	for {
		if _, taken := m.leases[candidate]; !taken {
			if _, offered := m.offers[candidate]; !offered {
				found = true
				break
			}
		}
		if candidate == m.end {
			break
		}
		next, ok := candidate.Next()
		if !ok || m.end.Less(next) {
			break
		}
		candidate = next
	}

	if !found {
		return ipaddr.IPv4{}, false
	}

	if next, ok := candidate.Next(); ok && !m.end.Less(next) {
		m.nextAvailable = &next
	}

	m.offers[candidate] = binding{mac: mac, timestamp: m.now()}
	return candidate, true
}

// AcceptOffer commits a tentative binding: ip must lie within the
// configured range, and any existing offer or lease for ip must already
// belong to mac. Repeating the call with the same (ip, mac) is a no-op
// that refreshes the commit timestamp (rebinding/renewal).
func (m *Manager) AcceptOffer(ip ipaddr.IPv4, mac ipaddr.MAC) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ip.Less(m.start) || m.end.Less(ip) {
		return false
	}

	if b, ok := m.offers[ip]; ok && b.mac != mac {
		return false
	}
	if b, ok := m.leases[ip]; ok && b.mac != mac {
		return false
	}

	delete(m.offers, ip)
	m.leases[ip] = binding{mac: mac, timestamp: m.now()}
	return true
}

// Release removes the lease for ip if, and only if, it is currently bound
// to mac.
func (m *Manager) Release(ip ipaddr.IPv4, mac ipaddr.MAC) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.leases[ip]; ok && b.mac == mac {
		delete(m.leases, ip)
	}
}

// FindIPFor returns the address currently leased to mac, if any.
func (m *Manager) FindIPFor(mac ipaddr.MAC) (ipaddr.IPv4, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ip, b := range m.leases {
		if b.mac == mac {
			return ip, true
		}
	}
	return ipaddr.IPv4{}, false
}

// Clean removes every offer older than the offer hold time and every
// lease older than the address lease time. It is idempotent and cheap to
// call redundantly; the protocol engine calls it at the head of every
// request.
func (m *Manager) Clean() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for ip, b := range m.offers {
		if now.Sub(b.timestamp) > m.offerTime {
			delete(m.offers, ip)
		}
	}
	for ip, b := range m.leases {
		if now.Sub(b.timestamp) > m.addressTime {
			delete(m.leases, ip)
		}
	}
}

// Leases returns an owned snapshot of every currently committed lease.
func (m *Manager) Leases() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.leases))
	for ip, b := range m.leases {
		out = append(out, Snapshot{
			IP:        ip,
			MAC:       b.mac,
			Committed: b.timestamp,
			Expiry:    b.timestamp.Add(m.addressTime),
		})
	}
	return out
}
