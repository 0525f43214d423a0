// Package config loads and validates the server's configuration
// snapshot. The on-disk format is YAML; the recognized keys mirror the
// abstract dotted names from spec.md §6 (lease.start, lease.final,
// gateway, us, subnet-mask, broadcast, dns.1, dns.2, lease.time,
// renewal-time, rebinding-time, offer-time, reserved.N.mac/ip), nested
// into a struct instead of flattened, per SPEC_FULL.md §6.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
)

// DefaultPath is used when no configuration file is given on the command
// line.
const DefaultPath = "./config"

const (
	defaultAddressTime = 48 * time.Hour
	defaultOfferTime   = 30 * time.Second
)

// Reservation is one static MAC->IP pairing from the config file.
type Reservation struct {
	MAC string `yaml:"mac"`
	IP  string `yaml:"ip"`
}

// ReservationDB describes an optional MySQL-backed source of additional
// reservations, loaded by internal/reservedb. Per SPEC_FULL.md §2/§10
// this is additive to, not a replacement for, the inline Reservations
// list.
type ReservationDB struct {
	DSN       string `yaml:"dsn"`
	Table     string `yaml:"table"`
	MACColumn string `yaml:"mac_column"`
	IPColumn  string `yaml:"ip_column"`
}

type leaseSection struct {
	Start string  `yaml:"start"`
	Final string  `yaml:"final"`
	Time  *uint32 `yaml:"time"`
}

// raw is the literal on-disk shape.
type raw struct {
	Lease         leaseSection   `yaml:"lease"`
	Gateway       string         `yaml:"gateway"`
	Us            string         `yaml:"us"`
	SubnetMask    string         `yaml:"subnet-mask"`
	Broadcast     string         `yaml:"broadcast"`
	DNS1          string         `yaml:"dns.1"`
	DNS2          string         `yaml:"dns.2"`
	RenewalTime   *uint32        `yaml:"renewal-time"`
	RebindingTime *uint32        `yaml:"rebinding-time"`
	OfferTime     *uint64        `yaml:"offer-time"`
	Reserved      []Reservation  `yaml:"reserved"`
	ReservationDB *ReservationDB `yaml:"reservation_db"`
	StatusListen  string         `yaml:"status_listen"`
	LogLevel      string         `yaml:"log_level"`
}

// Config is the immutable, validated configuration snapshot the rest of
// the server borrows at construction time; nothing reads it from ambient
// global state (spec.md §9).
type Config struct {
	LeaseStart       ipaddr.IPv4
	LeaseEnd         ipaddr.IPv4
	GatewayIP        ipaddr.IPv4
	OurIP            ipaddr.IPv4
	SubnetMask       ipaddr.IPv4
	BroadcastAddress ipaddr.IPv4
	DNSPrimary       ipaddr.IPv4
	DNSSecondary     ipaddr.IPv4

	AddressTime   time.Duration
	RenewalTime   time.Duration
	RebindingTime time.Duration
	OfferTime     time.Duration

	Reservations  map[ipaddr.MAC]ipaddr.IPv4
	ReservationDB *ReservationDB

	StatusListen string
	LogLevel     string
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration file %q", path)
	}

	var r raw
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration file %q", path)
	}

	return fromRaw(r)
}

func fromRaw(r raw) (*Config, error) {
	leaseStart, err := requireIP(r.Lease.Start, "lease.start")
	if err != nil {
		return nil, err
	}
	leaseEnd, err := requireIP(r.Lease.Final, "lease.final")
	if err != nil {
		return nil, err
	}
	gateway, err := requireIP(r.Gateway, "gateway")
	if err != nil {
		return nil, err
	}
	ourIP, err := requireIP(r.Us, "us")
	if err != nil {
		return nil, err
	}
	subnetMask, err := requireIP(r.SubnetMask, "subnet-mask")
	if err != nil {
		return nil, err
	}
	broadcast, err := requireIP(r.Broadcast, "broadcast")
	if err != nil {
		return nil, err
	}
	dns1, err := requireIP(r.DNS1, "dns.1")
	if err != nil {
		return nil, err
	}
	dns2, err := requireIP(r.DNS2, "dns.2")
	if err != nil {
		return nil, err
	}

	reservations := make(map[ipaddr.MAC]ipaddr.IPv4, len(r.Reserved))
	for i, entry := range r.Reserved {
		mac, ok := parseMAC(entry.MAC)
		if !ok {
			return nil, errors.Errorf("reserved[%d].mac %q is not a valid MAC address", i, entry.MAC)
		}
		ip, ok := ipaddr.ParseIPv4(entry.IP)
		if !ok {
			return nil, errors.Errorf("reserved[%d].ip %q is not a valid IPv4 address", i, entry.IP)
		}
		if _, dup := reservations[mac]; dup {
			return nil, errors.Errorf("reserved[%d].mac %q duplicates an earlier reservation", i, entry.MAC)
		}
		reservations[mac] = ip
	}

	addressTime := defaultAddressTime
	if r.Lease.Time != nil {
		addressTime = time.Duration(*r.Lease.Time) * time.Second
	}

	renewalTime := addressTime / 2
	if r.RenewalTime != nil {
		renewalTime = time.Duration(*r.RenewalTime) * time.Second
	}

	// Default rebinding time is 0.75*lease (T2 ~ 0.875*lease per RFC
	// 2131, but this server preserves the source's (lease/4)*3 default
	// rather than silently adopting the RFC figure; see spec.md §9 and
	// DESIGN.md.
	rebindingTime := (addressTime / 4) * 3
	if r.RebindingTime != nil {
		rebindingTime = time.Duration(*r.RebindingTime) * time.Second
	}

	offerTime := defaultOfferTime
	if r.OfferTime != nil {
		offerTime = time.Duration(*r.OfferTime) * time.Second
	}

	return &Config{
		LeaseStart:       leaseStart,
		LeaseEnd:         leaseEnd,
		GatewayIP:        gateway,
		OurIP:            ourIP,
		SubnetMask:       subnetMask,
		BroadcastAddress: broadcast,
		DNSPrimary:       dns1,
		DNSSecondary:     dns2,
		AddressTime:      addressTime,
		RenewalTime:      renewalTime,
		RebindingTime:    rebindingTime,
		OfferTime:        offerTime,
		Reservations:     reservations,
		ReservationDB:    r.ReservationDB,
		StatusListen:     r.StatusListen,
		LogLevel:         r.LogLevel,
	}, nil
}

func requireIP(value, field string) (ipaddr.IPv4, error) {
	if value == "" {
		return ipaddr.IPv4{}, errors.Errorf("missing required configuration field %q", field)
	}
	ip, ok := ipaddr.ParseIPv4(value)
	if !ok {
		return ipaddr.IPv4{}, errors.Errorf("configuration field %q has invalid IPv4 value %q", field, value)
	}
	return ip, nil
}

func parseMAC(s string) (ipaddr.MAC, bool) {
	return ipaddr.MACFromString(s)
}

// String renders a human-readable dump of the effective configuration,
// suitable for logging at startup before the server begins serving.
func (c *Config) String() string {
	s := "Lease:\n"
	s += fmt.Sprintf("  Start: %s\n", c.LeaseStart)
	s += fmt.Sprintf("  End: %s\n", c.LeaseEnd)
	s += fmt.Sprintf("  Time: %s\n", c.AddressTime)
	s += fmt.Sprintf("Our IP: %s\n", c.OurIP)
	s += fmt.Sprintf("Gateway IP: %s\n", c.GatewayIP)
	s += fmt.Sprintf("Subnet Mask: %s\n", c.SubnetMask)
	s += fmt.Sprintf("Broadcast Address: %s\n", c.BroadcastAddress)
	s += fmt.Sprintf("DNS: (%s, %s)\n", c.DNSPrimary, c.DNSSecondary)
	s += fmt.Sprintf("Renewal Time: %s\n", c.RenewalTime)
	s += fmt.Sprintf("Rebinding Time: %s\n", c.RebindingTime)
	s += fmt.Sprintf("Offer Time: %s\n", c.OfferTime)
	s += fmt.Sprintf("Reservations: %d\n", len(c.Reservations))
	return s
}
