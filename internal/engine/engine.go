// Package engine implements the per-packet DHCP protocol dispatch: it
// validates the incoming packet, consults the reservation table and lease
// manager, and builds the outbound OFFER/ACK/NACK packet together with
// the destination it should be sent to, per spec.md §4.4.
package engine

import (
	"net"

	"github.com/pkg/errors"

	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
	"github.com/shipsimfan/dhcp-server/internal/lease"
	"github.com/shipsimfan/dhcp-server/internal/options"
	"github.com/shipsimfan/dhcp-server/internal/wire"
)

// ServerPort and ClientPort are the well-known DHCP UDP ports.
const (
	ServerPort = 67
	ClientPort = 68
)

// Protocol errors. Each is a request-dropped condition per spec.md §7;
// none of them produce a wire response except where noted.
var (
	ErrMalformedOption             = errors.New("engine: option value malformed")
	ErrNoMsgType                   = errors.New("engine: no DHCP message type option present")
	ErrInvalidHardwareType          = errors.New("engine: unsupported hardware type")
	ErrInvalidHardwareAddressLength = errors.New("engine: hardware address length is not 6")
	ErrNoIPAddressesAvailable       = errors.New("engine: no IP addresses available")
	ErrInvalidRequestedAddressLength = errors.New("engine: requested address option is not 4 bytes")
	ErrNoRequestedIPInRequest       = errors.New("engine: REQUEST carries neither option 50 nor a non-zero ciaddr")
	ErrInvalidRenewAddress          = errors.New("engine: renew/rebind address does not match reservation or lease manager")
	ErrDeclineMessageReceived       = errors.New("engine: DHCPDECLINE received")
)

// Config is the immutable network configuration the engine hands out to
// clients. It is a borrowed snapshot, not ambient global state, per
// spec.md §9.
type Config struct {
	OurIP             ipaddr.IPv4
	GatewayIP         ipaddr.IPv4
	SubnetMask        ipaddr.IPv4
	BroadcastAddress  ipaddr.IPv4
	DNSPrimary        ipaddr.IPv4
	DNSSecondary      ipaddr.IPv4
	AddressTime       uint32
	RenewalTime       uint32
	RebindingTime     uint32
}

// Engine is the stateless (aside from the shared Manager/Reservations it
// wraps) protocol handler. It never performs I/O; the request loop owns
// the socket.
type Engine struct {
	conf         Config
	leases       *lease.Manager
	reservations *lease.Reservations
}

// New creates an Engine over the given configuration, lease manager, and
// reservation table.
func New(conf Config, leases *lease.Manager, reservations *lease.Reservations) *Engine {
	return &Engine{conf: conf, leases: leases, reservations: reservations}
}

// Result is the outcome of handling one packet: a response to send, and
// where to send it. Handle returns a nil *Result with a nil error when no
// response is due (e.g. RELEASE, or an inbound reply packet).
type Result struct {
	Response    *wire.Packet
	Destination *net.UDPAddr // nil means "broadcast on the local segment"
}

// Handle processes one inbound packet per spec.md §4.4.
func (e *Engine) Handle(pkt *wire.Packet) (*Result, error) {
	if pkt.Op == wire.OpReply {
		return nil, nil
	}

	e.leases.Clean()

	msgOpt, ok := pkt.Option(options.MessageType)
	if !ok {
		return nil, ErrNoMsgType
	}
	if len(msgOpt.Value) < 1 {
		return nil, ErrMalformedOption
	}
	msgType := msgOpt.Value[0]

	if pkt.Htype != wire.HtypeEthernet {
		return nil, ErrInvalidHardwareType
	}
	if pkt.Hlen != 6 {
		return nil, ErrInvalidHardwareAddressLength
	}

	var chaddr [6]byte
	copy(chaddr[:], pkt.CHAddr[:6])
	mac := ipaddr.MAC(chaddr)

	switch msgType {
	case options.MsgDiscover:
		return e.handleDiscover(pkt, mac)
	case options.MsgRequest:
		return e.handleRequest(pkt, mac)
	case options.MsgDecline:
		return nil, ErrDeclineMessageReceived
	case options.MsgRelease:
		e.handleRelease(pkt, mac)
		return nil, nil
	case options.MsgInform:
		return e.handleInform(pkt, mac), nil
	default:
		return nil, nil
	}
}

func (e *Engine) handleDiscover(pkt *wire.Packet, mac ipaddr.MAC) (*Result, error) {
	ciaddr := ipaddr.IPv4(pkt.CIAddr)

	var chosen ipaddr.IPv4
	switch {
	case !ciaddr.IsZero() && e.reservedFor(mac, ciaddr):
		chosen = ciaddr
	case !ciaddr.IsZero() && e.leasedFor(mac, ciaddr):
		chosen = ciaddr
	default:
		if ip, ok := e.reservations.Lookup(mac); ok {
			chosen = ip
		} else {
			ip, ok := e.leases.Allocate(mac)
			if !ok {
				return nil, ErrNoIPAddressesAvailable
			}
			chosen = ip
		}
	}

	resp := e.buildResponse(pkt, mac, options.MsgOffer, chosen)
	return &Result{Response: resp, Destination: e.destinationFor(pkt)}, nil
}

func (e *Engine) handleRequest(pkt *wire.Packet, mac ipaddr.MAC) (*Result, error) {
	ciaddr := ipaddr.IPv4(pkt.CIAddr)

	reqOpt, hasReqOpt := pkt.Option(options.RequestedAddress)
	renewPath := false
	var requested ipaddr.IPv4

	switch {
	case hasReqOpt:
		ip, ok := options.GetIPv4(reqOpt.Value)
		if !ok {
			return nil, ErrInvalidRequestedAddressLength
		}
		requested = ip
	case !ciaddr.IsZero():
		renewPath = true
		requested = ciaddr
	default:
		return nil, ErrNoRequestedIPInRequest
	}

	if reservedIP, ok := e.reservations.Lookup(mac); ok {
		if requested != reservedIP {
			if renewPath {
				return nil, ErrInvalidRenewAddress
			}
			return &Result{Response: e.buildNak(pkt, mac), Destination: nil}, nil
		}
		resp := e.buildResponse(pkt, mac, options.MsgAck, requested)
		return &Result{Response: resp, Destination: e.destinationFor(pkt)}, nil
	}

	if !e.leases.AcceptOffer(requested, mac) {
		if renewPath {
			return nil, ErrInvalidRenewAddress
		}
		return &Result{Response: e.buildNak(pkt, mac), Destination: nil}, nil
	}

	resp := e.buildResponse(pkt, mac, options.MsgAck, requested)
	return &Result{Response: resp, Destination: e.destinationFor(pkt)}, nil
}

func (e *Engine) handleRelease(pkt *wire.Packet, mac ipaddr.MAC) {
	e.leases.Release(ipaddr.IPv4(pkt.CIAddr), mac)
}

func (e *Engine) handleInform(pkt *wire.Packet, mac ipaddr.MAC) *Result {
	resp := &wire.Packet{
		Op:     wire.OpReply,
		Htype:  wire.HtypeEthernet,
		Hlen:   6,
		Xid:    pkt.Xid,
		CIAddr: pkt.CIAddr,
		SIAddr: e.conf.OurIP,
		GIAddr: pkt.GIAddr,
		CHAddr: pkt.CHAddr,
	}
	resp.SetOption(options.MessageType, []byte{options.MsgAck})
	resp.SetOption(options.ServerIdentifier, options.PutIPv4(e.conf.OurIP))
	resp.SetOption(options.SubnetMask, options.PutIPv4(e.conf.SubnetMask))
	resp.SetOption(options.BroadcastAddress, options.PutIPv4(e.conf.BroadcastAddress))
	resp.SetOption(options.Router, options.PutIPv4(e.conf.GatewayIP))
	resp.SetOption(options.DNS, options.PutIPv4Pair(e.conf.DNSPrimary, e.conf.DNSSecondary))
	resp.SetOption(options.ClientIdentifier, options.PutClientIdentifier(mac))
	resp.SetOption(options.End, nil)

	dest := &net.UDPAddr{IP: ipaddr.IPv4(pkt.CIAddr).ToNetIP(), Port: ClientPort}
	return &Result{Response: resp, Destination: dest}
}

func (e *Engine) reservedFor(mac ipaddr.MAC, ip ipaddr.IPv4) bool {
	reserved, ok := e.reservations.Lookup(mac)
	return ok && reserved == ip
}

func (e *Engine) leasedFor(mac ipaddr.MAC, ip ipaddr.IPv4) bool {
	leased, ok := e.leases.FindIPFor(mac)
	return ok && leased == ip
}

func (e *Engine) buildResponse(pkt *wire.Packet, mac ipaddr.MAC, msgType byte, yiaddr ipaddr.IPv4) *wire.Packet {
	resp := &wire.Packet{
		Op:     wire.OpReply,
		Htype:  wire.HtypeEthernet,
		Hlen:   6,
		Xid:    pkt.Xid,
		YIAddr: yiaddr,
		SIAddr: e.conf.OurIP,
		GIAddr: pkt.GIAddr,
		CHAddr: pkt.CHAddr,
	}
	resp.SetOption(options.MessageType, []byte{msgType})
	resp.SetOption(options.ServerIdentifier, options.PutIPv4(e.conf.OurIP))
	resp.SetOption(options.AddressLeaseTime, options.PutU32(e.conf.AddressTime))
	resp.SetOption(options.RenewalTime, options.PutU32(e.conf.RenewalTime))
	resp.SetOption(options.RebindingTime, options.PutU32(e.conf.RebindingTime))
	resp.SetOption(options.SubnetMask, options.PutIPv4(e.conf.SubnetMask))
	resp.SetOption(options.BroadcastAddress, options.PutIPv4(e.conf.BroadcastAddress))
	resp.SetOption(options.Router, options.PutIPv4(e.conf.GatewayIP))
	resp.SetOption(options.DNS, options.PutIPv4Pair(e.conf.DNSPrimary, e.conf.DNSSecondary))
	resp.SetOption(options.ClientIdentifier, options.PutClientIdentifier(mac))
	resp.SetOption(options.End, nil)
	return resp
}

func (e *Engine) buildNak(pkt *wire.Packet, mac ipaddr.MAC) *wire.Packet {
	resp := &wire.Packet{
		Op:    wire.OpReply,
		Htype: wire.HtypeEthernet,
		Hlen:  6,
		Xid:   pkt.Xid,
		GIAddr: pkt.GIAddr,
		CHAddr: pkt.CHAddr,
	}
	resp.SetOption(options.MessageType, []byte{options.MsgNak})
	resp.SetOption(options.ServerIdentifier, options.PutIPv4(e.conf.OurIP))
	resp.SetOption(options.ClientIdentifier, options.PutClientIdentifier(mac))
	resp.SetOption(options.End, nil)
	return resp
}

// destinationFor applies spec.md §4.4's destination-routing rules for
// OFFER/ACK responses. NACKs are always broadcast and are built directly
// with a nil Destination by their callers, so they never reach here.
func (e *Engine) destinationFor(pkt *wire.Packet) *net.UDPAddr {
	giaddr := ipaddr.IPv4(pkt.GIAddr)
	if !giaddr.IsZero() {
		return &net.UDPAddr{IP: giaddr.ToNetIP(), Port: ServerPort}
	}
	ciaddr := ipaddr.IPv4(pkt.CIAddr)
	if !ciaddr.IsZero() {
		return &net.UDPAddr{IP: ciaddr.ToNetIP(), Port: ClientPort}
	}
	return nil
}
