package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
	"github.com/shipsimfan/dhcp-server/internal/lease"
	"github.com/shipsimfan/dhcp-server/internal/options"
	"github.com/shipsimfan/dhcp-server/internal/wire"
)

func testConfig() Config {
	return Config{
		OurIP:            ipaddr.IPv4{10, 128, 0, 254},
		GatewayIP:        ipaddr.IPv4{10, 128, 0, 1},
		SubnetMask:       ipaddr.IPv4{255, 255, 255, 0},
		BroadcastAddress: ipaddr.IPv4{10, 128, 0, 255},
		DNSPrimary:       ipaddr.IPv4{10, 128, 0, 2},
		DNSSecondary:     ipaddr.IPv4{10, 128, 0, 3},
		AddressTime:      172800,
		RenewalTime:      86400,
		RebindingTime:    129600,
	}
}

func newEngine(reserved map[ipaddr.MAC]ipaddr.IPv4) (*Engine, *lease.Manager) {
	mgr := lease.New(ipaddr.IPv4{10, 128, 0, 1}, ipaddr.IPv4{10, 128, 0, 5}, time.Hour, 30*time.Second)
	res := lease.NewReservations(reserved)
	return New(testConfig(), mgr, res), mgr
}

func clientMAC() ipaddr.MAC {
	return ipaddr.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
}

func discoverPacket(xid uint32, ciaddr, giaddr [4]byte, mac ipaddr.MAC) *wire.Packet {
	p := &wire.Packet{
		Op:     wire.OpRequest,
		Htype:  wire.HtypeEthernet,
		Hlen:   6,
		Xid:    xid,
		CIAddr: ciaddr,
		GIAddr: giaddr,
	}
	copy(p.CHAddr[:6], mac[:])
	p.SetOption(options.MessageType, []byte{options.MsgDiscover})
	p.SetOption(options.End, nil)
	return p
}

func requestPacket(xid uint32, ciaddr [4]byte, requested *ipaddr.IPv4, mac ipaddr.MAC) *wire.Packet {
	p := &wire.Packet{
		Op:     wire.OpRequest,
		Htype:  wire.HtypeEthernet,
		Hlen:   6,
		Xid:    xid,
		CIAddr: ciaddr,
	}
	copy(p.CHAddr[:6], mac[:])
	p.SetOption(options.MessageType, []byte{options.MsgRequest})
	if requested != nil {
		p.SetOption(options.RequestedAddress, options.PutIPv4(*requested))
	}
	p.SetOption(options.End, nil)
	return p
}

func msgType(t *testing.T, pkt *wire.Packet) byte {
	t.Helper()
	opt, ok := pkt.Option(options.MessageType)
	require.True(t, ok)
	require.Len(t, opt.Value, 1)
	return opt.Value[0]
}

// Scenario 1: fresh DISCOVER -> OFFER.
func TestDiscoverOffersFirstFreeAddress(t *testing.T) {
	e, _ := newEngine(nil)
	pkt := discoverPacket(0xDEADBEEF, [4]byte{}, [4]byte{}, clientMAC())

	result, err := e.Handle(pkt)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, options.MsgOffer, msgType(t, result.Response))
	assert.Equal(t, ipaddr.IPv4{10, 128, 0, 1}, ipaddr.IPv4(result.Response.YIAddr))
	assert.Equal(t, ipaddr.IPv4{10, 128, 0, 254}, ipaddr.IPv4(result.Response.SIAddr))
	assert.Nil(t, result.Destination, "no giaddr/ciaddr means broadcast")

	leaseOpt, ok := result.Response.Option(options.AddressLeaseTime)
	require.True(t, ok)
	v, ok := options.GetU32(leaseOpt.Value)
	require.True(t, ok)
	assert.Equal(t, uint32(172800), v)
}

// Scenario 2: REQUEST accepts the OFFER -> ACK, then FindIPFor reflects it.
func TestRequestAcceptsOfferAndCommits(t *testing.T) {
	e, mgr := newEngine(nil)
	mac := clientMAC()

	discoverResult, err := e.Handle(discoverPacket(1, [4]byte{}, [4]byte{}, mac))
	require.NoError(t, err)
	offeredIP := ipaddr.IPv4(discoverResult.Response.YIAddr)

	req := requestPacket(2, [4]byte{}, &offeredIP, mac)
	result, err := e.Handle(req)
	require.NoError(t, err)
	assert.Equal(t, options.MsgAck, msgType(t, result.Response))

	got, ok := mgr.FindIPFor(mac)
	require.True(t, ok)
	assert.Equal(t, offeredIP, got)
}

// Scenario 3: REQUEST for the wrong IP -> broadcast NACK, lease state
// unchanged.
func TestRequestWrongIPYieldsBroadcastNak(t *testing.T) {
	e, mgr := newEngine(nil)
	mac := clientMAC()

	_, err := e.Handle(discoverPacket(1, [4]byte{}, [4]byte{}, mac))
	require.NoError(t, err)

	wrong := ipaddr.IPv4{10, 128, 0, 99}
	result, err := e.Handle(requestPacket(2, [4]byte{}, &wrong, mac))
	require.NoError(t, err)

	assert.Equal(t, options.MsgNak, msgType(t, result.Response))
	assert.Equal(t, ipaddr.IPv4{}, ipaddr.IPv4(result.Response.YIAddr))
	assert.Equal(t, ipaddr.IPv4{}, ipaddr.IPv4(result.Response.SIAddr))
	assert.Nil(t, result.Destination)

	_, ok := mgr.FindIPFor(mac)
	assert.False(t, ok)
}

// Scenario 4: reserved MAC is honored without touching the pool.
func TestDiscoverHonorsReservation(t *testing.T) {
	mac := ipaddr.MAC{0xb8, 0x27, 0xeb, 0xbc, 0x3d, 0xf0}
	reservedIP := ipaddr.IPv4{10, 0, 0, 2}
	e, mgr := newEngine(map[ipaddr.MAC]ipaddr.IPv4{mac: reservedIP})

	result, err := e.Handle(discoverPacket(1, [4]byte{}, [4]byte{}, mac))
	require.NoError(t, err)
	assert.Equal(t, reservedIP, ipaddr.IPv4(result.Response.YIAddr))

	// The dynamic pool must remain untouched.
	assert.Len(t, mgr.Leases(), 0)
}

// Scenario 5: relay path routes OFFER to giaddr:67.
func TestDiscoverRelayDestination(t *testing.T) {
	e, _ := newEngine(nil)
	giaddr := [4]byte{192, 0, 2, 1}

	result, err := e.Handle(discoverPacket(1, [4]byte{}, giaddr, clientMAC()))
	require.NoError(t, err)
	require.NotNil(t, result.Destination)
	assert.Equal(t, giaddr[:], []byte(result.Destination.IP.To4()))
	assert.Equal(t, ServerPort, result.Destination.Port)
}

// Scenario 6: RELEASE frees the IP for reallocation.
func TestReleaseFreesAddress(t *testing.T) {
	e, mgr := newEngine(nil)
	mac := clientMAC()

	discoverResult, err := e.Handle(discoverPacket(1, [4]byte{}, [4]byte{}, mac))
	require.NoError(t, err)
	ip := ipaddr.IPv4(discoverResult.Response.YIAddr)
	_, err = e.Handle(requestPacket(2, [4]byte{}, &ip, mac))
	require.NoError(t, err)

	releasePkt := &wire.Packet{
		Op:     wire.OpRequest,
		Htype:  wire.HtypeEthernet,
		Hlen:   6,
		CIAddr: ip,
	}
	copy(releasePkt.CHAddr[:6], mac[:])
	releasePkt.SetOption(options.MessageType, []byte{options.MsgRelease})
	releasePkt.SetOption(options.End, nil)

	result, err := e.Handle(releasePkt)
	require.NoError(t, err)
	assert.Nil(t, result)

	_, ok := mgr.FindIPFor(mac)
	assert.False(t, ok)
}

func TestReplyPacketsAreIgnored(t *testing.T) {
	e, _ := newEngine(nil)
	pkt := discoverPacket(1, [4]byte{}, [4]byte{}, clientMAC())
	pkt.Op = wire.OpReply

	result, err := e.Handle(pkt)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestDeclineSurfacesErrorOnly(t *testing.T) {
	e, _ := newEngine(nil)
	pkt := discoverPacket(1, [4]byte{}, [4]byte{}, clientMAC())
	// Overwrite the message type option to DECLINE.
	pkt.Options = nil
	pkt.SetOption(options.MessageType, []byte{options.MsgDecline})
	pkt.SetOption(options.End, nil)

	result, err := e.Handle(pkt)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeclineMessageReceived)
}

func TestInformCarriesNoLeaseTimes(t *testing.T) {
	e, _ := newEngine(nil)
	mac := clientMAC()
	pkt := &wire.Packet{
		Op:     wire.OpRequest,
		Htype:  wire.HtypeEthernet,
		Hlen:   6,
		CIAddr: [4]byte{10, 128, 0, 9},
	}
	copy(pkt.CHAddr[:6], mac[:])
	pkt.SetOption(options.MessageType, []byte{options.MsgInform})
	pkt.SetOption(options.End, nil)

	result, err := e.Handle(pkt)
	require.NoError(t, err)
	assert.Equal(t, options.MsgAck, msgType(t, result.Response))
	assert.Equal(t, ipaddr.IPv4{}, ipaddr.IPv4(result.Response.YIAddr))
	_, hasLeaseTime := result.Response.Option(options.AddressLeaseTime)
	assert.False(t, hasLeaseTime)
	require.NotNil(t, result.Destination)
	assert.Equal(t, ClientPort, result.Destination.Port)
}

func TestInvalidHardwareTypeRejected(t *testing.T) {
	e, _ := newEngine(nil)
	pkt := discoverPacket(1, [4]byte{}, [4]byte{}, clientMAC())
	pkt.Htype = 6 // IEEE 802 Token Ring, not Ethernet

	_, err := e.Handle(pkt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidHardwareType)
}

func TestPoolExhaustion(t *testing.T) {
	mgr := lease.New(ipaddr.IPv4{10, 128, 0, 1}, ipaddr.IPv4{10, 128, 0, 1}, time.Hour, 30*time.Second)
	e := New(testConfig(), mgr, lease.NewReservations(nil))

	_, err := e.Handle(discoverPacket(1, [4]byte{}, [4]byte{}, clientMAC()))
	require.NoError(t, err)

	otherMAC := ipaddr.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02}
	_, err = e.Handle(discoverPacket(2, [4]byte{}, [4]byte{}, otherMAC))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoIPAddressesAvailable)
}
