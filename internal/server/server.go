// Package server runs the UDP request loop: receive a datagram, decode
// it, hand it to the protocol engine, encode the response, and send it
// to the engine's chosen destination (or broadcast). It never terminates
// on a per-request error; only a listener-level failure stops the loop.
package server

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/shipsimfan/dhcp-server/internal/engine"
	"github.com/shipsimfan/dhcp-server/internal/wire"
)

// maxDatagramSize is the largest DHCP packet this server will read,
// matching the BOOTP-era 576-byte minimum MTU assumption spec.md §4.5
// inherits from RFC 2131.
const maxDatagramSize = 576

// broadcastAddr is where responses go when the engine returns a nil
// Destination.
var broadcastAddr = &net.UDPAddr{IP: net.IPv4bcast, Port: engine.ClientPort}

// Server owns the listening socket and drives the request loop.
type Server struct {
	conn   *net.UDPConn
	engine *engine.Engine
	log    *logrus.Entry
}

// Listen opens a UDP socket bound to ":67" with SO_BROADCAST set, so
// responses can be sent to 255.255.255.255 when the engine has no more
// specific destination.
func Listen(e *engine.Engine, log *logrus.Entry) (*Server, error) {
	return listenAt(&net.UDPAddr{Port: engine.ServerPort}, e, log)
}

func listenAt(addr *net.UDPAddr, e *engine.Engine, log *logrus.Entry) (*Server, error) {
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, errors.Wrap(err, "server: binding UDP listener")
	}

	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "server: enabling SO_BROADCAST")
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Server{conn: conn, engine: e, log: log}, nil
}

func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Close releases the listening socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run processes datagrams until ctx is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "server: reading datagram")
		}

		s.handleDatagram(append([]byte(nil), buf[:n]...))
	}
}

func (s *Server) handleDatagram(payload []byte) {
	reqID := uuid.New().String()
	log := s.log.WithField("request_id", reqID)

	pkt, err := wire.Decode(payload)
	if err != nil {
		log.WithError(err).Debug("dropping malformed datagram")
		return
	}

	result, err := s.engine.Handle(pkt)
	if err != nil {
		log.WithError(err).Info("protocol engine rejected packet")
		return
	}
	if result == nil {
		return
	}

	dest := result.Destination
	if dest == nil {
		dest = broadcastAddr
	}

	out := wire.Encode(result.Response)
	if _, err := s.conn.WriteToUDP(out, dest); err != nil {
		log.WithError(err).WithField("destination", dest.String()).Warn("failed to send response")
	}
}
