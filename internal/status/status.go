// Package status exposes the lease table and reservation table over
// HTTP as JSON, the way AdGuardHome's dhcpd package serves its
// /control/dhcp/status endpoint.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
	"github.com/shipsimfan/dhcp-server/internal/lease"
)

// LeaseProvider is the subset of *lease.Manager the handler depends on.
type LeaseProvider interface {
	Leases() []lease.Snapshot
}

// ReservationProvider is the subset of *lease.Reservations the handler
// depends on.
type ReservationProvider interface {
	All() map[ipaddr.MAC]ipaddr.IPv4
}

// Handler serves the current lease and reservation state as JSON.
type Handler struct {
	leases       LeaseProvider
	reservations ReservationProvider
	log          *logrus.Entry
}

// NewHandler builds a status Handler over the given lease manager and
// reservation table.
func NewHandler(leases LeaseProvider, reservations ReservationProvider, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{leases: leases, reservations: reservations, log: log}
}

type leaseJSON struct {
	IP        string    `json:"ip"`
	MAC       string    `json:"mac"`
	Committed time.Time `json:"committed"`
	Expiry    time.Time `json:"expiry"`
}

type reservationJSON struct {
	MAC string `json:"mac"`
	IP  string `json:"ip"`
}

type statusResponse struct {
	Leases       []leaseJSON       `json:"leases"`
	Reservations []reservationJSON `json:"reservations"`
}

// ServeHTTP writes the current status snapshot as a JSON document.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snaps := h.leases.Leases()
	leases := make([]leaseJSON, 0, len(snaps))
	for _, s := range snaps {
		leases = append(leases, leaseJSON{
			IP:        s.IP.String(),
			MAC:       s.MAC.String(),
			Committed: s.Committed,
			Expiry:    s.Expiry,
		})
	}

	reserved := h.reservations.All()
	reservations := make([]reservationJSON, 0, len(reserved))
	for mac, ip := range reserved {
		reservations = append(reservations, reservationJSON{MAC: mac.String(), IP: ip.String()})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{Leases: leases, Reservations: reservations}); err != nil {
		h.httpError(r, w, http.StatusInternalServerError, "encoding status response: %v", err)
	}
}

func (h *Handler) httpError(r *http.Request, w http.ResponseWriter, code int, format string, args ...interface{}) {
	h.log.WithField("method", r.Method).WithField("path", r.URL.Path).Warnf(format, args...)
	http.Error(w, http.StatusText(code), code)
}
