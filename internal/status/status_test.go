package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
	"github.com/shipsimfan/dhcp-server/internal/lease"
)

type fakeLeases struct{ snaps []lease.Snapshot }

func (f fakeLeases) Leases() []lease.Snapshot { return f.snaps }

type fakeReservations struct{ m map[ipaddr.MAC]ipaddr.IPv4 }

func (f fakeReservations) All() map[ipaddr.MAC]ipaddr.IPv4 { return f.m }

func TestServeHTTPReturnsLeasesAndReservations(t *testing.T) {
	mac := ipaddr.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	ip := ipaddr.IPv4{10, 128, 0, 2}
	now := time.Now()

	leases := fakeLeases{snaps: []lease.Snapshot{{IP: ip, MAC: mac, Committed: now, Expiry: now.Add(time.Hour)}}}
	reservations := fakeReservations{m: map[ipaddr.MAC]ipaddr.IPv4{mac: ip}}

	h := NewHandler(leases, reservations, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Leases, 1)
	assert.Equal(t, "10.128.0.2", body.Leases[0].IP)
	require.Len(t, body.Reservations, 1)
	assert.Equal(t, "10.128.0.2", body.Reservations[0].IP)
}

func TestServeHTTPEmptyState(t *testing.T) {
	h := NewHandler(fakeLeases{}, fakeReservations{m: map[ipaddr.MAC]ipaddr.IPv4{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Leases)
	assert.Empty(t, body.Reservations)
}
