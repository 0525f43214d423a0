// Package reservedb loads supplemental static reservations from a MySQL
// table via gorp, narrowed to just the two columns the protocol engine
// needs: a MAC address and an IPv4 address.
package reservedb

import (
	"database/sql"

	"github.com/coopernurse/gorp"
	_ "github.com/ziutek/mymysql/godrv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shipsimfan/dhcp-server/internal/config"
	"github.com/shipsimfan/dhcp-server/internal/ipaddr"
)

// ErrConflict reports that a reservation loaded from the database names a
// MAC address already reserved by the config file's inline reserved list.
// Per SPEC_FULL.md §3 this is a hard startup error, not a silent
// override, since an operator cannot tell which source "wins" otherwise.
var ErrConflict = errors.New("reservedb: MAC reserved by both config file and database")

type reservationRow struct {
	MAC string `db:"mac"`
	IP  string `db:"ip"`
}

// Load opens the configured database, reads every row of the reservation
// table, and returns them as a MAC->IP map. It does not merge with the
// config file's inline reservations; callers do that with Merge.
func Load(cfg *config.ReservationDB) (map[ipaddr.MAC]ipaddr.IPv4, error) {
	db, err := sql.Open("mymysql", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "reservedb: opening database connection")
	}
	defer db.Close()

	dbmap := &gorp.DbMap{Db: db, Dialect: gorp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8"}}
	dbmap.AddTableWithName(reservationRow{}, cfg.Table)

	macColumn := cfg.MACColumn
	if macColumn == "" {
		macColumn = "mac"
	}
	ipColumn := cfg.IPColumn
	if ipColumn == "" {
		ipColumn = "ip"
	}

	var rows []reservationRow
	query := "SELECT `" + macColumn + "` AS mac, `" + ipColumn + "` AS ip FROM " + cfg.Table
	if _, err := dbmap.Select(&rows, query); err != nil {
		return nil, errors.Wrapf(err, "reservedb: selecting from table %q", cfg.Table)
	}

	out := make(map[ipaddr.MAC]ipaddr.IPv4, len(rows))
	for _, row := range rows {
		mac, ok := ipaddr.MACFromString(row.MAC)
		if !ok {
			logrus.WithField("mac", row.MAC).Warn("reservedb: skipping row with invalid MAC address")
			continue
		}
		ip, ok := ipaddr.ParseIPv4(row.IP)
		if !ok {
			logrus.WithField("ip", row.IP).Warn("reservedb: skipping row with invalid IPv4 address")
			continue
		}
		out[mac] = ip
	}

	return out, nil
}

// Merge combines the config file's inline reservations with rows loaded
// from the database. A MAC present in both sources is a startup error.
func Merge(fromConfig, fromDB map[ipaddr.MAC]ipaddr.IPv4) (map[ipaddr.MAC]ipaddr.IPv4, error) {
	merged := make(map[ipaddr.MAC]ipaddr.IPv4, len(fromConfig)+len(fromDB))
	for mac, ip := range fromConfig {
		merged[mac] = ip
	}
	for mac, ip := range fromDB {
		if existing, ok := merged[mac]; ok {
			return nil, errors.Wrapf(ErrConflict, "mac=%s config=%s db=%s", mac, existing, ip)
		}
		merged[mac] = ip
	}
	return merged, nil
}
