// Command dhcpdorfd runs the DHCPv4 server: it loads a YAML
// configuration, assembles the lease manager and reservation table,
// and serves DISCOVER/REQUEST/RELEASE/DECLINE/INFORM on UDP :67 until
// signaled to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shipsimfan/dhcp-server/internal/config"
	"github.com/shipsimfan/dhcp-server/internal/engine"
	"github.com/shipsimfan/dhcp-server/internal/lease"
	"github.com/shipsimfan/dhcp-server/internal/reservedb"
	"github.com/shipsimfan/dhcp-server/internal/server"
	"github.com/shipsimfan/dhcp-server/internal/status"
)

func main() {
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	configPath := flag.Arg(0)
	if configPath == "" {
		configPath = config.DefaultPath
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(configPath, *logLevel, log); err != nil {
		log.WithError(err).Error("dhcpdorfd: fatal error")
		os.Exit(1)
	}
}

func run(configPath, logLevelOverride string, log *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if logLevelOverride != "" {
		level = logLevelOverride
	}
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		log.SetLevel(parsed)
	}

	entry := logrus.NewEntry(log)
	entry.Info("dhcpdorfd starting")
	entry.Debug(cfg.String())

	reservations, err := assembleReservations(cfg)
	if err != nil {
		return err
	}

	leaseMgr := lease.New(cfg.LeaseStart, cfg.LeaseEnd, cfg.AddressTime, cfg.OfferTime)

	eng := engine.New(engine.Config{
		OurIP:            cfg.OurIP,
		GatewayIP:        cfg.GatewayIP,
		SubnetMask:       cfg.SubnetMask,
		BroadcastAddress: cfg.BroadcastAddress,
		DNSPrimary:       cfg.DNSPrimary,
		DNSSecondary:     cfg.DNSSecondary,
		AddressTime:      uint32(cfg.AddressTime.Seconds()),
		RenewalTime:      uint32(cfg.RenewalTime.Seconds()),
		RebindingTime:    uint32(cfg.RebindingTime.Seconds()),
	}, leaseMgr, reservations)

	srv, err := server.Listen(eng, entry)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runCleaner(ctx, leaseMgr, cfg.OfferTime)

	var statusSrv *http.Server
	if cfg.StatusListen != "" {
		statusSrv = startStatusServer(cfg.StatusListen, leaseMgr, reservations, entry)
		defer statusSrv.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("dhcpdorfd shutting down")
		cancel()
	}()

	return srv.Run(ctx)
}

func assembleReservations(cfg *config.Config) (*lease.Reservations, error) {
	fromConfig := cfg.Reservations
	if cfg.ReservationDB == nil {
		return lease.NewReservations(fromConfig), nil
	}

	fromDB, err := reservedb.Load(cfg.ReservationDB)
	if err != nil {
		return nil, err
	}

	merged, err := reservedb.Merge(fromConfig, fromDB)
	if err != nil {
		return nil, err
	}
	return lease.NewReservations(merged), nil
}

func runCleaner(ctx context.Context, mgr *lease.Manager, offerTime time.Duration) {
	interval := offerTime
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.Clean()
		}
	}
}

func startStatusServer(addr string, mgr *lease.Manager, reservations *lease.Reservations, log *logrus.Entry) *http.Server {
	handler := status.NewHandler(mgr, reservations, log)
	mux := http.NewServeMux()
	mux.Handle("/status", handler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("status server stopped")
		}
	}()
	return srv
}
