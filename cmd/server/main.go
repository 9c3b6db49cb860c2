// Command accessd is the composition root for the access-control
// appliance: it reads the bootstrap config, constructs every
// collaborator (GPIO pins, decoders, policy engine, local log, upload
// pipeline, housekeeping monitor, HTTP control plane) and wires them
// together, then serves until an interrupt or TERM signal arrives.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/ocx/accessd/internal/circuitbreaker"
	"github.com/ocx/accessd/internal/config"
	"github.com/ocx/accessd/internal/decoderset"
	"github.com/ocx/accessd/internal/housekeeping"
	"github.com/ocx/accessd/internal/httpapi"
	"github.com/ocx/accessd/internal/metrics"
	"github.com/ocx/accessd/internal/model"
	"github.com/ocx/accessd/internal/policy"
	"github.com/ocx/accessd/internal/relay"
	"github.com/ocx/accessd/internal/session"
	"github.com/ocx/accessd/internal/sysclock"
	"github.com/ocx/accessd/internal/txlog"
	"github.com/ocx/accessd/internal/upload"
	"github.com/ocx/accessd/internal/users"
	"github.com/ocx/accessd/internal/wiegand"
)

// broadcastingRecorder fans out one completed transaction to the local
// log, the offline-first upload pipeline, the live websocket feed and
// the scan counter, so the policy engine only ever talks to a single
// policy.Recorder.
type broadcastingRecorder struct {
	log     *txlog.Log
	queue   *upload.Pipeline
	server  *httpapi.Server
	metrics *metrics.Metrics
}

func (r *broadcastingRecorder) Record(tx model.Transaction) {
	r.log.Record(tx)
	r.queue.Record(tx)
	r.server.BroadcastTransaction(tx)
	r.metrics.RecordScan(string(tx.Status))
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("accessd: %v", err)
	}
}

func run() error {
	boot, err := config.LoadBootstrap(os.Getenv("ACCESSD_BOOTSTRAP_FILE"))
	if err != nil {
		return fmt.Errorf("load bootstrap config: %w", err)
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initialize periph host: %w", err)
	}

	usersStore, err := users.Open(boot.BaseDir + "/users")
	if err != nil {
		return fmt.Errorf("open users store: %w", err)
	}

	passwordHash := boot.AdminPasswordDigest
	if passwordHash == "" {
		slog.Warn("no admin password digest configured; generating a random one-time password")
		random, genErr := randomPassword()
		if genErr != nil {
			return fmt.Errorf("generate fallback admin password: %w", genErr)
		}
		passwordHash, err = session.BcryptDigest(random)
		if err != nil {
			return fmt.Errorf("hash fallback admin password: %w", err)
		}
		slog.Warn("one-time admin password generated", "password", random)
	}

	sessions := session.New(session.Config{
		Username:     boot.AdminUsername,
		PasswordHash: passwordHash,
		SessionTTL:   time.Duration(boot.SessionTTLHours * float64(time.Hour)),
	})

	defaults := model.Config{
		WiegandBits:      wiegandBitsFor(boot.WiegandD0Pins),
		WiegandTimeoutMs: 50,
		ScanDelaySeconds: 5,
		EntityID:         boot.EntityID,
	}
	configStore, err := config.Open(boot.BaseDir+"/config", defaults, nil)
	if err != nil {
		return fmt.Errorf("open runtime config store: %w", err)
	}

	relayPins, err := resolvePins(boot.RelayPins)
	if err != nil {
		return fmt.Errorf("resolve relay pins: %w", err)
	}
	relayMap := make(map[int]relay.Pin, len(relayPins))
	for id, p := range relayPins {
		relayMap[id] = p
	}
	relayDriver := relay.New(relayMap)

	readerPins, err := resolveWiegandPins(boot.WiegandD0Pins, boot.WiegandD1Pins)
	if err != nil {
		return fmt.Errorf("resolve wiegand pins: %w", err)
	}

	appMetrics := metrics.New()

	txLog, err := txlog.Open(boot.BaseDir + "/transactions")
	if err != nil {
		return fmt.Errorf("open transaction log: %w", err)
	}

	breakers := circuitbreaker.NewApplianceBreakers()

	prober := sysclock.NewProber(boot.RemoteProbeTarget, 30*time.Second)
	timeController := sysclock.NewTimeController()

	remoteStore, err := upload.NewSupabaseStore()
	if err != nil {
		slog.Warn("remote document store unavailable; upload pipeline runs cache-only", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uploadPipeline, err := upload.New(ctx, boot.BaseDir+"/upload", remoteStore, prober, boot.EntityID, breakers)
	if err != nil {
		return fmt.Errorf("start upload pipeline: %w", err)
	}
	defer uploadPipeline.Close()

	httpServer := httpapi.New()

	recorder := &broadcastingRecorder{log: txLog, queue: uploadPipeline, server: httpServer, metrics: appMetrics}

	policyEngine := policy.New(usersStore, usersStore, relayDriver, recorder, configStore, nil)

	onEvent := func(evt wiegand.Event) {
		policyEngine.HandleScan(evt.Card, evt.ReaderID)
	}
	onDiscard := func(reason string) {
		appMetrics.DecodeFailures.Inc()
		slog.Debug("wiegand frame discarded", "reason", reason)
	}

	decoders, err := decoderset.New(ctx, readerPins, configStore.Get(), onEvent, onDiscard)
	if err != nil {
		return fmt.Errorf("start wiegand decoders: %w", err)
	}
	defer decoders.Close()
	configStore.SetReinitializer(decoders)

	hkConfig := housekeeping.DefaultConfig()
	hkConfig.StorageCapBytes = boot.StorageCapGB * 1e9
	hkConfig.CleanupFraction = boot.CleanupFraction
	monitor := housekeeping.New(hkConfig, sessions, txLog, uploadPipeline, appMetrics)
	defer monitor.Stop()

	httpServer.Users = usersStore
	httpServer.Sessions = sessions
	httpServer.Config = configStore
	httpServer.Relays = relayDriver
	httpServer.TxLog = txLog
	httpServer.Time = timeController
	httpServer.Reachable = prober
	httpServer.Queue = uploadPipeline
	httpServer.Temperature = func() *float64 {
		return sysclock.Temperature(func() (float64, error) {
			return housekeeping.ReadThermalZone(hkConfig.ThermalZonePath)
		})
	}
	httpServer.Metrics = appMetrics

	addr := boot.HTTPHost + ":" + strconv.Itoa(boot.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// wiegandBitsFor seeds a 26-bit default for every configured reader
// index until an operator hot-reloads a different bit width.
func wiegandBitsFor(d0Pins []int) map[int]int {
	bits := make(map[int]int, len(d0Pins))
	for i := range d0Pins {
		bits[i+1] = 26
	}
	return bits
}

// resolvePins looks up one GPIO output line per relay, keyed by
// reader/relay index (1-based, matching the rest of the appliance's
// addressing), using the board's native pin names ("GPIO<n>").
func resolvePins(pinNumbers []int) (map[int]gpio.PinIO, error) {
	out := make(map[int]gpio.PinIO, len(pinNumbers))
	for i, n := range pinNumbers {
		name := "GPIO" + strconv.Itoa(n)
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("unknown relay GPIO pin %q", name)
		}
		out[i+1] = p
	}
	return out, nil
}

// resolveWiegandPins pairs each reader's D0/D1 line and configures them
// as pull-down, falling-edge inputs the way a Wiegand reader drives them.
func resolveWiegandPins(d0Pins, d1Pins []int) (map[int]decoderset.Pins, error) {
	if len(d0Pins) != len(d1Pins) {
		return nil, fmt.Errorf("wiegand_d0_pins and wiegand_d1_pins must have the same length")
	}
	out := make(map[int]decoderset.Pins, len(d0Pins))
	for i := range d0Pins {
		d0Name := "GPIO" + strconv.Itoa(d0Pins[i])
		d1Name := "GPIO" + strconv.Itoa(d1Pins[i])
		d0 := gpioreg.ByName(d0Name)
		d1 := gpioreg.ByName(d1Name)
		if d0 == nil || d1 == nil {
			return nil, fmt.Errorf("unknown wiegand GPIO pins: D0=%s D1=%s", d0Name, d1Name)
		}
		out[i+1] = decoderset.Pins{D0: d0, D1: d1}
	}
	return out, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", buf), nil
}
