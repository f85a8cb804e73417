package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tfield/dashcast-go/internal/caster"
	"github.com/tfield/dashcast-go/internal/castctl"
	"github.com/tfield/dashcast-go/internal/config"
	"github.com/tfield/dashcast-go/internal/db"
	"github.com/tfield/dashcast-go/internal/engine"
	"github.com/tfield/dashcast-go/internal/gate"
	"github.com/tfield/dashcast-go/internal/health"
	"github.com/tfield/dashcast-go/internal/locator"
	"github.com/tfield/dashcast-go/internal/probe"
	"github.com/tfield/dashcast-go/internal/server"
	"github.com/tfield/dashcast-go/internal/states"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := log.Default()
	tool := castctl.NewTool(castctl.NewExecRunner(cfg.Tool), cfg.CommandTimeout())
	loc := locator.New(tool, logger)
	pr := probe.New(tool, logger)
	stateStore := states.NewStore(logger)
	checker := gate.New(stateStore, gate.Ref{Entity: cfg.GateEntity, RequiredState: cfg.GateState}, logger)
	exec := caster.NewExecutor(tool, pr, cfg.MaxRetries, cfg.RetryDelay(), cfg.VerificationWait(), caster.DefaultStuckTimeout, logger)

	var counterStore health.Store
	var dbPair *db.DBPair
	if cfg.SQLiteDBPath != "" {
		log.Printf("Using database: %s", cfg.SQLiteDBPath)
		dbPair, err = db.Init(cfg.SQLiteDBPath)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		counterStore = health.NewRepository(dbPair)
	}
	recorder := health.NewRecorder(counterStore, logger)

	eng := engine.New(cfg, loc, pr, checker, exec, recorder, stateStore, logger)
	hub := server.NewEventHub(logger)
	eng.SetNotifier(func(event engine.Event) { hub.Broadcast(event) })
	eng.Start()

	var snapshots *health.SnapshotWriter
	if cfg.SnapshotDir != "" {
		snapshots = health.NewSnapshotWriter(cfg.SnapshotDir, recorder, func() any {
			return eng.StatusReport()
		}, logger)
		if err := snapshots.Start(cfg.SnapshotSchedule); err != nil {
			log.Fatalf("snapshot schedule error: %v", err)
		}
	}

	handler := server.NewHandler(cfg, server.Deps{
		Engine:   eng,
		Recorder: recorder,
		States:   stateStore,
		Events:   hub,
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		eng.Stop()
		if snapshots != nil {
			snapshots.Write()
			snapshots.Stop()
		}
		hub.Close()
		if dbPair != nil {
			if err := dbPair.Close(); err != nil {
				log.Printf("shutdown error: %v", err)
			}
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("dashcast listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
