// Command timeshiftd runs the time-shifted HLS relay: it polls an
// upstream media playlist, buffers segments for a configured duration,
// and republishes a time-delayed playlist and segment store over HTTP.
//
// Grounded on the teacher's main.go top-level wiring: context+cancel for
// graceful shutdown, env-driven config, http.HandleFunc routes, and
// log.Fatalf on unrecoverable startup errors.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"timeshift-radio/config"
	"timeshift-radio/httpapi"
	"timeshift-radio/supervisor"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.GetConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	sup := supervisor.New()
	if err := sup.Init(cfg); err != nil {
		log.Fatalf("failed to initialize pipeline: %v", err)
	}

	if !sup.Start(true) {
		log.Fatalf("pipeline failed to start")
	}

	baseURL := os.Getenv("BASE_URL")
	handler := httpapi.New(sup, httpapi.RequestDefaults{
		WindowCount: cfg.WindowCount,
		TimeShift:   cfg.Delay,
		BaseURL:     baseURL,
	})

	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Println("shutdown signal received, stopping pipeline...")
		sup.Stop(cfg.MonitorRetryDelay)
		cancel()
		server.Close()
	}()

	log.Printf("timeshiftd listening on :%s", cfg.Port)
	log.Printf("playlist endpoint running (/stream.m3u8, /api/playlist)")
	log.Printf("segment endpoint running (/stream/segment/{sequenceNumber}.ts)")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	<-ctx.Done()
}
