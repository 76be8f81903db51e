// Command stompd runs the broker's single-threaded event loop.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"odin-stomp/internal/broker"
	"odin-stomp/internal/config"
	"odin-stomp/internal/logging"
	"odin-stomp/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("stompd: " + err.Error())
		os.Exit(1)
	}

	log := logging.New(cfg)
	cfg.LogFields(log)

	// Raw sockets written to directly via unix.Write can raise SIGPIPE on a
	// reset connection; the broker already treats EPIPE as a normal close,
	// so the signal itself is ignored rather than left to kill the process.
	signal.Ignore(syscall.SIGPIPE)

	listener, err := broker.Listen(cfg.ListenHost, cfg.ListenPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind listener")
	}
	defer listener.Close()

	queueConfig := broker.DefaultQueueConfig()
	queueConfig.SizeMax = cfg.QueueSizeMax
	queueConfig.NackMax = cfg.QueueNackMax
	queues := broker.NewBundle(queueConfig)
	b := broker.NewBroker(queues, log)

	conns := broker.NewConnectionSet()
	guardConfig := broker.GuardConfig{
		MaxConnections:     cfg.MaxConnections,
		GlobalAcceptBurst:  cfg.GlobalAcceptBurst,
		GlobalAcceptRate:   cfg.GlobalAcceptRate,
		PerIPAcceptBurst:   cfg.PerIPAcceptBurst,
		PerIPAcceptRate:    cfg.PerIPAcceptRate,
		PerIPTTL:           cfg.PerIPTTL,
		CPURejectThreshold: cfg.CPURejectThreshold,
		SampleInterval:     cfg.ResourceSampleInterval,
	}
	guard := broker.NewResourceGuard(guardConfig, conns, log)

	loop, err := broker.NewLoop(listener, b, guard, conns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event loop")
	}
	defer loop.Close()

	go serveMetrics(cfg.MetricsAddr, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("host", cfg.ListenHost).Int("port", cfg.ListenPort).Msg("broker listening")

	loopErr := make(chan error, 1)
	stop := make(chan struct{})
	go runLoop(loop, stop, loopErr)

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-loopErr:
		log.Error().Err(err).Msg("event loop exited unexpectedly")
	}
	close(stop)
}

// runLoop drives the reactor's RunOnce in a dedicated goroutine so the
// signal-handling select in main can interrupt cleanly; the loop itself
// remains single-threaded in its handling of connections and frames.
func runLoop(loop *broker.Loop, stop <-chan struct{}, errCh chan<- error) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := loop.RunOnce(); err != nil {
			errCh <- err
			return
		}
	}
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
