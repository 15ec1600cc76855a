// Package main is the CSE server's single-process entry point: it loads
// configuration, wires every collaborator (store, dispatcher, notifier,
// scheduler, announcer, group fan-out, Upper-Tester) and starts the
// configured transport listeners (HTTP and WebSocket always, MQTT when
// enabled). On SIGINT/SIGTERM it shuts the HTTP and WebSocket servers and
// the scheduler down gracefully; the MQTT client is not disconnected first.
// Grounded on the teacher's cmd/marble/main.go: env-driven config load,
// bottom-up dependency construction, then one *http.Server with explicit
// timeouts started in a goroutine and torn down via context.WithTimeout
// on a signal.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onem2m-cse/cse/internal/cseconfig"
	"github.com/onem2m-cse/cse/internal/transport/httptransport"
	"github.com/onem2m-cse/cse/internal/transport/mqtttransport"
	"github.com/onem2m-cse/cse/internal/transport/wstransport"
)

func main() {
	cfg, err := cseconfig.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPHost + portSuffix(cfg.Server.HTTPPort),
		Handler:           httptransport.New(a.dispatcher, a.tester, a.log, a.metrics),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	go func() {
		a.log.WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("http transport listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http transport: %v", err)
		}
	}()

	wsServer := &http.Server{
		Addr:              cfg.Server.WSHost + portSuffix(cfg.Server.WSPort),
		Handler:           wstransport.New(a.dispatcher, a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.log.WithFields(map[string]interface{}{"addr": wsServer.Addr}).Info("websocket transport listening")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("websocket transport: %v", err)
		}
	}()

	var mqttTransport *mqtttransport.Transport
	if cfg.Server.MQTTEnabled && cfg.Server.MQTTBroker != "" {
		mqttTransport = mqtttransport.New(mqtttransport.Config{
			BrokerURL: cfg.Server.MQTTBroker,
			ClientID:  "cse-" + cfg.Identity.CSERN,
			CSEID:     cfg.Identity.CSEID,
			QoS:       1,
		}, a.dispatcher, a.log)
		if err := mqttTransport.Start(ctx); err != nil {
			a.log.WithError(err).Error("mqtt transport failed to start, continuing without it")
			mqttTransport = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http transport shutdown error")
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("websocket transport shutdown error")
	}
	a.scheduler.Stop()

	a.log.Info("shutdown complete")
	_ = mqttTransport
}

func portSuffix(port int) string {
	if port <= 0 {
		return ""
	}
	return ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
