package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paybridge/auth"
	"paybridge/backend"
	"paybridge/bluetooth"
	"paybridge/config"
	"paybridge/metrics"
	"paybridge/mqtt"
	"paybridge/payment"
	"paybridge/terminal"
)

var logger = log.New(os.Stdout, "[PayBridge] ", log.LstdFlags|log.Lshortfile)

var reconnectInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	backendClient, err := backend.NewClient(cfg.Backend, nil, m)
	if err != nil {
		logger.Fatalf("Failed to create backend client: %v", err)
	}

	tokens := auth.NewManager(backendClient)
	if cfg.Credentials.Login != "" {
		tokens.SetCredentials(cfg.Credentials.Login, cfg.Credentials.Password)
	}

	adapter := bluetooth.NewAdapter(cfg.Bluetooth, bluetooth.NewDialer(cfg.Bluetooth), m)
	orchestrator := newOrchestrator(cfg, adapter, tokens, backendClient, m)

	bridge := mqtt.NewClient(cfg.MQTT, orchestrator)
	orchestrator.SetStateListener(bridge.OnState)
	if err := bridge.Start(); err != nil {
		logger.Fatalf("Failed to start MQTT bridge: %v", err)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Printf("Serving metrics on %s/metrics", cfg.Metrics.Listen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	go attemptConnectTerminal(ctx, orchestrator, cfg)

	logger.Printf("PayBridge started (protocol %s). Press Ctrl+C to stop.", cfg.Protocol())
	<-ctx.Done()
	logger.Println("Shutting down...")

	if err := orchestrator.Disable(); err != nil {
		logger.Printf("Failed to close terminal connection: %v", err)
	}
	bridge.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}
}

// newOrchestrator собирает оркестратор по конфигурации
func newOrchestrator(cfg *config.Config, transport payment.Transport, tokens payment.Tokens, be payment.Backend, m *metrics.Metrics) *payment.Orchestrator {
	return payment.NewOrchestrator(payment.Options{
		Config:      cfg.Payment,
		Transport:   transport,
		Codec:       terminal.NewCodec(cfg.Protocol()),
		Tokens:      tokens,
		Backend:     be,
		Identity:    cfg.Device,
		Discoverer:  bluetooth.StaticDiscoverer(cfg.Bluetooth.Paired),
		DeviceNames: cfg.Bluetooth.DeviceNames,
		Metrics:     m,
	})
}

// attemptConnectTerminal подключается к терминалу из конфигурации, повторяя
// попытки до успеха. Без адреса и сопряжённых устройств ждёт команды connect.
func attemptConnectTerminal(ctx context.Context, orchestrator *payment.Orchestrator, cfg *config.Config) {
	if cfg.Bluetooth.Address == "" && len(cfg.Bluetooth.Paired) == 0 {
		logger.Println("No terminal configured, waiting for a connect command")
		return
	}

	for {
		var err error
		if cfg.Bluetooth.Address != "" {
			err = orchestrator.Connect(ctx, cfg.Bluetooth.Address)
		} else {
			_, err = orchestrator.Enable(ctx)
		}
		if err == nil {
			return
		}

		var perr *payment.Error
		if errors.As(err, &perr) && perr.Kind == payment.KindPermission {
			logger.Printf("Terminal connect failed: %v; not retrying", err)
			return
		}
		logger.Printf("Terminal connect failed: %v; retrying in %v", err, reconnectInterval)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
		}
	}
}
