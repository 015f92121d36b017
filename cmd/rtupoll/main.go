// Rtupoll polls the configured sensors and publishes their values to the
// MQTT broker, the reading history and the /metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rwirdemann/rtusensors"
	"github.com/rwirdemann/rtusensors/history"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/poller"
	"github.com/rwirdemann/rtusensors/store"
	"github.com/rwirdemann/rtusensors/telemetry"
)

var configPath string

func main() {
	flag.StringVar(&configPath, "config", "", "path to the configuration directory")
	flag.Parse()
	if configPath == "" {
		flag.PrintDefaults()
		os.Exit(0)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	os.Exit(run())
}

func run() int {
	config, err := rtusensors.LoadConfig(configPath)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}

	pool, err := modbus.OpenPool(config.Serials)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	defer pool.Close()

	var addresses *store.Store
	if config.AddressFile != "" {
		if addresses, err = store.Open(config.AddressFile); err != nil {
			slog.Error(err.Error())
			return 1
		}
	}
	targets, err := poller.Targets(config, pool, addresses)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}

	metrics := poller.NewMetrics(pool)
	publishers := telemetry.Multi{metrics}

	if config.MQTT.Broker != "" {
		mqtt, err := telemetry.NewMQTTPublisher(config.MQTT)
		if err != nil {
			slog.Error(err.Error())
			return 1
		}
		defer mqtt.Close()
		publishers = append(publishers, mqtt)
	}

	if config.History != "" {
		h, err := history.Open(config.History)
		if err != nil {
			slog.Error(err.Error())
			return 1
		}
		defer h.Close()
		publishers = append(publishers, h)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Metrics != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			slog.Error(err.Error())
			return 1
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: config.Metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics endpoint failed", "err", err)
			}
		}()
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
		slog.Info("serving metrics", "addr", config.Metrics)
	}

	interval := time.Duration(config.PollInterval) * time.Millisecond
	slog.Info("polling", "buses", len(targets), "interval", interval)
	poller.New(targets, publishers, interval).Run(ctx)
	slog.Info("stopped")
	return 0
}
