package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/samsamfire/saunasupervisor/internal/adapters/localdevice"
	"github.com/samsamfire/saunasupervisor/internal/adapters/mqtt"
	"github.com/samsamfire/saunasupervisor/internal/adapters/notifier"
	"github.com/samsamfire/saunasupervisor/internal/adapters/relay"
	"github.com/samsamfire/saunasupervisor/internal/bus"
	"github.com/samsamfire/saunasupervisor/internal/clockwork"
	"github.com/samsamfire/saunasupervisor/internal/config"
	"github.com/samsamfire/saunasupervisor/internal/floorheat"
	"github.com/samsamfire/saunasupervisor/internal/httpapi"
	"github.com/samsamfire/saunasupervisor/internal/metrics"
	"github.com/samsamfire/saunasupervisor/internal/ratelimit"
	"github.com/samsamfire/saunasupervisor/internal/snapshot"
	"github.com/samsamfire/saunasupervisor/internal/supervisor"
	"github.com/samsamfire/saunasupervisor/internal/ventilator"
)

const (
	DefaultConfigPath = "/etc/saunasupervisor/config.ini"
	DefaultMQTTBroker = "tcp://localhost:1883"
	DefaultMcbAddr    = "192.168.1.40:9999"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := flag.String("config", DefaultConfigPath, "path to the supervisor's ini configuration file")
	mqttBroker := flag.String("mqtt-broker", DefaultMQTTBroker, "mqtt broker url")
	mcbAddr := flag.String("mcb-addr", DefaultMcbAddr, "mcb local device tcp address")
	notifierURL := flag.String("notifier-url", "", "webhook url for operator notifications")
	flag.Parse()

	file, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	metricsRegistry := metrics.New()

	b := bus.New(256, logger, metricsRegistry)
	clock := clockwork.New(b)
	broadcaster := snapshot.New(logger)
	limiter := ratelimit.New(file.Cooldowns)

	mcbClient, err := localdevice.Dial(*mcbAddr, logger)
	if err != nil {
		logger.Error("failed to connect to mcb", "err", err)
		os.Exit(1)
	}

	notifierClient := notifier.NewClient(*notifierURL, logger)
	relayClient := relay.NewClient(file.Ventilator.RelayURL, logger)
	thermostatClient, err := localdevice.Dial(file.FloorHeating.DeviceID, logger)
	if err != nil {
		logger.Error("failed to connect to thermostat", "err", err)
		os.Exit(1)
	}

	ventController := ventilator.New(relayClient, clock, logger, file.Ventilator.DelayOff, file.Ventilator.KeepAlive)
	floorController := floorheat.New(thermostatClient, clock, logger, file.FloorHeating.TargetOnC, file.FloorHeating.TargetOffC, 0)

	var mcbPoller supervisor.McbStatusPoller
	if file.Supervisor.McbStatusSource == "device" {
		mcbPoller = localdevice.NewMcbPoller(mcbClient, clock, b, logger, file.McbPollEvery)
	}

	sup := supervisor.New(file.Supervisor, supervisor.Deps{
		Bus:         b,
		Clock:       clock,
		Broadcaster: broadcaster,
		Limiter:     limiter,
		Metrics:     metricsRegistry,
		Mcb:         mcbClient,
		Notifier:    notifierClient,
		Ventilator:  ventController,
		FloorHeat:   floorController,
		McbPoller:   mcbPoller,
	}, logger)

	mqttAdapter := mqtt.New(*mqttBroker, "saunasupervisor", mqtt.TopicConfig{
		PhaseL1:     "sauna/phase/l1_a",
		PhaseL2:     "sauna/phase/l2_a",
		PhaseL3:     "sauna/phase/l3_a",
		Temperature: "sauna/sensor/temperature",
		Door:        "sauna/sensor/door",
		Button:      "sauna/button",
		Ventilator:  "sauna/ventilator/status",
	}, b, logger)
	if err := mqttAdapter.Connect(); err != nil {
		logger.Error("failed to connect to mqtt broker", "err", err)
		os.Exit(1)
	}
	defer mqttAdapter.Close()

	httpServer := httpapi.NewServer(b, broadcaster, logger)
	go func() {
		if err := httpServer.ListenAndServe(file.HTTPListen); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		if err := http.ListenAndServe(":9100", metricsRegistry.Handler()); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		b.Post(bus.Shutdown{})
	}()

	logger.Info("sauna supervisor starting")
	sup.Run(ctx)
	logger.Info("sauna supervisor stopped")
}
