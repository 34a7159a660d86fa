package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daemonp/satel2mqtt/internal/cache"
	"github.com/daemonp/satel2mqtt/internal/config"
	"github.com/daemonp/satel2mqtt/internal/homeassistant"
	"github.com/daemonp/satel2mqtt/internal/log"
	"github.com/daemonp/satel2mqtt/internal/mqtt"
	"github.com/daemonp/satel2mqtt/internal/panel"
)

func main() {
	configFile := flag.String("config", "config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogger(cfg.Log)

	p := panel.NewPanel(cfg, logger)

	if cfg.Cache {
		cacheData, err := cache.LoadCache()
		if err != nil {
			logger.Warn("Failed to load cache: %v", err)
		} else if cacheData != nil {
			p.SetCachedData(cacheData)
			logger.Info("Loaded device names from cache")
		}
	}

	mqttClient := mqtt.NewMQTT(&cfg.MQTT, p, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := mqttClient.Connect(); err != nil {
		logger.Error("Failed to connect to MQTT broker: %v", err)
		os.Exit(1)
	}

	if cfg.HomeAssistant.Discovery {
		ha := homeassistant.New(&cfg.HomeAssistant, mqttClient, p, logger)
		ha.Start()
	}

	// The panel supervisor reconnects on its own; the bridge stays up
	// while the panel is unreachable and reports it as unavailable.
	p.Start()
	go mqttClient.Run()

	<-sigChan

	logger.Info("Shutting down...")
	p.Stop()

	if cfg.Cache {
		if err := cache.SaveCache(p.GetCacheableData()); err != nil {
			logger.Warn("Failed to save cache: %v", err)
		} else {
			logger.Info("Saved device names to cache")
		}
	}

	mqttClient.Close()
}
