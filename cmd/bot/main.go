package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/atrex/options_exec_engine/internal/domain"
	"github.com/atrex/options_exec_engine/internal/infrastructure/broker"
	"github.com/atrex/options_exec_engine/internal/infrastructure/feed"
	"github.com/atrex/options_exec_engine/internal/infrastructure/logger"
	"github.com/atrex/options_exec_engine/internal/infrastructure/storage"
	"github.com/atrex/options_exec_engine/internal/usecase"
	"github.com/atrex/options_exec_engine/internal/web"
)

type Config struct {
	Broker struct {
		Paper        bool   `yaml:"paper"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"broker"`
	Symbols []string       `yaml:"symbols"`
	Engine  usecase.Config `yaml:"engine"`
	Session struct {
		MarketOpen string `yaml:"market_open"` // "09:15"
	} `yaml:"session"`
	Logging struct {
		Level     string `yaml:"level"`
		AuditFile string `yaml:"audit_file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Config{Engine: usecase.DefaultConfig()}
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	auditLog := log
	if cfg.Logging.AuditFile != "" {
		auditLog, err = logger.NewFileLogger(cfg.Logging.AuditFile, "info")
		if err != nil {
			log.Error("Failed to init audit logger, using default", zap.Error(err))
			auditLog = log
		}
	}

	// 3. Init Storage
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "engine.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}

	// 4. Init Broker
	var brk domain.Broker
	if cfg.Broker.Paper || cfg.Broker.APIKey == "" {
		log.Warn("No broker credentials, running in paper mode")
		brk = broker.NewPaperBroker()
	} else {
		brk = broker.NewRESTBroker(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.RESTEndpoint, cfg.Engine.BrokerTimeout)
	}

	// 5. Init Engine
	engine, err := usecase.NewEngine(brk, store, cfg.Engine, auditLog)
	if err != nil {
		log.Fatal("Failed to init engine", zap.Error(err))
	}

	// Rebuild today's risk counters so a restart cannot grant fresh budget.
	dayStart := startOfDay(time.Now())
	if err := engine.RestoreDay(context.Background(), dayStart); err != nil {
		log.Error("Failed to restore day state", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	// 6. Connect market feed
	marketFeed := feed.NewWSFeed(cfg.Broker.WSEndpoint, log)
	marketFeed.OnSnapshot(func(snap domain.MarketSnapshot) {
		engine.Tick(context.Background(), snap)
	})
	if cfg.Broker.WSEndpoint != "" {
		if err := marketFeed.Connect(cfg.Symbols); err != nil {
			log.Error("Failed to connect market feed", zap.Error(err))
		}
		defer marketFeed.Close()
	}

	// 7. Session clock: tracks market open/close and resets the ledger on
	// day rollover.
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		currentDay := time.Now().Format("2006-01-02")
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				if day := now.Format("2006-01-02"); day != currentDay {
					currentDay = day
					log.Info("New session day, resetting risk ledger", zap.String("day", day))
					engine.ResetForNewDay()
				}
				engine.SetMarketOpen(withinSession(now, cfg.Session.MarketOpen, cfg.Engine.MarketClose))
				engine.SweepStaleData(context.Background())
			case <-done:
				return
			}
		}
	}()

	// 8. Status server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, engine, store, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	<-stop
	close(done)

	log.Info("Shutting down...")
	server.Shutdown(context.Background())
	store.Close()
}

func startOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func withinSession(now time.Time, openStr, closeStr string) bool {
	open, err := parseClock(now, openStr)
	if err != nil {
		return false
	}
	closeAt, err := parseClock(now, closeStr)
	if err != nil {
		return false
	}
	return !now.Before(open) && now.Before(closeAt)
}

func parseClock(day time.Time, hhmm string) (time.Time, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, day.Location()), nil
}
