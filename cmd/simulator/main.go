package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pcs-simulator/internal/config"
	"pcs-simulator/internal/history"
	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/nameplate"
	"pcs-simulator/internal/observability"
	"pcs-simulator/internal/pcs"
	"pcs-simulator/internal/pipeline"
	"pcs-simulator/internal/plclink"
	"pcs-simulator/internal/publisher"
	"pcs-simulator/internal/store"
	"pcs-simulator/internal/transport"
	"pcs-simulator/internal/validity"
)

// commandSinks fans applied commands out to every interested consumer:
// the history recorder and the retransmit wakeup.
type commandSinks struct {
	sinks  []pipeline.CommandSink
	signal *publisher.Signal
}

func (c *commandSinks) RecordCommand(rec pipeline.CommandRecord) {
	for _, s := range c.sinks {
		s.RecordCommand(rec)
	}
	c.signal.Notify()
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/simulator.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config %s: %v", cfgPath, err)
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	nps, rowErrs, err := nameplate.Load(cfg.Files.Nameplates)
	if err != nil {
		log.Fatalf("load nameplates %s: %v", cfg.Files.Nameplates, err)
	}
	for _, re := range rowErrs {
		logger.Warn("nameplate row skipped", logging.Int("row", re.Row), logging.String("reason", re.Reason))
	}

	routing, err := pcs.BuildRoutingTable(nps)
	if err != nil {
		log.Fatalf("build routing table: %v", err)
	}
	records, err := pcs.LoadSubscriberRecords(cfg.Files.SubscriberMapping)
	if err != nil {
		log.Fatalf("load subscriber mapping %s: %v", cfg.Files.SubscriberMapping, err)
	}
	commands, err := pcs.BuildCommandMap(records, nps)
	if err != nil {
		log.Fatalf("build command map: %v", err)
	}
	mappings, err := pcs.LoadTypeMappings(cfg.Files.TypeMapping)
	if err != nil {
		log.Fatalf("load type mappings %s: %v", cfg.Files.TypeMapping, err)
	}
	types := make([]string, 0, len(nps))
	seen := make(map[string]bool)
	for _, np := range nps {
		if !seen[np.PcsType] {
			seen[np.PcsType] = true
			types = append(types, np.PcsType)
		}
	}
	if err := mappings.Validate(types); err != nil {
		log.Fatalf("type mappings incomplete: %v", err)
	}

	logger.Info("configuration loaded",
		logging.Int("units", len(nps)),
		logging.Int("routes", routing.Size()),
		logging.Any("command_appids", commands.AppIDs()))

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewCollector(registry)
	if err != nil {
		log.Fatalf("register metrics: %v", err)
	}

	st := store.New(nps)
	sig := publisher.NewSignal()

	fanout := &commandSinks{signal: sig}
	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Open(cfg.History.DBPath, cfg.History.MaxQueueSize, logger, metrics)
		if err != nil {
			log.Fatalf("open history %s: %v", cfg.History.DBPath, err)
		}
		fanout.sinks = append(fanout.sinks, recorder)
	}

	pipe := pipeline.New(pipeline.Config{
		Workers:   cfg.System.Processing.MaxWorkers,
		QueueSize: cfg.System.Processing.MaxQueueSize,
	}, routing, commands, st, logger, metrics, fanout)

	dual, err := transport.New(transport.Config{
		Lan1Listen: cfg.Network.Lan1Listen,
		Lan2Listen: cfg.Network.Lan2Listen,
		Lan1Peer:   cfg.Network.Lan1Peer,
		Lan2Peer:   cfg.Network.Lan2Peer,
	}, func(lan store.LAN, raw []byte) bool {
		return pipe.Submit(pipeline.Item{Lan: lan, Raw: raw})
	}, logger)
	if err != nil {
		log.Fatalf("start transport: %v", err)
	}

	pub, err := publisher.New(publisher.Config{
		InitialInterval: cfg.System.Retransmit.InitialInterval,
		MaxInterval:     cfg.System.Retransmit.MaxInterval,
	}, nps, mappings, st, dual, sig, logger, metrics)
	if err != nil {
		log.Fatalf("init publisher: %v", err)
	}

	var transitionSink validity.TransitionSink
	if recorder != nil {
		transitionSink = recorder
	}
	sweeper := validity.New(st, cfg.System.Validity.Timeout, cfg.System.Validity.Interval, logger, metrics, transitionSink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	pipe.Start()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dual.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		pub.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	if cfg.Plc.Enabled {
		builder := plclink.NewImageBuilder(st, nps)
		reporter, err := plclink.NewReporter(cfg.Plc.ReportAddr, cfg.Plc.ReportInterval, builder, logger)
		if err != nil {
			log.Fatalf("start PLC reporter: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter.Run(ctx)
		}()

		if cfg.Plc.CommandListen != "" {
			listener, err := plclink.NewListener(cfg.Plc.CommandListen, func(all plclink.CommandAll) {
				for _, cmd := range all.Commands {
					if err := st.ApplySetpoints(cmd.LogicalID, cmd.ActivePower, cmd.ReactivePower); err != nil {
						logger.Warn("PLC command for unknown unit", logging.Uint16("logical_id", cmd.LogicalID))
					}
				}
				sig.Notify()
			}, logger)
			if err != nil {
				log.Fatalf("start PLC listener: %v", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				listener.Run(ctx)
			}()
		}
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		logger.Info("metrics exposed", logging.String("addr", cfg.Metrics.ListenAddress))
	}

	logger.Info("simulator running", logging.Any("lans", dual.Lans()))
	wg.Wait()
	pipe.Close()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Warn("history close failed", logging.Err(err))
		}
	}
	logger.Info("simulator stopped")
}
