/*
This is an example of application that drives the
scheduler through the engine frame loop
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spaghettifunk/anima-sched/engine"
	"github.com/spaghettifunk/anima-sched/engine/config"
	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/renderer/software"
	"github.com/spaghettifunk/anima-sched/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima-sched/engine/scheduler"
	"github.com/spaghettifunk/anima-sched/testbed"
)

type options struct {
	frames      uint64
	configPath  string
	workers     int
	backend     string
	metricsAddr string
	seed        uint64
}

func main() {
	var opts options
	flag.Uint64Var(&opts.frames, "frames", 0, "number of frames to run, 0 runs until interrupted")
	flag.StringVar(&opts.configPath, "config", "", "TOML or YAML configuration file, reloaded on change")
	flag.IntVar(&opts.workers, "workers", 0, "number of recording workers, 0 uses the configuration or the CPU count")
	flag.StringVar(&opts.backend, "backend", "software", "command backend: software or vulkan")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flag.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "seed for the testbed workload")
	flag.Parse()

	if err := run(opts); err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
}

// applicationConfig merges the configuration file, if any, with the flags.
// Flags win over the file.
func applicationConfig(opts options) (*engine.ApplicationConfig, string, error) {
	appConfig := &engine.ApplicationConfig{
		Name:       "Anima Scheduler Testbed",
		LogLevel:   core.InfoLevel,
		MaxFrames:  opts.frames,
		Scheduler:  scheduler.DefaultConfig(),
		ConfigPath: opts.configPath,
	}
	metricsAddr := opts.metricsAddr

	if opts.configPath != "" {
		f, err := config.Load(opts.configPath)
		if err != nil {
			return nil, "", err
		}
		if appConfig.Scheduler, err = f.Scheduler.Config(); err != nil {
			return nil, "", err
		}
		if appConfig.LogLevel, err = f.Application.Level(); err != nil {
			return nil, "", err
		}
		if f.Application.Name != "" {
			appConfig.Name = f.Application.Name
		}
		if appConfig.MaxFrames == 0 && f.Application.Frames > 0 {
			appConfig.MaxFrames = uint64(f.Application.Frames)
		}
		if metricsAddr == "" {
			metricsAddr = f.Application.MetricsAddr
		}
	}
	if opts.workers > 0 {
		appConfig.Scheduler.WorkerCount = opts.workers
	}
	return appConfig, metricsAddr, nil
}

// newBackend returns the backend, the resources the testbed can use on it
// and a function releasing both.
func newBackend(name, appName string) (renderer.CommandBackend, testbed.Resources, func(), error) {
	switch name {
	case "software":
		return software.New(software.WithGPULatency(time.Millisecond)), testbed.SoftwareResources(), func() {}, nil
	case "vulkan":
		vc, err := vulkan.NewHeadlessContext(appName)
		if err != nil {
			return nil, testbed.Resources{}, nil, err
		}
		b := vulkan.NewBackend(vc)
		var buffers []*vulkan.VulkanBuffer
		release := func() {
			b.Destroy()
			for _, buf := range buffers {
				buf.Destroy(vc)
			}
			vc.Destroy()
		}
		for range 2 {
			buf, err := vulkan.NewTransferBuffer(vc, 4096)
			if err != nil {
				release()
				return nil, testbed.Resources{}, nil, err
			}
			buffers = append(buffers, buf)
		}
		// no pipelines or render passes exist on a headless device, so only
		// transfer work is recorded
		resources := testbed.Resources{
			Staging: b.RegisterBuffer(buffers[0].Handle),
			Target:  b.RegisterBuffer(buffers[1].Handle),
		}
		return b, resources, release, nil
	}
	return nil, testbed.Resources{}, nil, fmt.Errorf("unknown backend %q", name)
}

func serveMetrics(addr string, s *scheduler.Scheduler) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		scheduler.NewCollector(s),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.LogError("metrics server: %v", err)
		}
	}()
	core.LogInfo("serving metrics on %s/metrics", addr)
	return server
}

func run(opts options) error {
	appConfig, metricsAddr, err := applicationConfig(opts)
	if err != nil {
		return err
	}

	backend, resources, release, err := newBackend(opts.backend, appConfig.Name)
	if err != nil {
		return err
	}
	defer release()
	resources.RayTracing = backend.Capabilities().RayTracing

	tb := testbed.NewTestGame(appConfig, resources, opts.seed)
	e, err := engine.New(tb.Game, backend)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		server := serveMetrics(metricsAddr, e.Scheduler())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()
	}

	if err := e.Initialize(); err != nil {
		return errors.Join(err, e.Shutdown())
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	stats := e.Scheduler().Stats()
	fps, frameMs := e.FrameMetrics()
	shutdownErr := e.Shutdown()

	printStats(e.Frames(), fps, frameMs, stats)
	return errors.Join(runErr, shutdownErr)
}

func printStats(frames uint64, fps, frameMs float64, stats scheduler.Stats) {
	fmt.Printf("frames: %d  fps: %.0f  frame time: %.3fms  submitted batches: %d\n", frames, fps, frameMs, stats.FramesSubmitted)
	fmt.Printf("items: %d total, %d completed, %d failed, %d rejected  queue: %d (peak %d)  avg recording: %.4fms\n",
		stats.TotalItems, stats.CompletedItems, stats.FailedItems, stats.RejectedItems,
		stats.QueueDepth, stats.PeakQueueDepth, stats.AvgRecordingTimeMs)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Worker", "Processed", "Utilization")
	for i, u := range stats.PerWorkerUtilization {
		var processed uint64
		if i < len(stats.PerWorkerProcessed) {
			processed = stats.PerWorkerProcessed[i]
		}
		if err := table.Append([]string{fmt.Sprint(i), fmt.Sprint(processed), fmt.Sprintf("%.1f%%", u*100)}); err != nil {
			core.LogWarn("stats table: %v", err)
			return
		}
	}
	if err := table.Render(); err != nil {
		core.LogWarn("stats table: %v", err)
	}
}
