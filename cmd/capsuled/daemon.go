package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/oriys/capsule/internal/cache"
	"github.com/oriys/capsule/internal/config"
	"github.com/oriys/capsule/internal/controlplane"
	"github.com/oriys/capsule/internal/guestagent"
	"github.com/oriys/capsule/internal/hypervisor"
	"github.com/oriys/capsule/internal/hypervisor/firecracker"
	stubdriver "github.com/oriys/capsule/internal/hypervisor/stub"
	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/metrics"
	"github.com/oriys/capsule/internal/observability"
	"github.com/oriys/capsule/internal/pool"
	"github.com/oriys/capsule/internal/poolmanager"
	"github.com/oriys/capsule/internal/snapshotstore"
	"github.com/oriys/capsule/internal/store"
	"github.com/oriys/capsule/internal/supervisor"
	"github.com/oriys/capsule/internal/transport"
)

func runCmd() *cobra.Command {
	var (
		controlAddr string
		logLevel    string
		dev         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)
			if cmd.Flags().Changed("control-addr") {
				cfg.Daemon.ControlAddr = controlAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				httpSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
				go func() {
					if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("metrics server error", "error", err)
					}
				}()
				logging.Op().Info("metrics listening", "addr", cfg.Metrics.Addr)
				defer httpSrv.Close()
			}

			var snapCache *cache.Cache
			if cfg.Redis.Addr != "" {
				c, err := cache.Open(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 0)
				if err != nil {
					return fmt.Errorf("open snapshot cache: %w", err)
				}
				defer c.Close()
				snapCache = c
				logging.Op().Info("snapshot location cache enabled", "addr", cfg.Redis.Addr)
			}

			var snapArchive *snapshotstore.Store
			if cfg.SnapshotStore.Enabled {
				s, err := snapshotstore.Open(ctx, cfg.SnapshotStore.Bucket)
				if err != nil {
					return fmt.Errorf("open snapshot archive: %w", err)
				}
				snapArchive = s
				logging.Op().Info("snapshot archival enabled", "bucket", cfg.SnapshotStore.Bucket)
			}

			var driver hypervisor.Driver
			if dev {
				devRegistry := guestagent.NewRegistry()
				registerDevFunctions(devRegistry)
				driver = stubdriver.New(devRegistry)
				logging.Op().Info("using in-process stub hypervisor driver (dev mode)")
			} else {
				fc := firecracker.New(cfg.Hypervisor.Binary, cfg.Hypervisor.SnapshotDir)
				if snapCache != nil {
					fc = fc.WithLocationCache(snapCache)
				}
				if snapArchive != nil {
					fc = fc.WithArchive(snapArchive)
				}
				driver = fc
				logging.Op().Info("using firecracker hypervisor driver", "binary", cfg.Hypervisor.Binary)
			}

			vmCfg := hypervisor.VMConfig{
				KernelPath: cfg.Hypervisor.KernelPath,
				RootfsDir:  cfg.Hypervisor.RootfsDir,
				Native:     cfg.Hypervisor.Native && !dev,
			}
			poolCfg := pool.Config{
				MinSize:         cfg.Pool.MinSize,
				MaxSize:         cfg.Pool.MaxSize,
				MaxCallsPerVM:   cfg.Pool.MaxCallsPerVM,
				IdleTimeout:     cfg.Pool.IdleTimeout,
				StartupTimeout:  cfg.Pool.StartupTimeout,
				AcquireTimeout:  cfg.Pool.AcquireTimeout,
				MaintenanceTick: cfg.Pool.MaintenanceTick,
			}
			mgr := poolmanager.New(driver, transport.NewDialer(vmCfg.Native), vmCfg, poolCfg, m)
			sup := supervisor.New(driver, mgr).WithMetrics(m)

			var batcher *store.Batcher
			if cfg.Postgres.DSN != "" {
				st, err := store.Open(ctx, cfg.Postgres.DSN)
				if err != nil {
					return fmt.Errorf("open invocation store: %w", err)
				}
				defer st.Close()
				batcher = store.NewBatcher(st, store.BatcherConfig{})
				defer batcher.Shutdown(5 * time.Second)
				sup.WithRecorder(batcher)
				logging.Op().Info("invocation audit log enabled")
			}

			server := controlplane.NewServer(sup)
			if err := server.Start(cfg.Daemon.ControlAddr); err != nil {
				return fmt.Errorf("start control plane: %w", err)
			}

			logging.Op().Info("capsuled ready", "control_addr", cfg.Daemon.ControlAddr)

			<-ctx.Done()
			logging.Op().Info("shutting down")
			server.Stop()
			return sup.Shutdown(context.Background())
		},
	}

	cmd.Flags().StringVar(&controlAddr, "control-addr", "", "gRPC control-plane listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().BoolVar(&dev, "dev", false, "use the in-process stub hypervisor driver instead of firecracker")
	return cmd
}
