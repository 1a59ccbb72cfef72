package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"slidesync/internal/archive"
	"slidesync/internal/config"
	"slidesync/internal/hertzapi"
	"slidesync/internal/httpapi"
	"slidesync/internal/metrics"
	"slidesync/internal/rooms"
)

var v *viper.Viper

var rootCmd = &cobra.Command{
	Use:          "slidesync",
	Short:        "Real-time rooms for presentation sessions",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cfg)
	},
}

func init() {
	v = config.New()
	cobra.CheckErr(bindServerFlags(v, rootCmd.Flags()))
	rootCmd.AddCommand(watchCmd)
}

// bindServerFlags defines the serve flags and binds each one to its config key.
func bindServerFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String("transport", config.TransportHertz, "HTTP stack to serve with (hertz or echo)")
	flags.String("http-addr", ":8080", "address for the API and WebSocket listener")
	flags.String("metrics-addr", ":9090", "address for the Prometheus listener (empty to disable)")
	flags.String("archive-db", "", "SQLite file for archived recordings (empty to disable)")
	flags.String("cors-allow", "", "comma separated list of allowed origins")
	flags.Duration("room-idle-timeout", rooms.DefaultIdleTimeout, "age after which an empty room is removed")
	flags.Duration("cleanup-interval", time.Minute, "how often empty rooms are swept")
	flags.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")

	bindings := []struct{ key, flag string }{
		{config.TransportKey, "transport"},
		{config.HTTPAddrKey, "http-addr"},
		{config.MetricsAddrKey, "metrics-addr"},
		{config.ArchiveDBKey, "archive-db"},
		{config.CORSAllowKey, "cors-allow"},
		{config.RoomIdleTimeoutKey, "room-idle-timeout"},
		{config.CleanupIntervalKey, "cleanup-interval"},
		{config.ShutdownTimeoutKey, "shutdown-timeout"},
	}
	for _, b := range bindings {
		if err := v.BindPFlag(b.key, flags.Lookup(b.flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", b.flag, err)
		}
	}
	return nil
}

// main 启动入口
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run 创建房间管理器、归档与指标，按配置启动服务器
func run(ctx context.Context, cfg config.Config) error {
	collector := metrics.New()
	roomManager := rooms.NewManager(
		rooms.WithIdleTimeout(cfg.RoomIdleTimeout),
		rooms.WithMetrics(collector),
	)
	go roomManager.RunJanitor(ctx, cfg.CleanupInterval)

	var store *archive.Store
	if cfg.ArchiveDB != "" {
		var err error
		store, err = archive.Open(cfg.ArchiveDB)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			ilog.EventInfo(ctx, "metrics_listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				ilog.EventInfo(ctx, "metrics_crash", "error", err.Error())
			}
		}()
		defer metricsSrv.Close()
	}

	ilog.EventInfo(ctx, "server_start", "transport", cfg.Transport, "addr", cfg.HTTPAddr)
	var err error
	if cfg.Transport == config.TransportEcho {
		err = runEcho(ctx, cfg, roomManager, store, collector)
	} else {
		err = runHertz(ctx, cfg, roomManager, store)
	}
	ilog.EventInfo(context.Background(), "server_stopped", "rooms", roomManager.RoomCount())
	return err
}

// runHertz 启动Hertz服务器，ctx结束时优雅关闭
func runHertz(ctx context.Context, cfg config.Config, roomManager *rooms.Manager, store *archive.Store) error {
	h := server.Default(server.WithHostPorts(cfg.HTTPAddr))
	hertzapi.NewRouter(h, roomManager,
		hertzapi.WithArchive(store),
		hertzapi.WithCORS(cfg.CORSOrigins),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

// runEcho 启动Echo服务器，ctx结束时优雅关闭
func runEcho(ctx context.Context, cfg config.Config, roomManager *rooms.Manager, store *archive.Store, collector *metrics.Collector) error {
	opts := []httpapi.Option{
		httpapi.WithArchive(store),
		httpapi.WithCORS(cfg.CORSOrigins),
	}
	if cfg.MetricsAddr == "" {
		opts = append(opts, httpapi.WithMetrics(collector.Handler()))
	}
	api := httpapi.NewServer(roomManager, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
