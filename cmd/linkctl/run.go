package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/agentlink/channel"
	"github.com/cyberinferno/agentlink/config"
	"github.com/cyberinferno/agentlink/logger"
	"github.com/cyberinferno/agentlink/portalloc"
	"github.com/cyberinferno/agentlink/registry"
	"github.com/cyberinferno/agentlink/session"
)

const serviceName = "linkctl"

func runCmd() *cobra.Command {
	var (
		configPath string
		httpAddr   string
		play       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a session until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runSession(cmd.Context(), cfg, httpAddr, play)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "linkctl.toml", "path to the TOML config file")
	cmd.Flags().StringVar(&httpAddr, "http", "", "address serving /metrics and /status (disabled when empty)")
	cmd.Flags().StringVar(&play, "play", "", "animation to play once the session is ready")
	return cmd
}

func newLogger(cfg config.File) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogDir == "" {
		return logger.NewConsoleLogger(serviceName, level), nil
	}

	return logger.NewZerologFileLogger(serviceName, cfg.LogDir, level)
}

func runSession(ctx context.Context, cfg config.File, httpAddr, play string) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ch := channel.NewUDPChannel(cfg.Channel, log)
	defer ch.Close()

	opts := []session.Option{
		session.WithLogger(log),
		session.WithRegistry(registry.New(cfg.RegistryTTL, cfg.RegistryTTL)),
		session.WithMetrics(session.NewMetrics(reg)),
	}
	if cfg.UsesPortRange() {
		ports, err := portalloc.New(cfg.PortMin, cfg.PortMax)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithPorts(ports))
	}

	m, err := session.NewManager(cfg.Session, ch, opts...)
	if err != nil {
		return err
	}

	remove := m.OnConnectionTextUpdate(func(text string) {
		log.Info("connection status", logger.F("text", text))
	})
	defer remove()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.Start()
	defer m.Stop()

	if play != "" {
		if err := m.SendAnimation(play); err != nil {
			return err
		}
	} else {
		m.RequestConnect()
	}

	if httpAddr != "" {
		srv := &http.Server{
			Addr:              httpAddr,
			Handler:           newRouter(m, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", logger.Err(err))
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
