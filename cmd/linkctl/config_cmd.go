package main

import (
	"github.com/spf13/cobra"

	"github.com/cyberinferno/agentlink/config"
)

func configCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			s := cfg.Session
			cmd.Printf("device_id              %s\n", s.DeviceID)
			cmd.Printf("remote                 %s:%d\n", s.RemoteHost, s.RemotePort)
			cmd.Printf("engine_host            %s\n", s.EngineHost)
			cmd.Printf("agent                  id=%d ip=%s simulated=%t\n", s.AgentID, s.AgentIP, s.AgentSimulated)
			cmd.Printf("tick_interval          %s\n", s.TickInterval)
			cmd.Printf("liveness_timeout       %s\n", s.LivenessTimeout)
			cmd.Printf("retry_limit            %d\n", s.RetryLimit)
			cmd.Printf("shutdown_drain_timeout %s\n", s.ShutdownDrainTimeout)
			cmd.Printf("max_pending_messages   %d\n", s.MaxPendingMessages)
			if cfg.UsesPortRange() {
				cmd.Printf("ports                  %d-%d\n", cfg.PortMin, cfg.PortMax)
			} else {
				cmd.Printf("ports                  ephemeral\n")
			}
			cmd.Printf("registry_ttl           %s\n", cfg.RegistryTTL)
			cmd.Printf("log                    level=%s dir=%q\n", cfg.LogLevel, cfg.LogDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "linkctl.toml", "path to the TOML config file")
	return cmd
}
