package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/jedisos/internal/channels"
	"github.com/nextlevelbuilder/jedisos/internal/channels/discord"
	"github.com/nextlevelbuilder/jedisos/internal/channels/telegram"
	"github.com/nextlevelbuilder/jedisos/internal/gateway"
	"github.com/nextlevelbuilder/jedisos/internal/runtime"
	"github.com/nextlevelbuilder/jedisos/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and all configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(context.Background())

			services, err := runtime.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			services.StartBackground(ctx)

			manager := channels.NewManager()
			if cfg.Channels.Telegram.Enabled {
				if cfg.Channels.Telegram.Token == "" {
					return fmt.Errorf("telegram enabled but JEDISOS_TELEGRAM_TOKEN is not set")
				}
				tg, err := telegram.New(services.Engine, telegram.Config{
					Token:     cfg.Channels.Telegram.Token,
					AllowFrom: cfg.Channels.Telegram.AllowFrom,
				})
				if err != nil {
					return err
				}
				manager.Add(tg)
			}
			if cfg.Channels.Discord.Enabled {
				if cfg.Channels.Discord.Token == "" {
					return fmt.Errorf("discord enabled but JEDISOS_DISCORD_TOKEN is not set")
				}
				dc, err := discord.New(services.Engine, discord.Config{
					Token:          cfg.Channels.Discord.Token,
					AllowFrom:      cfg.Channels.Discord.AllowFrom,
					RequireMention: cfg.Channels.Discord.RequireMention,
				})
				if err != nil {
					return err
				}
				manager.Add(dc)
			}

			manager.StartAll(ctx)
			defer manager.StopAll(context.Background())

			// Background completions for users with no live web/CLI session
			// go out through whichever platform knows them.
			services.Hub.SetFallback(func(userID, message string) {
				manager.Notify(ctx, "", userID, message)
			})

			server := gateway.NewServer(cfg, services.Engine, services.PDP, services.Audit, services.Manager, services.Loader)
			if err := server.Start(ctx); err != nil {
				return err
			}

			slog.Info("jedisos stopped")
			return nil
		},
	}
}
