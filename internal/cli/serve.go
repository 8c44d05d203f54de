package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/events"
	"chat-relay/internal/llm"
	"chat-relay/internal/server"
	"chat-relay/internal/store"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8000)")
	cmd.Flags().String("base-path", "", "mount all routes under this path, e.g. /api/v1")
	cmd.Flags().String("store", "", "store driver (memory, sqlite)")
	cmd.Flags().String("events", "", "events driver (gochannel, redis, none)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	_ = viper.BindPFlag("store.driver", cmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("events.driver", cmd.Flags().Lookup("events"))
	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := log.Logger

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Chat.TitleLength)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}

	bus, err := events.New(ctx, cfg.Events, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	opts := chat.Options{
		SystemPrompt: cfg.Chat.SystemPrompt,
		Model:        cfg.LLM.Model,
		Logger:       logger,
	}
	if bus != nil {
		opts.Notifier = bus
	}
	if tokens, err := llm.NewTokenCounter(llm.DefaultEncoding); err != nil {
		logger.Warn().Err(err).Msg("token estimates disabled")
	} else {
		opts.Tokens = tokens
	}

	logger.Info().
		Str("llm", cfg.LLM.Type).
		Str("model", cfg.LLM.Model).
		Str("store", cfg.Store.Driver).
		Str("events", cfg.Events.Driver).
		Msg("chat relay configured")

	svc := chat.NewService(st, client, opts)
	return server.New(cfg.Server, svc, bus, logger).Run(ctx)
}
