package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/keshon/heartflow/internal/ai"
	"github.com/keshon/heartflow/internal/config"
	"github.com/keshon/heartflow/internal/discord"
	"github.com/keshon/heartflow/internal/history"
	"github.com/keshon/heartflow/internal/logging"
	"github.com/keshon/heartflow/internal/mind"
	"github.com/keshon/heartflow/internal/statusapi"
	"github.com/keshon/heartflow/internal/storage"
)

func runCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "run without Discord (status API and heartbeats only)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, offline bool) error {
	logging.Setup(cfg.Logging())
	defer logging.Close()
	log := logging.For("main")
	log.Info().Str("action", "start").Str("version", version).Msg("starting " + appName)

	if !offline {
		if err := cfg.RequireDiscord(); err != nil {
			return err
		}
	}

	store, err := storage.New(cfg.StoragePath, logging.For("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	hist, closeHist, err := openHistory(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer closeHist()

	provider, err := ai.New(cfg.AI())
	if err != nil {
		return err
	}

	persona, err := config.OpenPersona(cfg.PersonaFile, mind.Persona{Name: appName}, logging.For("persona"))
	if err != nil {
		return err
	}
	go func() {
		if err := persona.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("persona file will not be reloaded")
		}
	}()

	var sender mind.Sender = mind.SenderFunc(func(_ context.Context, dest, text string) error {
		log.Info().Str("action", "send").Str("destination", dest).Str("text", text).Msg("offline send")
		return nil
	})
	var dg *discordgo.Session
	if !offline {
		if dg, err = discord.NewSession(cfg.DiscordToken); err != nil {
			return err
		}
		sender = discord.NewSender(dg)
	}
	engine := newEngine(cfg, provider, hist, sender, persona, store)
	var bot *discord.Bot
	if dg != nil {
		bot = discord.NewBot(dg, engine, store, logging.For("discord"))
	}

	if err := engine.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := engine.Terminate(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("terminate engine")
		}
		if err := store.Flush(); err != nil {
			log.Error().Err(err).Msg("flush datastore")
		}
		log.Info().Str("action", "stop").Msg(appName + " exited cleanly")
	}()

	go storage.RunPeriodicSave(ctx, engine.Store(), cfg.SaveInterval, logging.For("storage"))

	errCh := make(chan error, 2)
	if cfg.StatusAddr != "" {
		api := statusapi.New(engine, cfg.CORSOrigins, logging.For("statusapi"))
		go func() { errCh <- api.ListenAndServe(ctx, cfg.StatusAddr) }()
	}
	if bot != nil {
		go func() { errCh <- bot.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		log.Info().Str("action", "shutdown").Msg("signal received, shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("service stopped: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

func newEngine(cfg *config.Config, provider ai.Provider, hist history.Store, sender mind.Sender, persona mind.PersonaSource, store *storage.Storage) *mind.Engine {
	return mind.New(cfg.Mind(), mind.Deps{
		Provider:  provider,
		History:   hist,
		Sender:    sender,
		Persona:   persona,
		Policy:    cfg.Policy(),
		Persister: store,
		Limiter:   cfg.Limiter(),
		Logger:    logging.For("mind"),
	})
}

// openHistory opens the SQLite history, or an in-memory one when no path is set.
func openHistory(path string) (history.Store, func(), error) {
	if path == "" {
		return history.NewMemory(500), func() {}, nil
	}
	db, err := history.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}
	return db, func() { _ = db.Close() }, nil
}
