package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/magisk317/napgram/internal/config"
	"github.com/magisk317/napgram/internal/convert"
	"github.com/magisk317/napgram/internal/events"
	"github.com/magisk317/napgram/internal/forward"
	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/media"
	"github.com/magisk317/napgram/internal/onebot"
	"github.com/magisk317/napgram/internal/storage"
	"github.com/magisk317/napgram/internal/telegram"
)

func main() {
	// 1. Load config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log.Info().Int("instance", cfg.InstanceID).Msg("starting napgram bridge")

	// 3. Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Database and mapping store
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	mappings := storage.NewMappingsRepository(db, log)

	// 5. Forwarding pairs
	pairs, err := config.LoadPairs(cfg.PairsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load forwarding pairs")
	}
	if len(pairs) == 0 {
		log.Warn().Str("file", cfg.PairsFile).Msg("no forwarding pairs configured")
	}

	// 6. NATS (optional)
	var publisher events.Publisher
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, event publishing disabled")
		} else {
			defer nc.Close()
			publisher = events.NewNATSPublisher(nc)
		}
	}

	// 7. Telegram client (session persisted in the same database)
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}
	proto, err := telegram.NewPersistentClient(cfg.TGApiID, cfg.TGApiHash, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram client")
	}
	tgClient := telegram.NewClient(proto, cfg.TempDir, log)

	// 8. QQ gateway client
	obClient := onebot.NewClient(cfg.OneBotWSURL, cfg.OneBotAccessToken, log)

	// 9. Media pipeline
	cache, err := media.NewCache(cfg.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create media cache")
	}
	voice := media.NewVoiceTranscoder(cfg.TempDir, media.DefaultVoiceEncoders(), log)
	stickers := media.NewStickerConverter(cache, cfg.TempDir, cfg.TGSEncoderArgv, log)
	images := media.NewImageCompressor(cfg.ImageBudget, log)

	// Media the gateway must fetch itself goes through a shared directory
	// when one is configured, otherwise over a local HTTP server.
	var bytesPub convert.BytesPublisher
	if cfg.SharedMediaDir != "" {
		bytesPub = media.DirPublisher{Dir: cfg.SharedMediaDir}
	} else {
		fs := media.NewFileServer(cfg.TempDir, cfg.FileServerAddr, cfg.FileServerURL, log)
		if err := fs.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start media file server")
		}
		defer fs.Stop()
		bytesPub = fs
	}

	// Each direction resolves the opposite platform's native handles.
	tgFetch := media.NewFetcher(tgClient, log)
	qqFetch := media.NewFetcher(onebot.NewDownloader(obClient, log), log)

	// 10. Converters and orchestrator
	qqConv := convert.NewQQConverter(tgFetch, voice, stickers, bytesPub, log)
	tgConv := convert.NewTelegramConverter(qqFetch, voice, images, tgClient, log)

	orch := forward.New(forward.Options{
		InstanceID: cfg.InstanceID,
		Pairs:      pairs,
		QQ:         obClient,
		Telegram:   tgClient,
		QQConv:     qqConv,
		TGConv:     tgConv,
		Store:      mappings,
		Publisher:  publisher,
		Log:        log,
	})
	defer orch.Shutdown()

	obClient.OnMessage(orch.HandleQQ)
	tgClient.OnMessage(orch.HandleTelegram)

	// 11. Run
	if err := obClient.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start gateway client")
	}
	defer obClient.Stop()

	log.Info().
		Int("pairs", len(pairs)).
		Int64("tg_self", tgClient.Self()).
		Msg("bridge running")

	<-ctx.Done()
	log.Info().Msg("shutting down")
}
