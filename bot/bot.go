package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"penpreserve/command"
	"penpreserve/config"
	"penpreserve/database"
	"penpreserve/ingest"
	"penpreserve/permission"
	"penpreserve/platform"
	"penpreserve/ratelimit"
	"penpreserve/recovery"
	"penpreserve/scheduler"
	"penpreserve/server"
	"penpreserve/utils"
	"penpreserve/webdav"

	"github.com/bwmarrin/discordgo"
)

// Bot encapsulates the bot's state and wired services.
type Bot struct {
	Session    *discordgo.Session
	Settings   *config.Settings
	Store      *database.Store
	Platform   *platform.Client
	Storage    *webdav.Client
	Pipeline   *ingest.Pipeline
	Scheduler  *scheduler.Scheduler
	Permission *permission.Manager
	Recovery   *recovery.Manager
	Webhook    *server.Server
	Auth       *utils.Auth

	cancel    context.CancelFunc
	schedDone chan struct{}
}

// NewBot creates and wires a new Bot instance from loaded settings.
func NewBot(settings *config.Settings) (*Bot, error) {
	if settings.Bot.Token == "" {
		return nil, fmt.Errorf("no bot token provided")
	}

	dg, err := discordgo.New("Bot " + settings.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers | discordgo.IntentMessageContent

	store, err := database.InitDB(settings.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	auth, err := utils.NewAuth()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(5)
	plat := platform.NewClient(dg, limiter)
	storage := webdav.NewClient(
		settings.WebDAV.URL,
		settings.WebDAV.Username,
		settings.WebDAV.Password,
		settings.WebDAV.Timeout(),
		settings.WebDAV.RetryCount,
	)
	pipeline := ingest.NewPipeline(
		store, plat, storage,
		settings.Backup.AllowedExtensions,
		settings.Backup.MaxFileSize,
		settings.Backup.MaxHistoryMessages,
	)
	sched := scheduler.New(
		pipeline,
		settings.Scheduler.ActiveTick(),
		settings.Scheduler.IdleTick(),
		settings.Scheduler.PollInterval(),
	)
	perm := permission.NewManager(store, sched, plat, settings.Bot.NoticeDeleteDelay())
	rec := recovery.NewManager(store, sched, settings.Recovery.SafetyMargin())

	return &Bot{
		Session:    dg,
		Settings:   settings,
		Store:      store,
		Platform:   plat,
		Storage:    storage,
		Pipeline:   pipeline,
		Scheduler:  sched,
		Permission: perm,
		Recovery:   rec,
		Webhook:    server.NewServer(perm),
		Auth:       auth,
	}, nil
}

// Start opens the session, registers commands and handlers, and brings
// the scheduler, webhook listener, and cron jobs up.
func (b *Bot) Start(registerHandlers func(*Bot)) error {
	registerHandlers(b)

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	utils.InitLogger(b.Session, b.Settings.Bot.AdminChannelID)

	for _, def := range command.GetCommandDefinitions() {
		_, err := b.Session.ApplicationCommandCreate(b.Session.State.User.ID, "", def)
		if err != nil {
			log.Printf("Cannot create '%v' command: %v", def.Name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if err := b.Store.RecordStartup(ctx, time.Now()); err != nil {
		log.Printf("Failed to record startup: %v", err)
	}

	seeded, err := b.Recovery.SeedScheduler(ctx)
	if err != nil {
		log.Printf("Downtime recovery failed: %v", err)
	} else if seeded > 0 {
		log.Printf("Downtime recovery queued %d scan(s)", seeded)
	}

	b.schedDone = make(chan struct{})
	go func() {
		b.Scheduler.Run(ctx)
		close(b.schedDone)
	}()

	if b.Settings.Webhook.Enabled {
		if err := b.Webhook.Start(b.Settings.Webhook.Host, b.Settings.Webhook.Port); err != nil {
			return err
		}
	}

	startCron(b)

	fmt.Println("Bot is now running. Press CTRL-C to exit.")
	return nil
}

// Stop drains in-flight scans, records the shutdown time, and closes
// everything down.
func (b *Bot) Stop() {
	stopCron()

	if b.cancel != nil {
		b.cancel()
		<-b.schedDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Webhook.Stop(shutdownCtx); err != nil {
		log.Printf("Webhook shutdown failed: %v", err)
	}

	if err := b.Store.RecordShutdown(shutdownCtx, time.Now()); err != nil {
		log.Printf("Failed to record shutdown: %v", err)
	}
	if err := b.Store.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	}
	if b.Session != nil {
		b.Session.Close()
	}
	fmt.Println("Bot stopped gracefully.")
}

// Run is the main entry point for the bot application.
func Run(registerHandlers func(*Bot)) {
	settings, err := config.GetSettings()
	if err != nil {
		log.Fatalf("Error loading settings: %v", err)
	}

	bot, err := NewBot(settings)
	if err != nil {
		log.Fatalf("Error initializing bot: %v", err)
	}

	if err := bot.Start(registerHandlers); err != nil {
		log.Fatalf("Error starting bot: %v", err)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	bot.Stop()
}
