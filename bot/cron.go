package bot

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

var c *cron.Cron

// startCron starts the periodic maintenance jobs.
func startCron(b *Bot) {
	log.Println("Initializing maintenance jobs...")
	c = cron.New()
	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		log.Println("Running hourly attachment reconciliation...")
		if err := b.Pipeline.ReconcilePending(ctx); err != nil {
			log.Printf("Attachment reconciliation failed: %v", err)
		}
		refreshTitles(ctx, b)
	})
	if err != nil {
		log.Fatalf("Could not set up cron job: %v", err)
	}
	c.Start()
	log.Println("Maintenance jobs scheduled to run hourly.")
}

// refreshTitles re-reads channel and thread names so renames show up in
// backup listings.
func refreshTitles(ctx context.Context, b *Bot) {
	configs, err := b.Store.ListActiveConfigs(ctx)
	if err != nil {
		log.Printf("Title refresh failed to list configs: %v", err)
		return
	}
	for _, cfg := range configs {
		title, err := b.Platform.ChannelTitle(ctx, cfg.Scope.LocationID())
		if err != nil || title == "" || title == cfg.Title {
			continue
		}
		if err := b.Store.UpdateConfigTitle(ctx, cfg.ID, title); err != nil {
			log.Printf("Title refresh failed for config %d: %v", cfg.ID, err)
		}
	}
}

// stopCron stops the maintenance jobs.
func stopCron() {
	if c != nil {
		c.Stop()
		log.Println("Maintenance jobs stopped.")
	}
}
