package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"murmur/client/internal/app"
	"murmur/client/internal/assist"
	"murmur/client/internal/blob"
	"murmur/client/internal/changefeed"
	"murmur/client/internal/config"
	"murmur/client/internal/export"
	"murmur/client/internal/feed"
	"murmur/client/internal/search"
	"murmur/client/internal/session"
	"murmur/client/internal/store"
)

func main() {
	var (
		channelID = flag.String("channel", "", "channel id to tail")
		dmWith    = flag.String("dm", "", "user id to open a direct conversation with")
		threadOf  = flag.String("thread", "", "parent message id to open as a thread")
		token     = flag.String("token", os.Getenv("MURMUR_TOKEN"), "platform session token")
	)
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	sess, err := session.FromToken([]byte(cfg.TokenSecret), *token)
	if err != nil {
		log.Fatalf("session token rejected: %v", err)
	}
	me := sess.CurrentUser()

	broker, err := changefeed.NewBroker(cfg.RedisURL)
	if err != nil {
		log.Fatalf("changefeed connection failed: %v", err)
	}
	defer broker.Close()

	blobs, err := blob.New(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
	if err != nil {
		log.Fatalf("storage client failed: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatalf("storage bucket check failed: %v", err)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	assistService := assist.New(cfg.AssistURL, cfg.AssistAPIKey)

	client := app.NewClient(sess, dataStore, broker, blobs, searchService, cfg.SignURLTTL)
	defer client.Close()

	scope, label, err := pickScope(*channelID, *dmWith, *threadOf, me.ID)
	if err != nil {
		log.Fatal(err)
	}

	changed := make(chan struct{}, 1)
	ctrl, err := client.OpenFeed(ctx, scope,
		feed.WithOnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
		feed.WithOnError(func(err error) { log.Printf("feed: %v", err) }),
	)
	if err != nil {
		log.Fatalf("open feed failed: %v", err)
	}
	render(ctrl.Items(), label)
	go func() {
		for range changed {
			render(ctrl.Items(), label)
		}
	}()

	go readLoop(ctx, client, assistService, scope, label)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down")
}

// pickScope maps the mutually exclusive flags onto one feed scope.
func pickScope(channelID, dmWith, threadOf, selfID string) (feed.Scope, string, error) {
	set := 0
	for _, v := range []string{channelID, dmWith, threadOf} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return feed.Scope{}, "", fmt.Errorf("exactly one of -channel, -dm, -thread is required")
	}
	switch {
	case channelID != "":
		return feed.ChannelScope(channelID), "#" + channelID, nil
	case dmWith != "":
		return feed.DirectScope(selfID, dmWith), "@" + dmWith, nil
	default:
		return feed.ThreadScope(threadOf), "thread " + threadOf, nil
	}
}

func render(items []feed.Item, label string) {
	fmt.Printf("\n--- %s ---\n", label)
	for _, it := range items {
		line := fmt.Sprintf("%s  %-12s %s", it.CreatedAt.Format("15:04:05"), it.SenderName, it.Content)
		if it.ReplyCount > 0 {
			line += fmt.Sprintf("  (%d replies)", it.ReplyCount)
		}
		for _, att := range it.Attachments {
			line += fmt.Sprintf("  [%s]", att.DisplayName)
		}
		fmt.Println(line)
	}
	fmt.Print("> ")
}

func readLoop(ctx context.Context, client *app.Client, assistService *assist.Service, scope feed.Scope, label string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			fmt.Print("> ")
			continue
		case strings.HasPrefix(line, "/search "):
			resp := client.Search(search.Query{Text: strings.TrimPrefix(line, "/search "), Limit: 10})
			for _, r := range resp.Results {
				fmt.Printf("  %s: %s\n", r.SenderName, r.Snippet)
			}
			fmt.Printf("  %d results\n> ", resp.Total)
			continue
		case strings.HasPrefix(line, "/react "):
			parts := strings.Fields(strings.TrimPrefix(line, "/react "))
			if len(parts) != 2 {
				fmt.Print("usage: /react <message-id> <emoji>\n> ")
				continue
			}
			agg, err := client.Reactions(ctx, parts[0])
			if err == nil {
				err = agg.Toggle(ctx, parts[1])
			}
			if err != nil {
				log.Printf("react: %v", err)
			}
			fmt.Print("> ")
			continue
		case strings.HasPrefix(line, "/export"):
			res, err := client.ExportTranscript(scope, label, export.FormatHTML)
			if err != nil {
				log.Printf("export: %v", err)
				fmt.Print("> ")
				continue
			}
			if err := os.WriteFile(res.Filename, res.Data, 0o644); err != nil {
				log.Printf("export: %v", err)
			} else {
				fmt.Printf("wrote %s\n", res.Filename)
			}
			fmt.Print("> ")
			continue
		case strings.HasPrefix(line, "/polish "):
			draft := strings.TrimPrefix(line, "/polish ")
			improved, err := assistService.Enhance(ctx, draft)
			if err != nil {
				log.Printf("assist: %v", err)
				improved = draft
			}
			line = improved
		}

		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if _, err := client.Send(sendCtx, scope, line, nil, nil); err != nil {
			log.Printf("send: %v", err)
		}
		cancel()
	}
}
