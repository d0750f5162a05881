package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"skipper-live-service/internal/app"
	"skipper-live-service/internal/config"
	"skipper-live-service/internal/domain"
	"skipper-live-service/internal/infra/memory"
	"skipper-live-service/internal/infra/postgres"
	redisinfra "skipper-live-service/internal/infra/redis"
	"skipper-live-service/internal/pubsub"
	transport "skipper-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.TemplateLoader = memory.NewStaticTemplateLoader(sampleTemplates())
	if pool != nil {
		loader = postgres.NewTemplateLoader(pool)
	}

	templateTTL := config.TTLDuration(cfg.Templates.TTL, 10*time.Minute)
	var templates app.TemplateRepository
	if redisClient != nil {
		templates = redisinfra.NewTemplateCache(redisClient, loader, templateTTL)
	} else {
		templates = memory.NewTemplateCache(loader, templateTTL)
	}

	var sessions app.SessionRepository
	var roster app.ParticipantRepository
	var results app.ResultsRepository
	if pool != nil {
		store := postgres.NewStore(pool)
		sessions = store.Sessions()
		roster = store.Participants()
		results = store.Results()
	} else {
		store := memory.NewStore()
		sessions = store.Sessions()
		roster = store.Participants()
		results = store.Results()
	}

	var publisher pubsub.Publisher = pubsub.NewBroker()
	if redisClient != nil {
		publisher = redisinfra.NewPublisher(redisClient)
	}

	service := app.NewSessionService(sessions, roster, results, templates, publisher)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/host", wsHandler.ServeHost)
	mux.HandleFunc("/ws/play", wsHandler.ServePlay)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTemplates seeds the in-memory loader so the server is usable without a database.
func sampleTemplates() map[string]domain.QuizTemplate {
	return map[string]domain.QuizTemplate{
		"template-1": {
			ID:    "template-1",
			Title: "Harbor basics",
			Questions: []domain.Question{
				{
					Text: "Which side of a vessel is port?",
					Options: []domain.Option{
						{Text: "Left"},
						{Text: "Right"},
						{Text: "Stern"},
					},
					CorrectOption: 0,
					TimeLimitMs:   15000,
				},
				{
					Text: "What does a red buoy mark when returning?",
					Options: []domain.Option{
						{Text: "Starboard side of the channel"},
						{Text: "Port side of the channel"},
					},
					CorrectOption: 0,
					TimeLimitMs:   20000,
				},
			},
		},
	}
}
