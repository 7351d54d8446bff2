package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"energyquiz/config"
	"energyquiz/handlers"
	"energyquiz/middleware"
	"energyquiz/question"
	"energyquiz/routes"
	"energyquiz/services"
	"energyquiz/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("catalog", "", "Serve questions from a YAML catalog instead of the database")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fanout := services.NewFanout(cfg.NotifyTimeout)
	var opts []services.GameServiceOption
	var activityHandler *handlers.ActivityHandler
	var source question.Source

	if catalog, _ := cmd.Flags().GetString("catalog"); catalog != "" {
		activities, err := question.LoadCatalogFile(catalog)
		if err != nil {
			return err
		}
		log.Info().Str("file", catalog).Int("activities", len(activities)).Msg("serving in-memory catalog")
		source = question.NewCatalogSource(activities)
	}

	if cfg.DBEnabled {
		db, err := config.InitDB(cfg)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		activityService := services.NewActivityService(db)
		activityHandler = handlers.NewActivityHandler(activityService)
		if source == nil {
			source = activityService
		}

		players := services.NewPlayerService(db)
		opts = append(opts, services.WithScoreStore(players))
		fanout.Subscribe(services.NewResultRecorder(players))
	}
	if source == nil {
		return errors.New("no activity source: pass --catalog or enable the database")
	}

	if cfg.RedisEnabled {
		client := config.InitRedis(cfg)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, snapshot mirror will retry per write")
		}
		store := services.NewRedisSnapshotStore(client, cfg.SnapshotTTL)
		fanout.Subscribe(store)
		opts = append(opts, services.WithSnapshotReader(store))
	}

	if cfg.NATSURL != "" {
		nc, err := services.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		fanout.Subscribe(services.NewNATSPublisher(nc, cfg.NATSSubject))
	}

	seed := cfg.QuestionSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	generator := question.NewGenerator(source, seed, question.DefaultConfig())
	orchestrator := session.NewOrchestrator(
		session.NewRegistry(cfg.Rules()),
		generator,
		session.WithNotifier(fanout),
		session.WithBaseContext(ctx),
	)

	seats := services.NewSeatIssuer(cfg.JWTSecret, cfg.SeatTTL)
	opts = append(opts, services.WithSeatIssuer(seats), services.WithPollTimeout(cfg.PollTimeout))
	gameService := services.NewGameService(orchestrator, opts...)

	hub := services.NewHub(gameService)
	fanout.Subscribe(hub)

	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, handlers.NewGameHandler(gameService, hub, cfg.LeaderboardLimit), activityHandler, gameService)

	srv := &http.Server{Addr: cfg.Addr(), Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Uint64("seed", seed).Msg("server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
