package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yoockh/intervue/config"
	"github.com/yoockh/intervue/internal/api/handlers"
	"github.com/yoockh/intervue/internal/api/middleware"
	"github.com/yoockh/intervue/internal/api/routes"
	"github.com/yoockh/intervue/internal/cache"
	"github.com/yoockh/intervue/internal/interview/gateway"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/metrics"
	"github.com/yoockh/intervue/internal/providers/llm"
	"github.com/yoockh/intervue/internal/providers/realtime"
	mongorepo "github.com/yoockh/intervue/internal/repositories/mongo"
	pgrepo "github.com/yoockh/intervue/internal/repositories/postgres"
	"github.com/yoockh/intervue/internal/services"
	"github.com/yoockh/intervue/internal/workers"
	"go.opentelemetry.io/otel"
)

func main() {
	config.LoadEnv()
	log := logger.New()

	if err := run(log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(log *logrus.Logger) error {
	cfg, err := config.InitApp()
	if err != nil {
		return err
	}
	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	metricsHandler, shutdownMetrics, err := metrics.InitProvider()
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	met, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		return err
	}

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		return err
	}
	defer func() { _ = config.CloseMongo(context.Background()) }()
	if err := config.EnsureMongoIndexes(cfg.MongoDB); err != nil {
		log.WithError(err).Warn("mongo index setup failed")
	}
	log.Info("MongoDB connected")

	// Init PostgreSQL (optional)
	var evaluations pgrepo.EvaluationRepo
	if cfg.PostgresEnabled {
		if err := config.InitPostgres(); err != nil {
			return err
		}
		defer func() { _ = config.ClosePostgres() }()
		if err := pgrepo.AutoMigrate(config.PostgresDB); err != nil {
			return err
		}
		evaluations = pgrepo.NewEvaluationRepo(config.PostgresDB)
		log.Info("PostgreSQL connected")
	} else {
		log.Warn("POSTGRES_URI not set; evaluations are not persisted")
	}

	// Init Redis (optional)
	redisReady := false
	if err := config.InitRedis(); err != nil {
		if !errors.Is(err, config.ErrRedisNotConfigured) {
			return err
		}
		log.Warn("Redis not configured; evaluations run inline and code results are not cached")
	} else {
		redisReady = true
		defer func() { _ = config.CloseRedis() }()
		log.Info("Redis connected")
	}

	// Text model (optional)
	var model llm.Provider
	if cfg.VertexProjectID != "" {
		vg, err := llm.NewVertexGemini(ctx, cfg.VertexProjectID, cfg.VertexLocation, cfg.VertexModel)
		if err != nil {
			return err
		}
		defer vg.Close()
		model = vg
	} else {
		log.Warn("VERTEX_PROJECT_ID not set; code analysis and evaluation are unavailable")
	}

	db := config.MongoClient.Database(cfg.MongoDB)
	sessions := services.NewSessionService(mongorepo.NewSessionRepo(db), mongorepo.NewTranscriptRepo(db))
	evaluator := services.NewEvaluationService(sessions, model, evaluations, log)

	var codeCache cache.Cache
	if redisReady {
		codeCache = cache.NewRedisCache(config.RedisClient)
	}
	code := services.NewCodeService(sessions, model, codeCache, tuning.CodeCacheTTL, log)

	speech := realtime.NewGemini(cfg.GeminiAPIKey, geminiOptions(cfg)...)
	gw := gateway.New(speech, sessions, gateway.Options{
		ConnectTimeout: tuning.ConnectTimeout,
		Voice:          cfg.GeminiLiveVoice,
		Logger:         log,
		Metrics:        met,
	})

	g, gctx := errgroup.WithContext(ctx)

	// Evaluation queue
	var queue workers.Queue
	if redisReady {
		queue = &workers.RedisQueue{Redis: config.RedisClient, Stream: tuning.Evaluation.Stream}
		pool := &workers.EvaluationWorkerPool{
			Redis:      config.RedisClient,
			Evaluator:  evaluator,
			NumWorkers: tuning.Evaluation.Workers,
			Logger:     log,
			Metrics:    met,
			Stream:     tuning.Evaluation.Stream,
			Group:      tuning.Evaluation.Group,
		}
		g.Go(func() error { return pool.Run(gctx) })
	} else {
		inline := workers.NewInlineQueue(evaluator, tuning.Evaluation.Workers, log, met)
		defer inline.Wait()
		queue = inline
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, "/ping", "/metrics"))
	routes.RegisterRoutes(r, routes.Deps{
		Session: handlers.NewSessionHandler(sessions, evaluations),
		WS: handlers.NewWSHandler(handlers.WSDeps{
			Sessions: sessions,
			Code:     code,
			Gateway:  gw,
			Queue:    queue,
			Tuning: handlers.WSTuning{
				ProcessingTimeout: tuning.ProcessingTimeout,
				AutoAdvanceDelay:  tuning.AutoAdvanceDelay,
				FirstTurnDelay:    tuning.FirstTurnDelay,
			},
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         log,
			Metrics:        met,
		}),
		Metrics: metricsHandler,
		JWT: middleware.JWTConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func geminiOptions(cfg *config.AppConfig) []realtime.GeminiOption {
	opts := []realtime.GeminiOption{
		realtime.WithModel(cfg.GeminiLiveModel),
		realtime.WithDefaultVoice(cfg.GeminiLiveVoice),
	}
	if cfg.GeminiLiveURL != "" {
		opts = append(opts, realtime.WithBaseURL(cfg.GeminiLiveURL))
	}
	return opts
}
