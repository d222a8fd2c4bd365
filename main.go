package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/retina-grade/internal/auth"
	"github.com/example/retina-grade/internal/classifier"
	"github.com/example/retina-grade/internal/config"
	"github.com/example/retina-grade/internal/grpcclient"
	"github.com/example/retina-grade/internal/handlers"
	"github.com/example/retina-grade/internal/imageprocessor"
	"github.com/example/retina-grade/internal/logging"
	"github.com/example/retina-grade/internal/repository"
	"github.com/example/retina-grade/internal/usecase"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewUserRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	clf, closeClassifier := initClassifier(ctx, cfg, logger)
	defer closeClassifier()

	if cfg.ModelGRPCAddr != "" {
		stop := serveModelGRPC(cfg.ModelGRPCAddr, clf, logger)
		defer stop()
	}

	cache := usecase.NewRedisCache(redisClient)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAudience, cfg.SessionTTL)
	accounts := usecase.NewAccountUseCase(repo, cache, tokens, logger)
	predictions := usecase.NewPredictionUseCase(imageprocessor.New(cfg.ChannelOrder), clf, cache, logger)

	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: newRouter(cfg, predictions, accounts, logger),
	}

	logger.Info("retina grading API listening",
		zap.String("addr", server.Addr),
		zap.String("classifier", cfg.ClassifierBackend),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// accountService is what the routes and the access gate need from accounts.
type accountService interface {
	handlers.Accounts
	auth.SessionChecker
}

func newRouter(cfg *config.Config, predictions handlers.Predictor, accounts accountService, logger *zap.Logger) *gin.Engine {
	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience, accounts)
	handlers.RegisterRoutes(r, handlers.NewHandler(predictions, accounts, cfg.MaxUploadSize, logger), authMiddleware)
	return r
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// initClassifier loads the model exactly once. Any failure stops the process
// before it accepts traffic.
func initClassifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (usecase.Classifier, func()) {
	switch cfg.ClassifierBackend {
	case config.BackendRemote:
		remote, conn, err := grpcclient.DialModelServer(ctx, cfg.ModelServerAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to model server", zap.Error(err))
		}
		return remote, func() { conn.Close() }
	default:
		onnx, err := classifier.NewONNX(classifier.ONNXConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.ONNXRuntimeLibrary,
			InputName:   cfg.ModelInputName,
			OutputName:  cfg.ModelOutputName,
			PoolSize:    cfg.ClassifierPoolSize,
		}, logger)
		if err != nil {
			logger.Fatal("failed to load model", zap.Error(err), zap.String("path", cfg.ModelPath))
		}
		return onnx, onnx.Close
	}
}

// serveModelGRPC shares the local model with other replicas.
func serveModelGRPC(addr string, clf usecase.Classifier, logger *zap.Logger) func() {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen for model server", zap.Error(err), zap.String("addr", addr))
	}
	server := grpc.NewServer()
	grpcclient.RegisterModelServer(server, grpcclient.NewModelServer(clf, logger))
	go func() {
		if err := server.Serve(lis); err != nil {
			logger.Error("model server stopped", zap.Error(err))
		}
	}()
	logger.Info("model server listening", zap.String("addr", addr))
	return server.GracefulStop
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
