package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/cozykost/internal/config"
	"github.com/totegamma/cozykost/internal/infra/providers"
	"github.com/totegamma/cozykost/internal/infra/repository"
	"github.com/totegamma/cozykost/internal/infra/tracing"
	"github.com/totegamma/cozykost/internal/logging"
	"github.com/totegamma/cozykost/internal/present/rest"
	"github.com/totegamma/cozykost/internal/present/rest/middleware"
	"github.com/totegamma/cozykost/internal/service"
	"github.com/totegamma/cozykost/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cozykost server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := logging.Setup(os.Stderr, conf.Server.LogLevel, conf.Server.LogFormat)

		db, err := providers.NewDatabase(conf.Server)
		if err != nil {
			return err
		}
		if err := providers.MigrateDatabase(db); err != nil {
			return err
		}
		logger.Info("migration complete", slog.String("module", "main"))
		return nil
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(os.Stdout, conf.Server.LogLevel, conf.Server.LogFormat)

	logger.Info("starting cozykost",
		slog.String("version", version),
		slog.String("fqdn", conf.NodeInfo.FQDN),
		slog.String("signer", conf.NodeInfo.SignerID),
		slog.String("module", "main"),
	)

	if conf.Server.EnableTrace {
		shutdown, err := tracing.Setup(ctx, "cozykost", version, conf.Server.TraceEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to flush traces", slog.String("error", err.Error()), slog.String("module", "main"))
			}
		}()
	}

	db, err := providers.NewDatabase(conf.Server)
	if err != nil {
		return err
	}
	if err := providers.MigrateDatabase(db); err != nil {
		return err
	}

	rdb, err := providers.NewRedis(ctx, conf.Server)
	if err != nil {
		return err
	}
	defer rdb.Close()

	verifier, err := providers.NewIDTokenVerifier(ctx, conf)
	if err != nil {
		return err
	}

	domainConf := conf.Domain()

	documentRepo := providers.NewDocumentRepository(db, conf.Server)
	userRepo := repository.NewUserRepository(db)
	kostRepo := repository.NewKostRepository(db)

	signalService := service.NewSignalService(rdb)
	authService := service.NewAuthService(domainConf, verifier, userRepo)

	documentUsecase := usecase.NewDocumentUsecase(documentRepo, signalService)
	authUsecase := usecase.NewAuthUsecase(userRepo, domainConf)
	profileUsecase := usecase.NewProfileUsecase(userRepo)
	kostUsecase := usecase.NewKostUsecase(kostRepo, documentUsecase)

	handler := rest.NewHandler(domainConf, documentUsecase, authUsecase, profileUsecase, kostUsecase, signalService)
	authMiddleware := middleware.NewAuthMiddleware(authService)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("cozykost"))
	}
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= 500 {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("requestId", v.RequestID),
				slog.String("module", "http"),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(authMiddleware.IdentifyIdentity)

	handler.RegisterRoutes(e)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()), slog.String("module", "main"))
		}
	}()

	logger.Info("listening", slog.String("addr", conf.Server.ListenAddr), slog.String("module", "main"))
	if err := e.Start(conf.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
