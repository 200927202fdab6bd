package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/controller"
	"github.com/vibast-solutions/ms-go-accounts/app/database"
	accountsgrpc "github.com/vibast-solutions/ms-go-accounts/app/grpc"
	"github.com/vibast-solutions/ms-go-accounts/app/mailer"
	"github.com/vibast-solutions/ms-go-accounts/app/middleware"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/app/telemetry"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  `Start both the HTTP (Echo) API and the internal gRPC server for the account service.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply schema migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up telemetry")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logrus.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	pool, err := database.Open(ctx, cfg.MySQL)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer pool.Close()

	if migrateOnStart {
		if err := database.Migrate(ctx, pool.DB()); err != nil {
			logrus.WithError(err).Fatal("Failed to apply migrations")
		}
	}

	resetMailer, err := mailer.New(cfg.Mail)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure mailer")
	}

	creds := service.NewCredentials(cfg.JWT.Secret, cfg.JWT.SessionTTL, cfg.BcryptCost)
	accounts := service.NewAccountService(pool, creds, resetMailer, cfg.PasswordPolicy,
		service.WithMailTimeout(cfg.Mail.Timeout))

	e := newHTTPServer(cfg, accounts, creds)
	grpcServer := accountsgrpc.NewServer(accounts, service.NewAPIKeyVerifier(cfg.InternalAPIKey),
		grpc.ChainUnaryInterceptor(grpcLoggingInterceptor))

	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logrus.WithField("addr", grpcAddr).Info("Starting gRPC server")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Server stopped with error")
		return err
	}
	logrus.Info("Servers stopped")
	return nil
}

func newHTTPServer(cfg *config.Config, accounts service.AccountService, creds *service.Credentials) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"request_id": v.RequestID,
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.AllowedOrigins,
		AllowCredentials: true,
	}))

	cookie := controller.NewSessionCookie(cfg.Session.CookieName, creds.SessionTTL(), cfg.Session.CookieSecure)
	accountController := controller.NewAccountController(accounts, cookie)
	internalController := controller.NewInternalController(accounts)
	authMiddleware := middleware.NewAuthMiddleware(creds, cfg.Session.CookieName)
	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(service.NewAPIKeyVerifier(cfg.InternalAPIKey))

	e.GET("/healthz", controller.Health)

	auth := e.Group("/auth")
	if cfg.HTTP.RateLimit > 0 {
		auth.Use(echomiddleware.RateLimiter(echomiddleware.NewRateLimiterMemoryStore(rate.Limit(cfg.HTTP.RateLimit))))
	}
	auth.GET("/", accountController.List, authMiddleware.RequireAuth)
	auth.POST("/", accountController.Register)
	auth.POST("/login", accountController.Login)
	auth.GET("/logout", accountController.Logout)
	auth.POST("/current_user", accountController.CurrentUser)
	auth.PUT("/:user_id", accountController.Update, authMiddleware.RequireAuth)
	auth.DELETE("/:user_id", accountController.Delete, authMiddleware.RequireAuth)
	auth.POST("/forgot_password", accountController.ForgotPassword)
	auth.POST("/reset_password", accountController.ResetPassword)

	internal := e.Group("/internal", apiKeyMiddleware.RequireAPIKey)
	internal.GET("/users/stats", internalController.Stats)

	return e
}

func grpcLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	res, err := handler(ctx, req)

	entry := logrus.WithFields(logrus.Fields{
		"method":     info.FullMethod,
		"latency":    time.Since(start).String(),
		"latency_ns": time.Since(start).Nanoseconds(),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("grpc_request")
	return res, err
}
