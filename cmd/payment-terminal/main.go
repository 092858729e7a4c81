package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"voucherpoint/biometric"
	"voucherpoint/config"
	"voucherpoint/handlers"
	"voucherpoint/logging"
	"voucherpoint/messaging"
	"voucherpoint/monitoring"
	"voucherpoint/terminal"
	"voucherpoint/wallet"
)

const serviceName = "payment-terminal"

func main() {
	// Initialize structured logging
	if err := logging.InitLogger(serviceName); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()
	defer func() {
		if err := logging.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()

	// Load configuration
	cfg := config.Load(serviceName)

	// Initialize OpenTelemetry
	tp, _, err := monitoring.InitTracer(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	mp, _, err := monitoring.InitMeter(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize meter", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Dial the store terminal that opened this one. The counterpart URL is
	// the launch context; if the store terminal is gone there is nothing to
	// coordinate with.
	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	channel, err := messaging.Dial(dialCtx, cfg.CounterpartURL, logging.GetLogger())
	cancel()
	if err != nil {
		logging.Fatal("Failed to reach store terminal", zap.Error(err), zap.String("url", cfg.CounterpartURL))
	}

	// Payment terminal state machine with its collaborators
	t := terminal.New(
		channel,
		biometric.NewHTTPFrameSource(cfg.CameraURL),
		biometric.NewClient(cfg.BiometricURL, logging.GetLogger()),
		wallet.NewClient(cfg.WalletURL),
		cfg.Currency,
		cfg.ResetDelay,
		logging.GetLogger(),
	)
	defer t.Close()

	// Initialize handlers
	terminalHandler := handlers.NewTerminalHandler(t)

	// Setup Gin router
	r := gin.Default()

	// OpenTelemetry middleware
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(handlers.MetricsMiddleware())

	// Routes
	r.GET("/health", terminalHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(monitoring.MetricsHandler()))
	r.GET("/api/state", terminalHandler.State)
	r.POST("/api/verification/start", terminalHandler.StartVerification)
	r.POST("/api/verification/retry", terminalHandler.RetryVerification)
	r.POST("/api/confirm", terminalHandler.Confirm)

	// Start server
	logging.Info("Payment terminal starting", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logging.Fatal("Failed to start server", zap.Error(err))
	}
}
