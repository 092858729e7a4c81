package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"voucherpoint/config"
	"voucherpoint/fulfillment"
	"voucherpoint/handlers"
	"voucherpoint/ledger"
	"voucherpoint/logging"
	"voucherpoint/messaging"
	"voucherpoint/monitoring"
	"voucherpoint/redemption"
	"voucherpoint/store"
)

const serviceName = "store-terminal"

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

	// Terminal channel, hosted here and dialed by the payment terminal
	channel := messaging.NewHost(logging.GetLogger())

	// Store terminal state machine
	terminal := store.New(channel, redemption.NewClient(cfg.RedemptionURL), cfg.Currency, logging.GetLogger())
	defer terminal.Close()

	// Initialize handlers
	storeHandler := handlers.NewStoreHandler(terminal, buildFulfillment(cfg))

	// Setup Gin router
	r := gin.Default()

	// OpenTelemetry middleware
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(handlers.MetricsMiddleware())

	// Routes
	r.GET("/health", storeHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(monitoring.MetricsHandler()))
	r.GET("/channel", channel.Handler())
	r.POST("/api/checkout", storeHandler.Checkout)
	r.GET("/api/transactions", storeHandler.ListTransactions)
	r.GET("/api/transactions/:id", storeHandler.GetTransaction)
	r.POST("/api/fulfillments", storeHandler.Fulfill)

	// Start server
	logging.Info("Store terminal starting", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logging.Fatal("Failed to start server", zap.Error(err))
	}
}

// buildFulfillment wires the card-charge fulfillment path. Its settlement
// client needs a funded wallet; without one the route reports the
// configuration error per request instead of settling.
func buildFulfillment(cfg *config.Config) *fulfillment.Service {
	client, err := ledger.NewClient(cfg.LedgerWSURL, cfg.LedgerRPCURL, cfg.FundingSeed, cfg.USDRate, logging.GetLogger())
	if err != nil {
		logging.Warn("Fulfillment disabled: no usable funding wallet", zap.Error(err))
		return fulfillment.NewService(fulfillment.Unconfigured{}, logging.GetLogger())
	}
	return fulfillment.NewService(client, logging.GetLogger())
}
