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
	"github.com/spf13/pflag"
	"github.com/yeremiapane/table-sync/config"
	"github.com/yeremiapane/table-sync/hub"
	"github.com/yeremiapane/table-sync/repository"
	"github.com/yeremiapane/table-sync/router"
	"github.com/yeremiapane/table-sync/services"
	"github.com/yeremiapane/table-sync/utils"
)

func main() {
	var configPath, port string
	var migrateOnly bool

	flagSet := pflag.NewFlagSet("table-sync", pflag.ExitOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $TABLESYNC_CONFIG)")
	flagSet.StringVar(&port, "port", "", "listen port, overrides config")
	flagSet.BoolVar(&migrateOnly, "migrate-only", false, "run AutoMigrate and exit")
	flagSet.Parse(os.Args[1:])

	cfg, err := config.Load(configPath)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to load config: %v", err)
	}
	if port != "" {
		cfg.Port = port
	}
	utils.InitLogger(cfg.Log.Level, cfg.Log.Format)
	utils.SetJWTSecret(cfg.Auth.JWTSecret)

	// Initialize DB
	db, err := config.InitDB(cfg)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	repo := repository.New(db)
	if err := repo.Migrate(); err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
	if migrateOnly {
		return
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	codec, err := services.NewCorrelationCodec(cfg.Payments.CorrelationSecret)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to init correlation codec: %v", err)
	}

	h := hub.New()
	confirmations := services.NewConfirmationCoordinator(h, cfg.Session.ConfirmationTimeout)
	payments := services.NewPaymentService(repo, codec)
	notifications := services.NewNotificationService(repo, h)

	opts := router.Options{
		Notifications:    notifications,
		AllowedOrigins:   cfg.Session.AllowedOrigins,
		HTTPS:            cfg.GinMode == "release",
		PaymentRateLimit: cfg.Payments.RateLimit,
		PaymentRateBurst: cfg.Payments.RateBurst,
		MidtransClient:   cfg.Midtrans.ClientKey,
		MidtransLive:     cfg.Midtrans.Environment == "production",
	}

	// Gateway opsional; tanpa kunci Midtrans hanya pembayaran tunai yang tersedia
	var gateway services.PaymentGateway
	if cfg.GatewayEnabled() {
		midtrans := services.NewMidtransService(&services.MidtransConfig{
			ServerKey:     cfg.Midtrans.ServerKey,
			ClientKey:     cfg.Midtrans.ClientKey,
			IsProduction:  opts.MidtransLive,
			ExpiryMinutes: cfg.Midtrans.ExpiryMinutes,
		})
		if err := midtrans.ValidateConfig(); err != nil {
			utils.ErrorLogger.Fatalf("Invalid Midtrans config: %v", err)
		}
		gateway = midtrans
		opts.Midtrans = midtrans
	} else {
		utils.InfoLogger.Warn("Midtrans keys not set, gateway payments disabled")
	}

	session := services.NewSessionService(repo, h, confirmations, payments, notifications, gateway)
	opts.Session = session

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if gateway != nil {
		opts.Monitor = services.NewPaymentMonitor(repo, gateway, session, cfg.Payments.PollInterval, cfg.Payments.StaleAfter)
		opts.Monitor.Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.SetupRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.Errorf("Server shutdown: %v", err)
	}
}
