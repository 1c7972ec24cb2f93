package main // Entry point package

import (
	"context"   // shutdown deadline
	"log"       // Logging library
	"net/http"  // ErrServerClosed on graceful shutdown
	"os"        // environment access and shutdown signals
	"os/signal" // SIGINT/SIGTERM notification
	"syscall"   // SIGTERM constant
	"time"      // shutdown timeout

	"github.com/joho/godotenv"    // .env loader for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/moxun/seatpool/internal/config"     // environment config loader
	"github.com/moxun/seatpool/internal/database"   // MySQL connection
	"github.com/moxun/seatpool/internal/engine"     // allocation and reconciliation engine
	"github.com/moxun/seatpool/internal/handler"    // HTTP handlers
	"github.com/moxun/seatpool/internal/lock"       // keyed lock manager
	"github.com/moxun/seatpool/internal/middleware" // rate limiting
	"github.com/moxun/seatpool/internal/model"      // order kind constants
	"github.com/moxun/seatpool/internal/queue"      // fulfillment event consumer
	"github.com/moxun/seatpool/internal/repository" // DB repositories
	"github.com/moxun/seatpool/internal/router"     // route registration
	"github.com/moxun/seatpool/internal/service"    // outbound collaborators
	"github.com/moxun/seatpool/internal/utils"      // order number generation
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories over the shared *sql.DB.
	codes := repository.NewCodeRepo(db)
	accounts := repository.NewAccountRepo(db)
	orders := repository.NewOrderRepo(db)
	admins := repository.NewAdminRepo(db)

	// One lock manager serializes every hot path: pool draws, per-order
	// transitions and the daily-cap check all key into it.
	locks := lock.NewManager()

	engineCfg := engine.Config{
		EnableActiveQuery:     cfg.EnableActiveQuery,
		EnableServerRefund:    cfg.EnableServerRefund,
		QueryMinInterval:      cfg.QueryMinInterval,
		CommonPool:            cfg.CommonPool,
		FallbackWindowEndHour: cfg.FallbackWindowEndHour,
		DailyOrderCap:         cfg.DailyOrderCap,
	}

	creditGW := engine.NewGateway(engine.GatewayConfig{
		Name:       model.OrderKindCredit,
		BaseURL:    cfg.CreditGateway.BaseURL,
		MerchantID: cfg.CreditGateway.MerchantID,
		Secret:     cfg.CreditGateway.Secret,
		NotifyURL:  cfg.CreditGateway.NotifyURL,
		ReturnURL:  cfg.CreditGateway.ReturnURL,
	})
	purchaseGW := engine.NewGateway(engine.GatewayConfig{
		Name:       model.OrderKindPurchase,
		BaseURL:    cfg.PurchaseGateway.BaseURL,
		MerchantID: cfg.PurchaseGateway.MerchantID,
		Secret:     cfg.PurchaseGateway.Secret,
		NotifyURL:  cfg.PurchaseGateway.NotifyURL,
		ReturnURL:  cfg.PurchaseGateway.ReturnURL,
	})
	gateways := map[string]*engine.Gateway{
		model.OrderKindCredit:   creditGW,
		model.OrderKindPurchase: purchaseGW,
	}

	// The membership inviter is optional; without it fulfillment still
	// consumes codes and reports invite_sent=false.
	var inviter engine.Inviter
	if inv := service.NewMembershipInviter(
		os.Getenv("MEMBERSHIP_API_URL"), os.Getenv("MEMBERSHIP_API_TOKEN")); inv != nil {
		inviter = inv
	}

	alloc := engine.NewAllocator(codes, accounts, orders, locks, inviter, engineCfg)
	flow := engine.NewOrderFlow(orders, alloc, locks, gateways, service.NewPublisher(), engineCfg, utils.NewOrderNo)
	rec := engine.NewReconciler(flow, orders, gateways)

	// Background consumer writes the fulfillment audit log; it reconnects
	// on its own and never takes the server down.
	go func() {
		if err := queue.StartFulfillmentConsumer(); err != nil {
			log.Printf("fulfillment consumer stopped: %v", err)
		}
	}()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting disabled")
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewRedeemHandler(alloc), handler.NewOrderHandler(flow), limiter)
	router.RegisterWebhooks(e, handler.NewWebhookHandler(rec))
	router.RegisterAdmin(e, handler.NewAuthHandler(cfg, admins), handler.NewAdminHandler(flow, orders, codes), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Stop accepting requests on SIGINT/SIGTERM, then let in-flight webhook
	// settlements finish before exiting.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	rec.Wait()
}
