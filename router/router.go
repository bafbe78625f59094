package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-sync/controllers"
	"github.com/yeremiapane/table-sync/middlewares"
	"github.com/yeremiapane/table-sync/services"
	"github.com/yeremiapane/table-sync/utils"
)

type Options struct {
	Session       *services.SessionService
	Notifications *services.NotificationService
	// Midtrans nil bila gateway tidak dikonfigurasi
	Midtrans controllers.SignatureValidator
	Monitor  *services.PaymentMonitor

	AllowedOrigins   []string
	HTTPS            bool
	PaymentRateLimit float64
	PaymentRateBurst int
	MidtransClient   string
	MidtransLive     bool
}

func SetupRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Apply security middlewares
	r.Use(middlewares.SecurityHeaders(opts.HTTPS))
	r.Use(middlewares.CORSMiddlewares(opts.AllowedOrigins))
	r.Use(middlewares.LoggerMiddleware())

	// Inisialisasi controller
	socketCtrl := controllers.NewSocketController(opts.Session, opts.AllowedOrigins)
	tableCtrl := controllers.NewTableController(opts.Session)
	orderCtrl := controllers.NewOrderController(opts.Session)
	notificationCtrl := controllers.NewNotificationController(opts.Notifications)
	paymentCtrl := controllers.NewPaymentController(opts.Session, opts.Midtrans, opts.Monitor)
	paymentCtrl.ClientKey = opts.MidtransClient
	paymentCtrl.IsProduction = opts.MidtransLive

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// -- CUSTOMER (Tanpa Auth) --
	r.GET("/ws/tables/:table_id", socketCtrl.TableSocket)
	r.GET("/tables/:table_id/state", tableCtrl.GetTableState)
	r.GET("/orders/:order_id/payments", tableCtrl.GetObligations)
	r.GET("/orders/:order_id/receipt", tableCtrl.GetReceipt)
	r.GET("/payments/config", paymentCtrl.GetMidtransConfig)

	limiter := middlewares.NewRateLimiter(opts.PaymentRateLimit, opts.PaymentRateBurst)
	payments := r.Group("/")
	payments.Use(middlewares.PaymentSecurityHeaders(), middlewares.LogPaymentRequest())
	{
		payments.POST("/tables/:table_id/payments", limiter.RateLimit(), tableCtrl.RequestPayment)

		// Webhook gateway selalu dibalas 200
		payments.POST("/payments/webhook", paymentCtrl.PaymentWebhook)
		payments.POST("/payments/midtrans/notification", paymentCtrl.MidtransNotification)
	}

	// ----------------------------------------------------------------
	//                      STAFF ROUTES
	// ----------------------------------------------------------------
	r.GET("/ws/admin", middlewares.WebSocketAuthMiddleware(), socketCtrl.AdminSocket)

	auth := r.Group("/admin")
	auth.Use(middlewares.AuthMiddleware())

	// KDS item-level (Chef)
	auth.PATCH("/orders/:order_id/items/:item_id/state",
		middlewares.RequireRole(utils.RoleKitchen, utils.RoleStaff), orderCtrl.UpdateItemState)

	staff := auth.Group("/")
	staff.Use(middlewares.RequireRole(utils.RoleStaff))
	{
		staff.GET("/tables", tableCtrl.GetAdminTableStates)
		staff.POST("/tables/:table_id/items", orderCtrl.AddStaffItem)
		staff.POST("/orders/:order_id/close", orderCtrl.CloseOrder)
		staff.POST("/orders/:order_id/payments/cash", paymentCtrl.ConfirmCashPayment)
		staff.GET("/payments/metrics", paymentCtrl.GetPaymentMetrics)

		staff.GET("/notifications", notificationCtrl.GetNotifications)
		staff.PATCH("/notifications/:notif_id/read", notificationCtrl.MarkAsRead)
	}

	return r
}
