// Package router registers the HTTP surface.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"assignly/internal/account"
	"assignly/internal/audit"
	"assignly/internal/cleanup"
	"assignly/internal/config"
	"assignly/internal/middleware"
	"assignly/internal/order"
	"assignly/internal/referral"
	"assignly/internal/storage"
)

// Deps carries the services the handlers call.
type Deps struct {
	Auth      middleware.Authenticator
	Audit     *audit.Recorder
	Accounts  *account.Service
	Orders    *order.Service
	Cleanup   *cleanup.Processor
	Referrals *referral.Service
	Store     storage.ObjectStore
	Redis     *rd.Client // nil disables rate limiting
	Config    config.AppConfig
}

// Setup registers every route on r.
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")

	// Session
	api.POST("/set-auth-cookie", setAuthCookie(d.Auth, d.Accounts, d.Config))
	api.POST("/clear-auth-cookie", clearAuthCookie(d.Config))

	// Student
	user := api.Group("", middleware.RequireUser(d.Auth))
	createChain := []gin.HandlerFunc{}
	if d.Redis != nil {
		createChain = append(createChain, middleware.RedisRateLimit(d.Redis, "create-order", d.Config.OrderRateLimit, d.Config.OrderRateWindow))
	}
	createChain = append(createChain, createOrder(d.Orders))
	user.POST("/create-order", createChain...)
	user.GET("/orders", listMyOrders(d.Orders))
	user.GET("/me", me(d.Accounts))
	user.PUT("/me/profile", updateProfile(d.Accounts))
	user.POST("/upload-url", uploadURL(d.Store))

	// Public
	api.POST("/referrals/click", trackClick(d.Referrals))

	// Admin
	admin := api.Group("", middleware.RequireAdmin(d.Auth))
	admin.POST("/delete-order", deleteOrder(d.Orders))
	admin.POST("/update-order-status", updateOrderStatus(d.Orders))
	admin.POST("/cleanup-cloudinary", runCleanup(d.Cleanup, d.Audit, d.Config.CleanupBatchSize))
	admin.GET("/cleanup-cloudinary", cleanupStats(d.Cleanup))
	admin.POST("/referrals/create", createReferral(d.Referrals))
	admin.POST("/referrals/update", updateReferral(d.Referrals))
	admin.GET("/referrals", listReferrals(d.Referrals))
	admin.GET("/admin/orders", adminOrders(d.Orders))
	admin.POST("/admin/adjust-credits", adjustCredits(d.Accounts))
	admin.POST("/admin/promote-orders", promoteOrders(d.Orders, d.Config.PromoteAfter))
}

// identity is only called behind RequireUser/RequireAdmin.
func identity(c *gin.Context) string {
	id, _ := middleware.IdentityFrom(c)
	return id.UserID
}
