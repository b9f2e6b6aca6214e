package router

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"assignly/internal/apperr"
	"assignly/internal/model"
	"assignly/internal/order"
	"assignly/internal/storage"
)

const uploadURLExpiry = 15 * time.Minute

// createOrder charges the caller's balance and stores the order.
func createOrder(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID         string          `json:"orderId" binding:"required"`
			AssignmentTitle string          `json:"assignmentTitle" binding:"required"`
			OrderType       string          `json:"orderType" binding:"required"`
			PageCount       int             `json:"pageCount"`
			UploadedFiles   []model.FileRef `json:"uploadedFiles"`
			Folder          string          `json:"cloudinaryFolder"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}

		res, err := orders.Submit(c.Request.Context(), order.SubmitInput{
			UserID:          identity(c),
			OrderID:         req.OrderID,
			AssignmentTitle: req.AssignmentTitle,
			OrderType:       model.OrderType(req.OrderType),
			PageCount:       req.PageCount,
			UploadedFiles:   req.UploadedFiles,
			Folder:          req.Folder,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"orderId": res.Order.ID, "creditsRemaining": res.CreditsRemaining})
	}
}

// deleteOrder removes an order, restores its credits and schedules file cleanup.
func deleteOrder(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID       string          `json:"orderId" binding:"required"`
			StudentID     string          `json:"studentId" binding:"required"`
			PageCount     int             `json:"pageCount"`
			OriginalFiles []model.FileRef `json:"originalFiles"`
			Folder        string          `json:"cloudinaryFolder"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}

		res, err := orders.Delete(c.Request.Context(), order.DeleteInput{
			ActorID:       identity(c),
			OrderID:       req.OrderID,
			StudentID:     req.StudentID,
			PageCount:     req.PageCount,
			OriginalFiles: req.OriginalFiles,
			Folder:        req.Folder,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		body := gin.H{"creditsRestored": res.CreditsRestored, "newUserStats": res.User}
		if res.CleanupJobID != "" {
			body["cleanupJobId"] = res.CleanupJobID
		}
		ok(c, body)
	}
}

func updateOrderStatus(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID   string `json:"orderId" binding:"required"`
			StudentID string `json:"studentId" binding:"required"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		o, err := orders.UpdateStatus(c.Request.Context(), identity(c), req.StudentID, req.OrderID, model.OrderStatus(req.Status))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"orderId": o.ID, "status": o.Status})
	}
}

func listMyOrders(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := orders.ListOrders(c.Request.Context(), identity(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"orders": list})
	}
}

func adminOrders(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				fail(c, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		list, err := orders.ListByStatus(c.Request.Context(), model.OrderStatus(c.Query("status")), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"orders": list})
	}
}

// promoteOrders runs the scheduled promoter on demand.
func promoteOrders(orders *order.Service, after time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := orders.PromoteStale(c.Request.Context(), after)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"updated": n})
	}
}

// uploadURL presigns a PUT for one file under the caller's order folder.
func uploadURL(store storage.ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID  string `json:"orderId" binding:"required"`
			FileName string `json:"fileName" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		name := path.Base(strings.ReplaceAll(strings.TrimSpace(req.FileName), "\\", "/"))
		orderID := strings.TrimSpace(req.OrderID)
		if name == "" || name == "." || name == "/" || name == ".." {
			writeError(c, apperr.Validation("fileName is invalid"))
			return
		}
		if orderID == "" || strings.ContainsAny(orderID, "/ ") {
			writeError(c, apperr.Validation("orderId is invalid"))
			return
		}

		folder := storage.OrderFolder(identity(c), orderID)
		key := folder + "/" + name
		url, err := store.PresignPut(c.Request.Context(), key, uploadURLExpiry)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"url": url, "key": key, "cloudinaryFolder": folder, "expiresIn": int(uploadURLExpiry.Seconds())})
	}
}
