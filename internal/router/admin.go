package router

import (
	"github.com/gin-gonic/gin"

	"assignly/internal/account"
	"assignly/internal/audit"
	"assignly/internal/cleanup"
)

// runCleanup processes one batch of pending cleanup jobs.
func runCleanup(proc *cleanup.Processor, recorder *audit.Recorder, batch int) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := proc.ProcessPending(c.Request.Context(), batch)
		if err != nil {
			writeError(c, err)
			return
		}
		completed := 0
		for _, r := range results {
			if r.Completed {
				completed++
			}
		}
		recorder.Record(c.Request.Context(), audit.Entry{
			Action:  audit.ActionCleanupTriggered,
			ActorID: identity(c),
			Details: map[string]any{"processed": len(results), "completed": completed},
		})
		ok(c, gin.H{"processed": len(results), "results": results})
	}
}

func cleanupStats(proc *cleanup.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := proc.Stats(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{
			"pending":   st.Pending,
			"completed": st.Completed,
			"abandoned": st.Abandoned,
			"total":     st.Total,
		})
	}
}

func adjustCredits(accounts *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			StudentID string `json:"studentId" binding:"required"`
			Delta     int    `json:"delta" binding:"required"`
			Reason    string `json:"reason" binding:"max=255"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		balance, err := accounts.AdjustCredits(c.Request.Context(), identity(c), req.StudentID, req.Delta, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"studentId": req.StudentID, "creditsRemaining": balance})
	}
}
