package router

import (
	"github.com/gin-gonic/gin"

	"assignly/internal/referral"
)

func createReferral(links *referral.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name    string `json:"name" binding:"required"`
			Credits int    `json:"credits"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		link, err := links.Create(c.Request.Context(), identity(c), req.Name, req.Credits)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"link": gin.H{
			"id":      link.ID,
			"code":    link.Code,
			"name":    link.Name,
			"credits": link.Credits,
		}})
	}
}

func updateReferral(links *referral.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			LinkID  string  `json:"linkId" binding:"required"`
			Active  *bool   `json:"active"`
			Name    *string `json:"name"`
			Credits *int    `json:"credits"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		err := links.Update(c.Request.Context(), identity(c), referral.UpdateInput{
			LinkID:  req.LinkID,
			Active:  req.Active,
			Name:    req.Name,
			Credits: req.Credits,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"linkId": req.LinkID})
	}
}

func listReferrals(links *referral.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := links.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"links": list})
	}
}

// trackClick is public; landing pages call it with the code from the URL.
func trackClick(links *referral.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		if err := links.TrackClick(c.Request.Context(), req.Code); err != nil {
			writeError(c, err)
			return
		}
		ok(c, nil)
	}
}
