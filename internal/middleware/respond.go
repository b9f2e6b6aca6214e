package middleware

import "github.com/gin-gonic/gin"

// abortJSON stops the chain with the error envelope used across the API.
func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "code": status, "msg": msg})
}
