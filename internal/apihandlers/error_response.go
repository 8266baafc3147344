package apihandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSON error helpers shared by all handlers.

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}

func PaymentRequired(c *gin.Context, msg string) {
	c.JSON(http.StatusPaymentRequired, gin.H{"error": msg})
}

func Conflict(c *gin.Context, msg string) {
	c.JSON(http.StatusConflict, gin.H{"error": msg})
}

func Internal(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
