package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/services"
)

// respondError maps err onto a status code and a client-safe message. A
// partial exchange also returns the stored user message.
func respondError(c *gin.Context, err error) {
	status := errordata.HTTPStatus(err)
	var partial *services.PartialExchangeError
	if errors.As(err, &partial) {
		c.JSON(status, gin.H{
			"error":        errordata.PublicMessage(err),
			"user_message": partial.UserMessage.View(),
		})
		return
	}
	c.JSON(status, gin.H{"error": errordata.PublicMessage(err)})
}
