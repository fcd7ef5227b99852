package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/services"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

type MessageHandler struct {
	exchangeService services.ExchangeService
	mode            string
}

// NewMessageHandler answers POSTs synchronously unless mode is async, in which
// case the reply is left to the worker.
func NewMessageHandler(exchangeService services.ExchangeService, mode string) *MessageHandler {
	return &MessageHandler{exchangeService: exchangeService, mode: mode}
}

func (mh *MessageHandler) PostMessage(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if mh.mode == config.ExchangeModeAsync {
		userMsg, err := mh.exchangeService.Submit(c.Request.Context(), roomID, req.Content)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"user_message": userMsg.View(), "status": "pending"})
		return
	}

	result, err := mh.exchangeService.Exchange(c.Request.Context(), roomID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result.View())
}

func (mh *MessageHandler) ListMessages(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", services.DefaultHistoryLimit)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	msgs, err := mh.exchangeService.History(c.Request.Context(), roomID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": types.Views(msgs), "limit": limit, "offset": offset})
}

func (mh *MessageHandler) GetMessage(c *gin.Context) {
	msg, err := mh.exchangeService.GetMessage(c.Request.Context(), c.Param("correlation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg.View())
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return v, true
}
