package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/authd/internal/models"
)

func requestMeta(c *gin.Context) models.SessionMeta {
	return models.SessionMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
