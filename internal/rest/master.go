package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MasterController struct {
	scoring *services.ScoringService
	logger  *zap.Logger
}

func NewMasterController(scoring *services.ScoringService, logger *zap.Logger) *MasterController {
	return &MasterController{scoring: scoring, logger: logger}
}

func (c *MasterController) RegisterMasterRoutes(rg *gin.RouterGroup) {
	rg.POST("/masters/:id/score", c.handleRefreshScore)
}

func (c *MasterController) handleRefreshScore(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	score, err := c.scoring.RefreshMasterScore(reqCtx, ctx.Param("id"))
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, score)
}
