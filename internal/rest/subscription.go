package rest

import (
	"net/http"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SubscriptionController struct {
	subs   *services.SubscriptionService
	logger *zap.Logger
}

func NewSubscriptionController(subs *services.SubscriptionService, logger *zap.Logger) *SubscriptionController {
	return &SubscriptionController{subs: subs, logger: logger}
}

func (c *SubscriptionController) RegisterSubscriptionRoutes(rg *gin.RouterGroup) {
	rg.POST("/subscriptions", c.handleSubscribe)
	rg.DELETE("/subscriptions/:id", c.handleUnsubscribe)
	rg.GET("/followers/:id/subscriptions", c.handleListActive)
	rg.DELETE("/followers/:id/subscriptions", c.handleUnsubscribeAll)
	rg.GET("/followers/:id/entitlements", c.handleEntitlements)
	rg.DELETE("/masters/:id/followers", c.handleForceUnsubscribe)
}

type subscribeBody struct {
	FollowerID string                    `json:"follower_id"`
	MasterID   string                    `json:"master_id"`
	Amount     decimal.Decimal           `json:"amount"`
	Type       domain.SubscriptionType   `json:"type"`
	Risk       services.RiskParams       `json:"risk"`
	Options    services.SubscribeOptions `json:"options"`
}

func (c *SubscriptionController) handleSubscribe(ctx *gin.Context) {
	var body subscribeBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION", "error": "invalid request body"})
		return
	}

	sub, err := c.subs.Subscribe(ctx.Request.Context(), services.SubscribeRequest{
		FollowerID: body.FollowerID,
		MasterID:   body.MasterID,
		Amount:     body.Amount,
		Type:       body.Type,
		Risk:       body.Risk,
		Options:    body.Options,
	})
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusCreated, sub)
}

func (c *SubscriptionController) handleUnsubscribe(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION", "error": "invalid subscription id"})
		return
	}
	res, err := c.subs.Unsubscribe(ctx.Request.Context(), id)
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (c *SubscriptionController) handleUnsubscribeAll(ctx *gin.Context) {
	n, err := c.subs.UnsubscribeAll(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deactivated": n})
}

func (c *SubscriptionController) handleForceUnsubscribe(ctx *gin.Context) {
	n, err := c.subs.ForceUnsubscribeAllFollowersOf(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deactivated": n})
}

func (c *SubscriptionController) handleListActive(ctx *gin.Context) {
	subs, err := c.subs.ListActiveSubscriptions(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, subs)
}

func (c *SubscriptionController) handleEntitlements(ctx *gin.Context) {
	status, err := c.subs.EntitlementStatus(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
