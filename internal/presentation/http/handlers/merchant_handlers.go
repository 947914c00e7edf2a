package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/email"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/merchant"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/performance"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// ProvisionMerchantRequest is the body for POST /api/v1/merchant/provision.
type ProvisionMerchantRequest struct {
	Name           string   `json:"name" binding:"required"`
	Email          string   `json:"email" binding:"required"`
	Secret         string   `json:"secret" binding:"required"`
	AllowedOrigins []string `json:"allowedOrigins" binding:"required"`
}

// ActivateMerchantRequest is the body for POST /api/v1/merchant/activation.
type ActivateMerchantRequest struct {
	Token string `json:"token" binding:"required"`
}

// MerchantHandlers serves merchant onboarding endpoints.
type MerchantHandlers struct {
	registry     *merchant.Registry
	emailService email.Service
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
}

// NewMerchantHandlers creates merchant handlers with injected dependencies
func NewMerchantHandlers(registry *merchant.Registry, emailService email.Service, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *MerchantHandlers {
	return &MerchantHandlers{
		registry:     registry,
		emailService: emailService,
		logger:       logger,
		perfTracker:  perfTracker,
	}
}

// HandleProvisionMerchant registers a new merchant in pending state and sends
// the activation email when an email service is configured.
func (h *MerchantHandlers) HandleProvisionMerchant(c *gin.Context) {
	start := time.Now()

	var req ProvisionMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	marker := h.perfTracker.StartOperation("provision_merchant_request", "")
	defer marker.Complete()

	info, err := h.registry.Provision(req.Name, req.Email, req.Secret, req.AllowedOrigins)
	if err != nil {
		marker.SetError(err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	activationSent := false
	if h.emailService != nil {
		activationURL := fmt.Sprintf("https://%s/activate?token=%s", c.Request.Host, info.ActivationToken)
		if err := h.emailService.SendMerchantActivationEmail(req.Email, info.Key, activationURL); err != nil {
			h.logger.Email().Error("Failed to send activation email",
				"merchantKey", info.Key, "error", err.Error())
		} else {
			activationSent = true
		}
	}

	marker.SetSuccess(true)
	h.logger.Merchant().Info("Merchant provisioned",
		"merchantKey", info.Key, "name", req.Name, "activationSent", activationSent,
		"duration", time.Since(start))
	c.JSON(http.StatusCreated, gin.H{
		"merchantKey":    info.Key,
		"status":         info.Status,
		"activationSent": activationSent,
	})
}

// HandleActivateMerchant redeems an activation token.
func (h *MerchantHandlers) HandleActivateMerchant(c *gin.Context) {
	var req ActivateMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	marker := h.perfTracker.StartOperation("activate_merchant_request", "")
	defer marker.Complete()

	info, err := h.registry.Activate(req.Token, config.ActivationTokenTTL)
	if err != nil {
		marker.SetError(err)
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	marker.SetSuccess(true)
	h.logger.Merchant().Info("Merchant activated", "merchantKey", info.Key)
	c.JSON(http.StatusOK, gin.H{
		"merchantKey": info.Key,
		"status":      info.Status,
	})
}
