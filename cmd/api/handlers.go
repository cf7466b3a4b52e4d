package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brandmill/brandmill/internal/capability"
	"github.com/brandmill/brandmill/internal/credits"
	"github.com/brandmill/brandmill/internal/database"
	"github.com/brandmill/brandmill/internal/dispatch"
	"github.com/brandmill/brandmill/internal/ledger"
	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/provider"
	"github.com/brandmill/brandmill/internal/store"
	"github.com/brandmill/brandmill/internal/webhook"
	"github.com/brandmill/brandmill/pkg/models"
)

// API bundles the handler dependencies
type API struct {
	dispatcher *dispatch.Dispatcher
	registry   *provider.Registry
	matrix     *capability.Matrix
	ledger     *ledger.Ledger
	credits    *credits.Book
	webhooks   *webhook.Repository
	store      store.Store
	archive    *database.Repository // nil when the usage archive is not configured
	logger     *logging.Logger
}

// statusForError maps a generation failure to an HTTP status
func statusForError(err error) int {
	genErr, ok := models.AsGenerationError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch genErr.Kind {
	case models.ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case models.ErrTierInsufficient:
		return http.StatusForbidden
	case models.ErrNoProviderConfigured:
		return http.StatusUnprocessableEntity
	case models.ErrProviderCallFailed:
		return http.StatusBadGateway
	case models.ErrGenerationUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorPayload renders a failure with its machine-readable kind
func errorPayload(err error) gin.H {
	if genErr, ok := models.AsGenerationError(err); ok {
		payload := gin.H{
			"kind":  genErr.Kind,
			"error": genErr.Message,
		}
		if genErr.Hint != "" {
			payload["hint"] = genErr.Hint
		}
		if genErr.Kind == models.ErrQuotaExceeded {
			payload["limit"] = genErr.Limit
		}
		return payload
	}
	return gin.H{"error": err.Error()}
}

// Generate endpoint
func (api *API) generate(c *gin.Context) {
	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := api.dispatcher.Generate(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusForError(err), errorPayload(err))
		return
	}

	c.JSON(http.StatusOK, result)
}

// Batch generate endpoint
func (api *API) generateBatch(c *gin.Context) {
	var req struct {
		Requests []models.GenerationRequest `json:"requests" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcomes := api.dispatcher.GenerateBatch(c.Request.Context(), req.Requests)

	items := make([]gin.H, len(outcomes))
	for i, outcome := range outcomes {
		item := gin.H{"index": outcome.Index}
		if outcome.Err != nil {
			item["status"] = statusForError(outcome.Err)
			for k, v := range errorPayload(outcome.Err) {
				item[k] = v
			}
		} else {
			item["status"] = http.StatusOK
			item["result"] = outcome.Result
		}
		items[i] = item
	}

	c.JSON(http.StatusOK, gin.H{"outcomes": items})
}

// Set provider credential endpoint
func (api *API) setProviderCredential(c *gin.Context) {
	userID := c.Param("id")
	category := models.Category(c.Param("category"))
	providerID := c.Param("provider")

	var req struct {
		Credential string `json:"credential" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := api.registry.SetCredential(c.Request.Context(), userID, category, providerID, req.Credential); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": providerID, "category": category, "configured": true})
}

// Remove provider credential endpoint
func (api *API) removeProviderCredential(c *gin.Context) {
	userID := c.Param("id")
	category := models.Category(c.Param("category"))
	providerID := c.Param("provider")

	if err := api.registry.RemoveCredential(c.Request.Context(), userID, category, providerID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": providerID, "category": category, "configured": false})
}

// Set active provider endpoint
func (api *API) setActiveProvider(c *gin.Context) {
	userID := c.Param("id")
	category := models.Category(c.Param("category"))
	providerID := c.Param("provider")

	if err := api.registry.SetActive(c.Request.Context(), userID, category, providerID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": providerID, "category": category, "active": true})
}

// List providers endpoint
func (api *API) listProviders(c *gin.Context) {
	userID := c.Param("id")
	category := models.Category(c.Param("category"))

	if !category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}

	providers, err := api.registry.List(c.Request.Context(), userID, category)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"category": category, "providers": providers})
}

// Usage endpoint. Counts are derived fresh from the ledger on every call.
func (api *API) getUsage(c *gin.Context) {
	userID := c.Param("id")

	counts := make(map[models.Category]int, len(models.AllCategories))
	for _, category := range models.AllCategories {
		count, err := api.ledger.CountThisMonth(c.Request.Context(), userID, category)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		counts[category] = count
	}

	payload := gin.H{
		"user_id":     userID,
		"month_start": ledger.MonthStart(time.Now()),
		"counts":      counts,
	}

	// Include the tier's limits when the caller names one
	if tierParam := c.Query("tier"); tierParam != "" {
		record := api.matrix.LimitsFor(models.ParseTier(tierParam))
		payload["limits"] = gin.H{
			"monthly_extractions": record.MonthlyExtractionLimit,
			"monthly_videos":      record.MonthlyVideoLimit,
		}
	}

	c.JSON(http.StatusOK, payload)
}

// Usage history endpoint, backed by the Postgres archive
func (api *API) getUsageHistory(c *gin.Context) {
	if api.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "usage archive not configured"})
		return
	}

	userID := c.Param("id")

	months := 6
	if monthsParam := c.Query("months"); monthsParam != "" {
		parsed, err := strconv.Atoi(monthsParam)
		if err != nil || parsed < 1 || parsed > 36 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "months must be between 1 and 36"})
			return
		}
		months = parsed
	}

	report, err := api.archive.MonthlyUsageReport(c.Request.Context(), userID, months)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "months": months, "history": report})
}

// Credit balance endpoint
func (api *API) getCredits(c *gin.Context) {
	userID := c.Param("id")

	balance, err := api.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

// Credit top-up endpoint
func (api *API) addCredits(c *gin.Context) {
	userID := c.Param("id")

	var req struct {
		Amount int `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance, err := api.credits.Credit(c.Request.Context(), userID, req.Amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

// Export state endpoint
func (api *API) exportState(c *gin.Context) {
	userID := c.Param("id")

	snapshot, err := store.Export(c.Request.Context(), api.store, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// Import state endpoint. Replaces all of the user's state with the snapshot.
func (api *API) importState(c *gin.Context) {
	userID := c.Param("id")

	var snapshot store.Snapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snapshot.UserID = userID

	if err := store.Import(c.Request.Context(), api.store, &snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "imported": true})
}

// Delete state endpoint
func (api *API) deleteState(c *gin.Context) {
	userID := c.Param("id")

	if err := store.Clear(c.Request.Context(), api.store, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "deleted": true})
}

// Create webhook endpoint
func (api *API) createWebhook(c *gin.Context) {
	userID := c.Param("id")

	var wh models.Webhook
	if err := c.ShouldBindJSON(&wh); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wh.UserID = userID
	wh.IsActive = true

	if err := api.webhooks.Create(c.Request.Context(), &wh); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, wh)
}

// List webhooks endpoint
func (api *API) listWebhooks(c *gin.Context) {
	userID := c.Param("id")

	webhooks, err := api.webhooks.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhooks": webhooks})
}

// Delete webhook endpoint
func (api *API) deleteWebhook(c *gin.Context) {
	userID := c.Param("id")
	webhookID := c.Param("webhook_id")

	if err := api.webhooks.Delete(c.Request.Context(), userID, webhookID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhook_id": webhookID, "deleted": true})
}

// Toggle webhook endpoint
func (api *API) setWebhookActive(c *gin.Context) {
	userID := c.Param("id")
	webhookID := c.Param("webhook_id")

	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := api.webhooks.SetActive(c.Request.Context(), userID, webhookID, *req.Active); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhook_id": webhookID, "active": *req.Active})
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
