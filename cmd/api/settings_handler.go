package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RuntimeSettings holds the model settings that can change without a
// restart. The Ollama generator reads them on every call.
type RuntimeSettings struct {
	mu            sync.RWMutex
	ollamaBaseURL string
	ollamaModel   string
}

func NewRuntimeSettings(ollamaBaseURL, ollamaModel string) *RuntimeSettings {
	return &RuntimeSettings{
		ollamaBaseURL: ollamaBaseURL,
		ollamaModel:   ollamaModel,
	}
}

func (r *RuntimeSettings) OllamaBaseURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ollamaBaseURL
}

func (r *RuntimeSettings) OllamaModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ollamaModel
}

// Update replaces the base URL and, when given, the model
func (r *RuntimeSettings) Update(baseURL, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ollamaBaseURL = baseURL
	if model != "" {
		r.ollamaModel = model
	}
}

// Pinger is satisfied by *ai.OllamaService
type Pinger interface {
	Ping(ctx context.Context, baseURL string) error
}

// BreakerStatus is satisfied by *classifier.CircuitBreaker
type BreakerStatus interface {
	OpenUntil() time.Time
}

type SettingsHandler struct {
	runtime *RuntimeSettings
	ollama  Pinger
	breaker BreakerStatus
	model   string
}

func NewSettingsHandler(runtime *RuntimeSettings, ollama Pinger, breaker BreakerStatus, modelName string) *SettingsHandler {
	return &SettingsHandler{
		runtime: runtime,
		ollama:  ollama,
		breaker: breaker,
		model:   modelName,
	}
}

type updateOllamaSettingsRequest struct {
	OllamaBaseURL string `json:"ollama_base_url" binding:"required,url"`
	OllamaModel   string `json:"ollama_model,omitempty"`
}

// GET /api/settings/ollama
func (h *SettingsHandler) GetOllama(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ollama_base_url": h.runtime.OllamaBaseURL(),
		"ollama_model":    h.runtime.OllamaModel(),
	})
}

// PUT /api/settings/ollama
func (h *SettingsHandler) UpdateOllama(c *gin.Context) {
	var req updateOllamaSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.runtime.Update(req.OllamaBaseURL, req.OllamaModel)
	c.JSON(http.StatusOK, gin.H{
		"ollama_base_url": h.runtime.OllamaBaseURL(),
		"ollama_model":    h.runtime.OllamaModel(),
	})
}

// POST /api/settings/ollama/test
func (h *SettingsHandler) TestOllama(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
	}
	// An empty body tests the current server
	_ = c.ShouldBindJSON(&req)
	if req.OllamaBaseURL == "" {
		req.OllamaBaseURL = h.runtime.OllamaBaseURL()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.ollama.Ping(ctx, req.OllamaBaseURL); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":       true,
		"ollama_base_url": req.OllamaBaseURL,
	})
}

// GET /api/settings/model
func (h *SettingsHandler) ModelStatus(c *gin.Context) {
	resp := gin.H{
		"provider":     h.model,
		"breaker_open": false,
	}
	if h.breaker != nil {
		if until := h.breaker.OpenUntil(); !until.IsZero() {
			resp["breaker_open"] = true
			resp["breaker_open_until"] = until
		}
	}
	c.JSON(http.StatusOK, resp)
}
