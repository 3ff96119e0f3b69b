package main

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type RelayStatus string

const (
	StatusAccepted RelayStatus = "ACCEPTED"
	StatusRejected RelayStatus = "REJECTED"
)

// SendMailRequest is what the dispatcher's relay transport posts.
type SendMailRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	TenantID  int64  `json:"tenant_id"`
	To        string `json:"to" binding:"required"`
	ToName    string `json:"to_name"`
	From      string `json:"from" binding:"required"`
	FromName  string `json:"from_name"`
	Subject   string `json:"subject" binding:"required"`
	HTML      string `json:"html" binding:"required"`
}

type SendMailResponse struct {
	MessageID  string      `json:"message_id"`
	RelayID    string      `json:"relay_id"`
	Status     RelayStatus `json:"status"`
	ErrorMsg   string      `json:"error_message,omitempty"`
	AcceptedAt time.Time   `json:"accepted_at"`
}

type OutboxEntry struct {
	RelayID    string    `json:"relay_id"`
	MessageID  string    `json:"message_id"`
	TenantID   int64     `json:"tenant_id"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Size       int       `json:"size"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// MailRelay is a development stand-in for the outbound mail relay. It keeps
// the most recent accepted messages in memory and can be told to reject a
// share of them to exercise the dispatcher's failover and breaker.
type MailRelay struct {
	relayID    string
	outboxSize int

	mu         sync.Mutex
	rejectRate float64
	rng        *rand.Rand
	outbox     []OutboxEntry
	seen       map[string]string
}

func NewMailRelay(rejectRate float64, outboxSize int) *MailRelay {
	if outboxSize <= 0 {
		outboxSize = 100
	}
	return &MailRelay{
		relayID:    "RELAY_" + uuid.New().String()[:8],
		outboxSize: outboxSize,
		rejectRate: rejectRate,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		seen:       make(map[string]string),
	}
}

func (m *MailRelay) accept(req *SendMailRequest) *SendMailResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	// a retried message keeps its first relay id
	if id, ok := m.seen[req.MessageID]; ok {
		return &SendMailResponse{MessageID: req.MessageID, RelayID: id, Status: StatusAccepted, AcceptedAt: now}
	}

	if !strings.Contains(req.To, "@") {
		return &SendMailResponse{MessageID: req.MessageID, Status: StatusRejected, ErrorMsg: "recipient address is not valid", AcceptedAt: now}
	}
	if m.rejectRate > 0 && m.rng.Float64() < m.rejectRate {
		return &SendMailResponse{MessageID: req.MessageID, Status: StatusRejected, ErrorMsg: "relay policy rejected the message", AcceptedAt: now}
	}

	relayID := uuid.NewString()
	m.seen[req.MessageID] = relayID
	m.outbox = append(m.outbox, OutboxEntry{
		RelayID:    relayID,
		MessageID:  req.MessageID,
		TenantID:   req.TenantID,
		To:         req.To,
		Subject:    req.Subject,
		Size:       len(req.HTML),
		AcceptedAt: now,
	})
	if over := len(m.outbox) - m.outboxSize; over > 0 {
		for _, e := range m.outbox[:over] {
			delete(m.seen, e.MessageID)
		}
		m.outbox = append([]OutboxEntry(nil), m.outbox[over:]...)
	}

	return &SendMailResponse{MessageID: req.MessageID, RelayID: relayID, Status: StatusAccepted, AcceptedAt: now}
}

func (m *MailRelay) Outbox() []OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboxEntry(nil), m.outbox...)
}

func (m *MailRelay) SetRejectRate(rate float64) {
	m.mu.Lock()
	m.rejectRate = rate
	m.mu.Unlock()
}

type Handler struct {
	relay *MailRelay
}

func NewHandler(relay *MailRelay) *Handler {
	return &Handler{relay: relay}
}

func (h *Handler) SendMail(c *gin.Context) {
	var req SendMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	response := h.relay.accept(&req)
	if response.Status == StatusRejected {
		log.Warn().
			Str("message_id", req.MessageID).
			Int64("tenant_id", req.TenantID).
			Str("reason", response.ErrorMsg).
			Msg("mail rejected")
	} else {
		log.Info().
			Str("message_id", req.MessageID).
			Int64("tenant_id", req.TenantID).
			Str("to", req.To).
			Str("relay_id", response.RelayID).
			Msg("mail accepted")
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) ListOutbox(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.relay.Outbox()})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		RejectRate *float64 `json:"reject_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}
	if config.RejectRate != nil && *config.RejectRate >= 0 && *config.RejectRate <= 1 {
		h.relay.SetRejectRate(*config.RejectRate)
		log.Info().Float64("rate", *config.RejectRate).Msg("updated reject rate")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Configuration updated"})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"relay_id":  h.relay.relayID,
		"timestamp": time.Now(),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/mail/send", handler.SendMail)
		v1.GET("/mail/outbox", handler.ListOutbox)
		v1.PUT("/config", handler.UpdateConfig)
		v1.GET("/health", handler.HealthCheck)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}
