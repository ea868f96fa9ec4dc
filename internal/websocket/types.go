package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeExtraction is sent after a vector extraction request
	EventTypeExtraction EventType = "extraction"
	// EventTypeConfigReload is sent when the extraction settings change
	EventTypeConfigReload EventType = "config_reload"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// ExtractionEvent describes one completed extraction request
type ExtractionEvent struct {
	RequestID    string  `json:"request_id"`
	Model        string  `json:"model"`
	Family       string  `json:"family"`
	Strategy     string  `json:"strategy"`
	Layer        int     `json:"layer"`
	Texts        int     `json:"texts"`
	Dims         int     `json:"dims"`
	ClientIP     string  `json:"client_ip"`
	ProcessingMS float64 `json:"processing_ms"`
	Error        string  `json:"error,omitempty"`
}

// ConfigReloadEvent reports a new active extraction
type ConfigReloadEvent struct {
	Strategy         string `json:"strategy"`
	Layer            int    `json:"layer"`
	IgnoreFirstToken bool   `json:"ignore_first_token"`
	Error            string `json:"error,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	Model            string `json:"model"`
	TotalRequests    int64  `json:"total_requests"`
	TotalVectors     int64  `json:"total_vectors"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows extraction events
type EventFilter struct {
	Models     []string `json:"models,omitempty"`
	Strategies []string `json:"strategies,omitempty"`
	ErrorsOnly bool     `json:"errors_only,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	// subscription is guarded by Hub.mu
	subscription *SubscriptionRequest
}
