package mcpserver

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Session implements the MCP ClientSession interface.
type Session struct {
	id            string
	notifChannel  chan mcp.JSONRPCNotification
	isInitialized bool
	createdAt     time.Time
}

// NewSession creates a session instance.
func NewSession(sessionID string) *Session {
	return &Session{
		id:           sessionID,
		notifChannel: make(chan mcp.JSONRPCNotification, 10),
		createdAt:    time.Now(),
	}
}

func (s *Session) SessionID() string { return s.id }

func (s *Session) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifChannel
}

func (s *Session) Initialize() { s.isInitialized = true }

func (s *Session) Initialized() bool { return s.isInitialized }

func (s *Session) CreatedAt() time.Time { return s.createdAt }
