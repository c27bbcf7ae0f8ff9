// Package core provides the domain models and interfaces for the commands package.
package core

import (
	"encoding/json"
	"time"
)

// InvocationStatus represents the current state of a command invocation.
type InvocationStatus string

const (
	StatusPending   InvocationStatus = "pending"
	StatusRunning   InvocationStatus = "running"
	StatusCompleted InvocationStatus = "completed"
	StatusFailed    InvocationStatus = "failed"
	StatusRetrying  InvocationStatus = "retrying"
)

// Invocation records one command invocation: either an immediate dispatch
// kept for history or a deferred one waiting for a worker.
type Invocation struct {
	ID          string           `gorm:"primaryKey;size:36"`
	Command     string           `gorm:"index;size:255;not null"`
	Args        []byte           `gorm:"type:bytes"` // JSON-encoded raw tokens
	Actor       string           `gorm:"index;size:255"`
	Queue       string           `gorm:"index;size:255;default:'default'"`
	Priority    int              `gorm:"index;default:0"`
	Status      InvocationStatus `gorm:"index;size:20;default:'pending'"`
	Attempt     int              `gorm:"default:0"`
	MaxRetries  int              `gorm:"default:0"`
	LastError   string           `gorm:"type:text"`
	RunAt       *time.Time       `gorm:"index"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
	LockedBy    string     `gorm:"size:255"`
	LockedUntil *time.Time `gorm:"index"`
	UniqueKey   string     `gorm:"index;size:255"`
}

// Tokens decodes the raw tokens stored on the invocation.
func (inv *Invocation) Tokens() ([]string, error) {
	if len(inv.Args) == 0 {
		return nil, nil
	}
	var tokens []string
	if err := json.Unmarshal(inv.Args, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// EncodeTokens encodes raw tokens for Invocation.Args.
func EncodeTokens(tokens []string) ([]byte, error) {
	if tokens == nil {
		tokens = []string{}
	}
	return json.Marshal(tokens)
}
