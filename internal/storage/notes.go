package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AddIncidentNote attaches a user-authored note to a connection's rolling
// incident state. Empty content is rejected synchronously with no partial
// write.
func (s *Store) AddIncidentNote(connectionID, author, content string) (*IncidentNote, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("note content must not be empty")
	}
	note := IncidentNote{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Author:       author,
		Content:      content,
		CreatedAt:    time.Now(),
	}
	if err := s.db.Create(&note).Error; err != nil {
		return nil, fmt.Errorf("failed to add incident note: %w", err)
	}
	return &note, nil
}

// ListIncidentNotes returns all notes for a connection, newest first
func (s *Store) ListIncidentNotes(connectionID string) ([]IncidentNote, error) {
	var notes []IncidentNote
	err := s.db.
		Where("connection_id = ?", connectionID).
		Order("created_at DESC").
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list incident notes: %w", err)
	}
	return notes, nil
}
