package compliance

import (
	"fmt"

	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// AddIncidentNote records an operator note against the connection's
// incident and announces it on the audit topic. Notes are the only
// war-room input that is written rather than derived, so they require a
// real connection; demo mode has nothing to attach them to.
func (s *Service) AddIncidentNote(conn *storage.ClusterConnection, author, content string) (*storage.IncidentNote, error) {
	if conn == nil {
		return nil, fmt.Errorf("incident notes require a connection")
	}
	note, err := s.store.AddIncidentNote(conn.ID, author, content)
	if err != nil {
		return nil, err
	}
	if s.hub != nil {
		s.hub.Publish(hub.TopicAudit, note)
	}
	return note, nil
}
