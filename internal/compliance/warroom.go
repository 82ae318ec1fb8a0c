package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const (
	warRoomEventWindowHours = 2
	warRoomLogWindowMinutes = 60

	criticalEventCount = 25
	criticalLogCount   = 15
	highEventCount     = 8
	highLogCount       = 5

	incidentBucket = 10 * time.Minute
	trendWindow    = 5 * time.Minute
	trendFlatBand  = 0.10

	timelineSize   = 4
	actionItemSize = 3
)

// TimelineEntry is one tallied event reason in the incident timeline
type TimelineEntry struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// WarRoomIncident is the synthesized incident view for one connection.
// Incident identity is stable only inside one 10-minute bucket; there is no
// persisted incident state.
type WarRoomIncident struct {
	IncidentID    string                 `json:"incidentId"`
	ConnectionID  string                 `json:"connectionId"`
	Severity      string                 `json:"severity"` // critical | high | medium
	Status        string                 `json:"status"`   // investigating | monitoring
	EventCount    int                    `json:"eventCount"`
	ErrorLogCount int                    `json:"errorLogCount"`
	Timeline      []TimelineEntry        `json:"timeline"`
	ActionItems   []string               `json:"actionItems"`
	EventTrend    string                 `json:"eventTrend"` // up | down | flat
	LogTrend      string                 `json:"logTrend"`
	Notes         []storage.IncidentNote `json:"notes"`
	Demo          bool                   `json:"demo"`
}

// WarRoom synthesizes the incident view from the last 2 hours of events and
// the last hour of logs. Returns nil when the connection has no events,
// logs, or notes at all; callers substitute the demo snapshot, which must
// not be read as a real all-clear.
func (s *Service) WarRoom(ctx context.Context, conn *storage.ClusterConnection) *WarRoomIncident {
	if conn == nil {
		return nil
	}

	events := attempt(s, "warroom-events", func() ([]storage.ClusterEvent, error) {
		return s.store.RecentEvents(conn.ID, warRoomEventWindowHours)
	})
	logs := attempt(s, "warroom-logs", func() ([]storage.LogEntry, error) {
		return s.store.RecentLogs(conn.ID, warRoomLogWindowMinutes)
	})
	notes := attempt(s, "warroom-notes", func() ([]storage.IncidentNote, error) {
		return s.store.ListIncidentNotes(conn.ID)
	})

	if len(events) == 0 && len(logs) == 0 && len(notes) == 0 {
		return nil
	}
	return synthesizeIncident(conn.ID, events, logs, notes, time.Now().UTC())
}

func synthesizeIncident(connID string, events []storage.ClusterEvent, logs []storage.LogEntry, notes []storage.IncidentNote, now time.Time) *WarRoomIncident {
	warnErrEvents := 0
	for _, ev := range events {
		if ev.Type == "Warning" || ev.Type == "Error" {
			warnErrEvents++
		}
	}
	errorLogs := 0
	for _, line := range logs {
		if strings.EqualFold(line.Level, "error") {
			errorLogs++
		}
	}

	severity := "medium"
	switch {
	case warnErrEvents >= criticalEventCount || errorLogs >= criticalLogCount:
		severity = "critical"
	case warnErrEvents >= highEventCount || errorLogs >= highLogCount:
		severity = "high"
	}
	status := "monitoring"
	if severity == "critical" {
		status = "investigating"
	}

	tallies := tallyReasons(events)
	timeline := make([]TimelineEntry, 0, timelineSize)
	actionItems := make([]string, 0, actionItemSize)
	for i, entry := range tallies {
		if i < timelineSize {
			timeline = append(timeline, entry)
		}
		if i < actionItemSize {
			actionItems = append(actionItems, actionForReason(entry.Reason))
		}
	}

	if notes == nil {
		notes = []storage.IncidentNote{}
	}
	return &WarRoomIncident{
		IncidentID:    incidentID(connID, now),
		ConnectionID:  connID,
		Severity:      severity,
		Status:        status,
		EventCount:    warnErrEvents,
		ErrorLogCount: errorLogs,
		Timeline:      timeline,
		ActionItems:   actionItems,
		EventTrend:    eventTrend(events, now),
		LogTrend:      logTrend(logs, now),
		Notes:         notes,
	}
}

// incidentID hashes the connection id with a 10-minute time bucket so
// repeated computations inside one bucket agree without persisting state.
func incidentID(connID string, at time.Time) string {
	bucket := at.Unix() / int64(incidentBucket.Seconds())
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", connID, bucket)))
	return hex.EncodeToString(sum[:8])
}

// tallyReasons counts event reasons, most frequent first, name as tiebreak
func tallyReasons(events []storage.ClusterEvent) []TimelineEntry {
	counts := map[string]int{}
	for _, ev := range events {
		if ev.Reason == "" {
			continue
		}
		counts[ev.Reason]++
	}
	entries := make([]TimelineEntry, 0, len(counts))
	for reason, count := range counts {
		entries = append(entries, TimelineEntry{Reason: reason, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Reason < entries[j].Reason
	})
	return entries
}

// recommendedActions maps lowercased reason fragments to action items
var recommendedActions = []struct {
	fragment string
	action   string
}{
	{"crashloop", "Inspect CrashLoopBackOff pods and their last container exit codes"},
	{"backoff", "Inspect CrashLoopBackOff pods and their last container exit codes"},
	{"failedscheduling", "Check node capacity, taints, and pending pod resource requests"},
	{"oom", "Review memory limits for OOM-killed containers"},
	{"unhealthy", "Check readiness and liveness probe configuration for failing pods"},
	{"failedmount", "Verify volume claims and storage class availability"},
	{"evicted", "Check node disk and memory pressure conditions"},
	{"imagepull", "Verify image names and registry credentials"},
}

func actionForReason(reason string) string {
	lower := strings.ToLower(reason)
	for _, entry := range recommendedActions {
		if strings.Contains(lower, entry.fragment) {
			return entry.action
		}
	}
	return fmt.Sprintf("Review recent %s events", reason)
}

func eventTrend(events []storage.ClusterEvent, now time.Time) string {
	var trailing, preceding int
	for _, ev := range events {
		bucketTrend(ev.Timestamp, now, &trailing, &preceding)
	}
	return trendOf(trailing, preceding)
}

func logTrend(logs []storage.LogEntry, now time.Time) string {
	var trailing, preceding int
	for _, line := range logs {
		bucketTrend(line.LogTimestamp, now, &trailing, &preceding)
	}
	return trendOf(trailing, preceding)
}

func bucketTrend(ts time.Time, now time.Time, trailing, preceding *int) {
	age := now.Sub(ts)
	switch {
	case age >= 0 && age < trendWindow:
		*trailing++
	case age >= trendWindow && age < 2*trendWindow:
		*preceding++
	}
}

// trendOf compares the trailing 5-minute window against the preceding one;
// a relative delta under 10% reads as flat.
func trendOf(trailing, preceding int) string {
	base := preceding
	if base < 1 {
		base = 1
	}
	delta := float64(trailing-preceding) / float64(base)
	switch {
	case delta >= trendFlatBand:
		return "up"
	case delta <= -trendFlatBand:
		return "down"
	default:
		return "flat"
	}
}
