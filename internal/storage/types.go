package storage

import "time"

// HistoryEntry is one normalized browser history record. Entries are unique
// by (URL, LastVisitTime).
type HistoryEntry struct {
	URL           string
	Title         string
	VisitCount    int
	LastVisitTime int64 // epoch milliseconds
	Browser       string
}

// MaliciousRecord is a URL that VirusTotal flagged. Records are unique by URL;
// a later detection replaces the stats of an earlier one.
type MaliciousRecord struct {
	URL           string
	Domain        string
	Title         string
	Positives     int
	Total         int
	VisitCount    int
	LastVisitTime int64
	SessionID     int64
	DetectionTime time.Time
	ScanDate      time.Time
}

// Session statuses.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Session is one run of the scanner over a batch of URLs.
type Session struct {
	ID                  int64
	SessionDate         time.Time
	TotalURLs           int
	MaliciousCount      int
	ScanDurationSeconds int64
	MaliciousDomains    []string
	Status              string
}

// ScanResult is a single verdict line recorded during a session.
type ScanResult struct {
	SessionID int64
	URL       string
	Verdict   string
	Positives int
	Total     int
	Detail    string
	ScannedAt time.Time
}

// Stats holds the collection counts reported by status endpoints.
type Stats struct {
	HistoryCount   int64
	MaliciousCount int64
	SessionCount   int64
}

// Setting keys.
const (
	SettingAPIKey = "api_key"
)
