package scan

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/runnerr0/histscan/internal/virustotal"
)

// Verdict kinds, as persisted with each scan result.
const (
	KindClean     = "clean"
	KindMalicious = "malicious"
	KindUnknown   = "unknown"
	KindError     = "error"
)

// Verdict is the classification of one lookup. It is one of Clean,
// Malicious, Unknown or Failure.
type Verdict interface {
	Kind() string
	String() string
	isVerdict()
}

// Clean means no engine flagged the URL.
type Clean struct {
	Total int
}

// Malicious means at least one engine flagged the URL.
type Malicious struct {
	Positives int
	Total     int
}

// Unknown means VirusTotal has no report for the URL.
type Unknown struct{}

// Failure means the lookup did not produce a usable report.
type Failure struct {
	Cause string
	// QuotaExceeded is set for HTTP 204, which triggers the cooldown.
	QuotaExceeded bool
}

func (Clean) Kind() string     { return KindClean }
func (Malicious) Kind() string { return KindMalicious }
func (Unknown) Kind() string   { return KindUnknown }
func (Failure) Kind() string   { return KindError }

func (v Clean) String() string     { return fmt.Sprintf("clean (0/%d)", v.Total) }
func (v Malicious) String() string { return fmt.Sprintf("MALICIOUS (%d/%d)", v.Positives, v.Total) }
func (Unknown) String() string     { return "URL not in VirusTotal database" }
func (v Failure) String() string   { return "error: " + v.Cause }

func (Clean) isVerdict()     {}
func (Malicious) isVerdict() {}
func (Unknown) isVerdict()   {}
func (Failure) isVerdict()   {}

// Counts returns the positives/total carried by v, zero for other kinds.
func Counts(v Verdict) (positives, total int) {
	switch v := v.(type) {
	case Malicious:
		return v.Positives, v.Total
	case Clean:
		return 0, v.Total
	}
	return 0, 0
}

// Classify turns a lookup result into a Verdict.
func Classify(report *virustotal.URLReport, err error) Verdict {
	if err != nil {
		return classifyError(err)
	}
	if report == nil {
		return Failure{Cause: "empty response"}
	}
	if report.ResponseCode == 0 {
		return Unknown{}
	}
	if !report.HasCounts {
		return Failure{Cause: "missing scan results in response"}
	}
	if report.Positives > 0 {
		return Malicious{Positives: report.Positives, Total: report.Total}
	}
	return Clean{Total: report.Total}
}

func classifyError(err error) Verdict {
	var se *virustotal.StatusError
	if errors.As(err, &se) {
		if se.QuotaExceeded() {
			return Failure{Cause: "rate limit exceeded", QuotaExceeded: true}
		}
		switch se.Code {
		case http.StatusForbidden:
			return Failure{Cause: "API key invalid (403)"}
		case http.StatusBadRequest:
			return Failure{Cause: "bad request (400)"}
		default:
			return Failure{Cause: fmt.Sprintf("HTTP error: %d", se.Code)}
		}
	}

	var de *virustotal.DecodeError
	if errors.As(err, &de) {
		return Failure{Cause: de.Error()}
	}
	return Failure{Cause: fmt.Sprintf("network error: %v", err)}
}
