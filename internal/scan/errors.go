package scan

import "errors"

var (
	// ErrMissingAPIKey means no VirusTotal key is stored or configured.
	ErrMissingAPIKey = errors.New("VirusTotal API key is not set")
	// ErrNothingToScan means every candidate was filtered out.
	ErrNothingToScan = errors.New("no scannable URLs")
	// ErrScanInProgress is returned by Runner.Start while a job is running.
	ErrScanInProgress = errors.New("a scan is already in progress")
)
