package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows storage health, collection counts and daemon state.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// ImportCommand imports a history export file (CSV, JSON or Chromium DB).
type ImportCommand struct {
	Browser string `long:"browser" description:"Browser tag for the imported entries"`
	Args    struct {
		File string `positional-arg-name:"file" description:"History file to import"`
	} `positional-args:"yes" required:"yes"`

	globals *GlobalFlags
	version string
}

// PullCommand reads the local browser profile's history database.
type PullCommand struct {
	Browser string `long:"browser" description:"Google Chrome, Brave or Microsoft Edge"`
	Limit   int    `long:"limit" description:"Newest entries to read (default from config)"`

	globals *GlobalFlags
	version string
}

// AddCommand manually records a single history entry.
type AddCommand struct {
	URL         string `long:"url" description:"URL to record (required)"`
	Title       string `long:"title" description:"Page title"`
	Visits      int    `long:"visits" description:"Visit count" default:"1"`
	BrowserName string `long:"browser" description:"Source browser label"`

	globals *GlobalFlags
	version string
}

// HistoryCommand lists stored history with optional filters.
type HistoryCommand struct {
	Since   string   `long:"since" description:"Only entries visited within duration (e.g., 7d, 24h, 2w)"`
	Domain  []string `long:"domain" description:"Filter by domain (repeatable)"`
	Browser []string `long:"browser" description:"Filter by browser (repeatable)"`
	Limit   int      `long:"limit" description:"Maximum results" default:"20"`
	Offset  int      `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// ScanCommand checks stored history against VirusTotal.
type ScanCommand struct {
	globals  *GlobalFlags
	version  string
	progress io.Writer // progress bar output; nil means os.Stderr
}

// MaliciousCommand lists URLs flagged by VirusTotal.
type MaliciousCommand struct {
	Limit int `long:"limit" description:"Maximum results (0 for all)" default:"0"`

	globals *GlobalFlags
	version string
}

// SessionsCommand lists scan sessions or shows one in detail.
type SessionsCommand struct {
	ID int64 `long:"id" description:"Show a single session with its verdicts"`

	globals *GlobalFlags
	version string
}

// ExportCommand writes the malicious domain list for downstream tools.
type ExportCommand struct {
	Out string `long:"out" description:"Write to file instead of stdout"`

	globals *GlobalFlags
	version string
}

// AnalyzeCommand summarizes stored history.
type AnalyzeCommand struct {
	Top int `long:"top" description:"Number of top domains to show" default:"10"`

	globals *GlobalFlags
	version string
}

// APIKeyCommand shows, stores or obtains the VirusTotal API key.
type APIKeyCommand struct {
	Set    string `long:"set" description:"Store a VirusTotal API key"`
	Signup bool   `long:"signup" description:"Open the VirusTotal sign-up page in a browser"`

	globals *GlobalFlags
	version string
}

// ServeCommand starts the local HTTP daemon for the browser extension.
type ServeCommand struct {
	Host string `long:"host" description:"Override listen host"`
	Port int    `long:"port" description:"Override daemon port"`

	globals *GlobalFlags
	version string
}

// PurgeCommand deletes all history, detections and sessions with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	in      io.Reader // confirmation input; nil means os.Stdin
}
