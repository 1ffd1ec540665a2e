package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status    *StatusCommand
	Import    *ImportCommand
	Pull      *PullCommand
	Add       *AddCommand
	History   *HistoryCommand
	Scan      *ScanCommand
	Malicious *MaliciousCommand
	Sessions  *SessionsCommand
	Export    *ExportCommand
	Analyze   *AnalyzeCommand
	APIKey    *APIKeyCommand
	Serve     *ServeCommand
	Purge     *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "histscan"
	parser.LongDescription = "Collect browser history and check visited URLs against VirusTotal."

	cmds := &commands{
		Status:    &StatusCommand{globals: &globals, version: version},
		Import:    &ImportCommand{globals: &globals, version: version},
		Pull:      &PullCommand{globals: &globals, version: version},
		Add:       &AddCommand{globals: &globals, version: version},
		History:   &HistoryCommand{globals: &globals, version: version},
		Scan:      &ScanCommand{globals: &globals, version: version},
		Malicious: &MaliciousCommand{globals: &globals, version: version},
		Sessions:  &SessionsCommand{globals: &globals, version: version},
		Export:    &ExportCommand{globals: &globals, version: version},
		Analyze:   &AnalyzeCommand{globals: &globals, version: version},
		APIKey:    &APIKeyCommand{globals: &globals, version: version},
		Serve:     &ServeCommand{globals: &globals, version: version},
		Purge:     &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show storage and daemon status", "Show storage mode, collection counts, API key and daemon state.", cmds.Status)
	parser.AddCommand("import", "Import a history file", "Import browser history from a CSV, JSON or Chromium History database file.", cmds.Import)
	parser.AddCommand("pull", "Read the local browser history", "Copy and read the history database of a local Chromium-based browser profile.", cmds.Pull)
	parser.AddCommand("add", "Record a single URL", "Manually record a single URL in the history store.", cmds.Add)
	parser.AddCommand("history", "List stored history", "List stored history entries, optionally filtered by keyword, domain, browser or age.", cmds.History)
	parser.AddCommand("scan", "Scan history with VirusTotal", "Check the most recent history URLs against VirusTotal within the free-tier quota.", cmds.Scan)
	parser.AddCommand("malicious", "List flagged URLs", "List URLs that VirusTotal reported as malicious.", cmds.Malicious)
	parser.AddCommand("sessions", "List scan sessions", "List past scan sessions, or show one session's verdicts with --id.", cmds.Sessions)
	parser.AddCommand("export", "Export malicious domains", "Export the malicious domain list as JSON for blockers and extensions.", cmds.Export)
	parser.AddCommand("analyze", "Summarize stored history", "Summarize stored history: unique URLs and domains, top domains and most frequent URLs.", cmds.Analyze)
	parser.AddCommand("apikey", "Manage the VirusTotal API key", "Show, store or obtain the VirusTotal API key.", cmds.APIKey)
	parser.AddCommand("serve", "Start the histscan daemon", "Start the local HTTP service used by the browser extension.", cmds.Serve)
	parser.AddCommand("purge", "Delete ALL scan data", "Delete all history, detections and sessions. The API key is kept. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the histscan CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("histscan %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
