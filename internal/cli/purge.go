package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/histscan/internal/app"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}
	if err := c.confirm(); err != nil {
		return err
	}
	return withApp(c.globals, c.executeWithApp)
}

// confirm asks for the typed confirmation unless --force is set.
func (c *PurgeCommand) confirm() error {
	if c.Force {
		return nil
	}

	fmt.Println("⚠ WARNING: This will permanently delete ALL histscan data.")
	fmt.Println("  - All imported history entries")
	fmt.Println("  - All malicious URL records")
	fmt.Println("  - All scan sessions and verdicts")
	fmt.Println()
	fmt.Println("Your VirusTotal API key is kept. This action cannot be undone.")
	fmt.Println()
	fmt.Print(`Type "PURGE" to confirm: `)

	var in io.Reader = os.Stdin
	if c.in != nil {
		in = c.in
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	input := strings.TrimSpace(scanner.Text())
	if input != "PURGE" {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}

// executeWithApp purges the provided app's store (for testing).
func (c *PurgeCommand) executeWithApp(a *app.App) error {
	if !a.Store.Available() {
		return fmt.Errorf("purge failed: storage is unavailable")
	}
	if err := a.Store.PurgeAll(context.Background()); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if jsonOutput(c.globals) {
		out := map[string]interface{}{
			"purged":  true,
			"message": "all scan data deleted, settings kept",
		}
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(out)
	}

	fmt.Println("Purged all data. histscan is empty; the API key was kept.")
	return nil
}
