package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/skratchdot/open-golang/open"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/config"
)

// openURL opens a page in the user's browser; replaced in tests.
var openURL = open.Run

// Execute implements the go-flags Commander interface for APIKeyCommand.
func (c *APIKeyCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

func (c *APIKeyCommand) executeWithApp(a *app.App) error {
	ctx := context.Background()

	if c.Signup {
		signup := a.Config.VirusTotal.SignupURL
		if err := openURL(signup); err != nil {
			return fmt.Errorf("open %s: %w", signup, err)
		}
		if !jsonOutput(c.globals) {
			fmt.Printf("Opened %s\n", signup)
			fmt.Println("After signing up, copy the key from your VirusTotal profile and run `histscan apikey --set KEY`.")
		}
	}

	if key := strings.TrimSpace(c.Set); key != "" {
		if !a.Store.SaveAPIKey(ctx, key) {
			return fmt.Errorf("could not store API key: storage is unavailable (set %s instead)", config.EnvAPIKey)
		}
		if !jsonOutput(c.globals) {
			fmt.Println("VirusTotal API key saved.")
		}
	} else if c.Set != "" {
		return fmt.Errorf("--set requires a non-empty key")
	}

	key := a.APIKey(ctx)
	source := ""
	switch {
	case key == "":
	case a.Store.APIKey(ctx) == key:
		source = "stored"
	default:
		source = "environment"
	}

	if jsonOutput(c.globals) {
		return printJSON(map[string]interface{}{
			"configured": key != "",
			"source":     source,
			"key":        maskKey(key),
		})
	}
	if c.Set != "" || c.Signup {
		return nil
	}

	if key == "" {
		fmt.Println("No VirusTotal API key configured.")
		fmt.Println("Get a free key with `histscan apikey --signup`, then run `histscan apikey --set KEY`.")
		return nil
	}
	fmt.Printf("VirusTotal API key: %s (%s)\n", maskKey(key), source)
	return nil
}
