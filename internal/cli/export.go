package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/runnerr0/histscan/internal/analysis"
	"github.com/runnerr0/histscan/internal/app"
)

// Execute implements the go-flags Commander interface for ExportCommand.
func (c *ExportCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

func (c *ExportCommand) executeWithApp(a *app.App) error {
	export := analysis.ExportDomains(a.Malicious(context.Background()), time.Now())

	if c.Out == "" {
		return printJSON(export)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := os.WriteFile(c.Out, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	if jsonOutput(c.globals) {
		return printJSON(map[string]interface{}{"path": c.Out, "count": export.Count})
	}
	fmt.Printf("Exported %d malicious domains to %s\n", export.Count, c.Out)
	return nil
}

// Execute implements the go-flags Commander interface for AnalyzeCommand.
func (c *AnalyzeCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

func (c *AnalyzeCommand) executeWithApp(a *app.App) error {
	if c.Top < 1 {
		return fmt.Errorf("--top must be at least 1")
	}
	sum := analysis.Summarize(a.History(context.Background()), c.Top)

	if jsonOutput(c.globals) {
		return printJSON(map[string]interface{}{
			"total_entries":      sum.TotalEntries,
			"unique_urls":        sum.UniqueURLs,
			"unique_domains":     sum.UniqueDomains,
			"top_domains":        sum.TopDomains,
			"most_frequent_urls": sum.MostFrequentURLs,
			"top_root_domains":   sum.TopRootDomains,
		})
	}

	if sum.TotalEntries == 0 {
		fmt.Println("No history entries to analyze.")
		return nil
	}

	fmt.Println("History Analysis")
	fmt.Println("================")
	fmt.Printf("Entries:        %s\n", formatNumber(int64(sum.TotalEntries)))
	fmt.Printf("Unique URLs:    %s\n", formatNumber(int64(sum.UniqueURLs)))
	fmt.Printf("Unique domains: %s\n", formatNumber(int64(sum.UniqueDomains)))

	fmt.Println()
	fmt.Println("Top Domains:")
	table := newTable("Domain", "Visits")
	for _, d := range sum.TopDomains {
		table.Append([]string{d.Domain, strconv.Itoa(d.Visits)})
	}
	table.Render()

	fmt.Println()
	fmt.Println("Top Sites:")
	table = newTable("Site", "Visits")
	for _, d := range sum.TopRootDomains {
		table.Append([]string{d.Domain, strconv.Itoa(d.Visits)})
	}
	table.Render()

	fmt.Println()
	fmt.Println("Most Frequent URLs:")
	table = newTable("URL", "Entries")
	for _, u := range sum.MostFrequentURLs {
		table.Append([]string{truncate(u.URL, 60), strconv.Itoa(u.Frequency)})
	}
	table.Render()
	return nil
}
