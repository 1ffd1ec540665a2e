package config

// DefaultExcludeMarkers returns the substrings that keep a URL out of a
// scan: the reputation service itself, browser-internal pages and loopback
// hosts.
func DefaultExcludeMarkers() []string {
	return []string{
		"virustotal.com",
		"virustotalcloud",
		"chrome://",
		"about:",
		"localhost",
		"127.0.0.1",
	}
}

// SupportedBrowsers lists the browser tags accepted on imported history.
func SupportedBrowsers() []string {
	return []string{"Google Chrome", "Brave", "Microsoft Edge"}
}
