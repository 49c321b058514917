package blocklist

import (
	"strings"
)

// Parse returns the normalized domains of a blocklist. Blank lines and lines
// starting with # are skipped. Hosts file lines ("0.0.0.0 ads.example.com")
// contribute their host name.
func Parse(data string) []string {
	var domains []string

	for line := range strings.Lines(data) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		entry := fields[0]
		if len(fields) > 1 && !strings.HasPrefix(fields[1], "#") {
			entry = fields[1]
		}

		entry = strings.TrimSuffix(strings.ToLower(entry), ".")
		if entry == "" {
			continue
		}

		domains = append(domains, entry)
	}

	return domains
}
