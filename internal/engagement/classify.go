package engagement

import (
	"strings"

	"github.com/mssola/useragent"
)

func parseBrowser(ua string) string {
	if ua == "" {
		return "Other"
	}
	if strings.Contains(ua, "Edg/") {
		return "Edge"
	}
	name, _ := useragent.New(ua).Browser()
	switch name {
	case "Chrome", "Safari", "Firefox", "Edge", "Opera":
		return name
	default:
		return "Other"
	}
}

func parseDevice(ua string) string {
	if ua == "" {
		return "Desktop"
	}
	parsed := useragent.New(ua)
	switch {
	case parsed.Bot():
		return "Bot"
	case strings.Contains(ua, "iPad"),
		strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"):
		return "Tablet"
	case parsed.Mobile():
		return "Mobile"
	default:
		return "Desktop"
	}
}
