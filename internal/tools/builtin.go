package tools

import (
	"context"
	"fmt"
	"time"
)

// BuiltinConfig tunes the always-available tools.
type BuiltinConfig struct {
	WebFetchMaxChars int
	WebSearchResults int
}

// RegisterBuiltins installs the always-available tools into the registry.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	builtins := []*Handle{
		CurrentTimeHandle(),
		NewWebFetchTool(WebFetchConfig{MaxChars: cfg.WebFetchMaxChars}).Handle(),
		NewWebSearchTool(WebSearchConfig{MaxResults: cfg.WebSearchResults}).Handle(),
	}
	for _, h := range builtins {
		if err := r.Register(h, false); err != nil {
			return err
		}
	}
	return nil
}

// CurrentTimeHandle returns the current_time tool: wall-clock time in a
// named IANA timezone or a well-known city.
func CurrentTimeHandle() *Handle {
	return &Handle{
		Name:        "current_time",
		Description: "Get the current date and time in a city or IANA timezone (e.g. \"Tokyo\", \"Europe/Paris\"). Defaults to UTC.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name or IANA timezone identifier.",
				},
			},
		},
		Source:  "builtin",
		Enabled: true,
		Invoke: func(ctx context.Context, args map[string]any) (string, error) {
			city, _ := args["city"].(string)
			loc := time.UTC
			if city != "" {
				resolved, err := resolveLocation(city)
				if err != nil {
					return "", fmt.Errorf("unknown timezone or city %q", city)
				}
				loc = resolved
			}
			return time.Now().In(loc).Format(time.RFC3339), nil
		},
	}
}

// cityZones maps common city names to IANA zones so the model can pass plain
// city names without knowing the IANA database.
var cityZones = map[string]string{
	"tokyo":         "Asia/Tokyo",
	"seoul":         "Asia/Seoul",
	"beijing":       "Asia/Shanghai",
	"shanghai":      "Asia/Shanghai",
	"singapore":     "Asia/Singapore",
	"sydney":        "Australia/Sydney",
	"london":        "Europe/London",
	"paris":         "Europe/Paris",
	"berlin":        "Europe/Berlin",
	"moscow":        "Europe/Moscow",
	"new york":      "America/New_York",
	"san francisco": "America/Los_Angeles",
	"los angeles":   "America/Los_Angeles",
	"chicago":       "America/Chicago",
	"sao paulo":     "America/Sao_Paulo",
	"dubai":         "Asia/Dubai",
	"mumbai":        "Asia/Kolkata",
	"delhi":         "Asia/Kolkata",
	"hanoi":         "Asia/Ho_Chi_Minh",
	"ho chi minh":   "Asia/Ho_Chi_Minh",
	"bangkok":       "Asia/Bangkok",
}

func resolveLocation(city string) (*time.Location, error) {
	if loc, err := time.LoadLocation(city); err == nil {
		return loc, nil
	}
	if zone, ok := cityZones[lower(city)]; ok {
		return time.LoadLocation(zone)
	}
	return nil, fmt.Errorf("unresolved location %q", city)
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
