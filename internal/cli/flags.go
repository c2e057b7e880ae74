package cli

import (
	"fmt"
	"strings"
	"time"

	"groupe-e-consumption/internal/consumption"
)

// parseTimeFlag accepts a calendar day (midnight in Europe/Zurich) or an
// RFC3339 timestamp.
func parseTimeFlag(name, value string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, value, consumption.Location); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q: expected YYYY-MM-DD or RFC3339", name, value)
	}
	return t, nil
}

// parseResolutions expands "all" and comma separated resolution names.
func parseResolutions(values []string) ([]consumption.Resolution, error) {
	var out []consumption.Resolution
	seen := make(map[consumption.Resolution]bool)
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if part == "all" {
				for _, res := range consumption.Resolutions {
					if !seen[res] {
						seen[res] = true
						out = append(out, res)
					}
				}
				continue
			}
			res, err := consumption.ParseResolution(part)
			if err != nil {
				return nil, err
			}
			if !seen[res] {
				seen[res] = true
				out = append(out, res)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --resolution is required")
	}
	return out, nil
}
