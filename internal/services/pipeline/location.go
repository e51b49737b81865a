package pipeline

import (
	"strings"

	"github.com/ternarybob/jobsift/internal/models"
)

var countryNames = map[string]string{
	"canada": "Canada", "ca": "Canada",
	"usa": "United States", "us": "United States", "united states": "United States",
}

// parseLocation splits comma-separated location text into components using
// the configured province table. Components that do not resolve stay where
// they were found; nothing is guessed.
func parseLocation(text string, provinces map[string]string) models.Location {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Location{}
	}

	// Build a reverse index so full province names resolve too
	fullNames := make(map[string]string, len(provinces))
	for abbr, full := range provinces {
		fullNames[strings.ToLower(full)] = full
		fullNames[strings.ToLower(abbr)] = full
	}

	loc := models.Location{}
	var leftover []string

	parts := strings.Split(text, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := strings.ToLower(part)

		if full, ok := fullNames[key]; ok && loc.Province == "" {
			loc.Province = full
			continue
		}
		if country, ok := countryNames[key]; ok && loc.Country == "" {
			loc.Country = country
			continue
		}
		leftover = append(leftover, part)
	}

	// The last unresolved part is the city; anything before it is street
	// address detail
	if len(leftover) > 0 {
		loc.City = leftover[len(leftover)-1]
		if len(leftover) > 1 {
			loc.StreetAddress = strings.Join(leftover[:len(leftover)-1], ", ")
		}
	}

	// A recognized Canadian province implies the country
	if loc.Country == "" && loc.Province != "" {
		loc.Country = "Canada"
	}

	return loc
}

// parseArrangement maps provider arrangement text onto the known values,
// falling back to unknown rather than guessing
func parseArrangement(text string) models.WorkArrangement {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "remote", "fully remote", "work from home", "wfh", "telecommute":
		return models.WorkRemote
	case "hybrid", "hybrid remote", "partially remote":
		return models.WorkHybrid
	case "onsite", "on-site", "on site", "in office", "in-office", "in person", "in-person":
		return models.WorkOnsite
	default:
		return models.WorkUnknown
	}
}
