package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ternarybob/jobsift/internal/models"
)

// Currency symbols and codes recognized in salary text. A bare "$" falls
// back to the default currency supplied by the caller.
var currencyCodes = map[string]string{
	"cad": "CAD", "usd": "USD", "eur": "EUR", "gbp": "GBP",
	"c$": "CAD", "us$": "USD", "€": "EUR", "£": "GBP",
}

var (
	salaryNumberPattern = regexp.MustCompile(`(?i)\$?\s*([0-9]{1,3}(?:,[0-9]{3})+|[0-9]+(?:\.[0-9]+)?)\s*(k)?`)
	hourlyPattern       = regexp.MustCompile(`(?i)(per\s+hour|/\s*hour|/\s*hr|hourly|an\s+hour)`)
	annualPattern       = regexp.MustCompile(`(?i)(per\s+year|/\s*year|/\s*yr|annual|annually|per\s+annum|a\s+year)`)
)

// parseSalary extracts a salary range from provider free text. Formats seen
// in the wild: "$80,000 - $100,000 a year", "CAD 45.50/hour", "90k to 110k".
// Unparseable text yields an empty Salary; values are never guessed.
func parseSalary(text, defaultCurrency string) models.Salary {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Salary{}
	}

	salary := models.Salary{}

	lower := strings.ToLower(text)
	for token, iso := range currencyCodes {
		if strings.Contains(lower, token) {
			salary.Currency = iso
			break
		}
	}

	switch {
	case hourlyPattern.MatchString(text):
		salary.Period = models.SalaryHourly
	case annualPattern.MatchString(text):
		salary.Period = models.SalaryAnnual
	}

	values := parseSalaryNumbers(text)
	if len(values) == 0 {
		return models.Salary{}
	}

	salary.Low = values[0]
	if len(values) > 1 {
		salary.High = values[1]
	} else {
		salary.High = values[0]
	}
	if salary.Low > salary.High {
		salary.Low, salary.High = salary.High, salary.Low
	}

	if salary.Currency == "" {
		salary.Currency = defaultCurrency
	}
	if salary.Period == "" {
		// A figure under 1000 with no period marker is read as hourly
		if salary.High < 1000 {
			salary.Period = models.SalaryHourly
		} else {
			salary.Period = models.SalaryAnnual
		}
	}

	return salary
}

// parseSalaryNumbers returns up to two numeric values from the text,
// expanding "k" shorthand and dropping comma separators
func parseSalaryNumbers(text string) []float64 {
	matches := salaryNumberPattern.FindAllStringSubmatch(text, 3)

	values := make([]float64, 0, 2)
	for _, m := range matches {
		raw := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		values = append(values, v)
		if len(values) == 2 {
			break
		}
	}
	return values
}
