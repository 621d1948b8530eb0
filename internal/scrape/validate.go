package scrape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/portal"
)

var (
	prnRegex = regexp.MustCompile(`^[A-Z0-9]{8,20}$`)
	dobRegex = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})[-/](\d{4})$`)
)

// Validate normalizes a request into login credentials, the returned error is always a
// validation *Error.
func Validate(req Request, now time.Time) (portal.Credentials, error) {
	prn := strings.ToUpper(strings.TrimSpace(req.PRN))
	if prn == "" || strings.TrimSpace(req.DOB) == "" {
		return portal.Credentials{}, validationError("PRN and DOB are required")
	}
	if !prnRegex.MatchString(prn) {
		return portal.Credentials{}, validationError("Invalid PRN format")
	}

	match := dobRegex.FindStringSubmatch(strings.TrimSpace(req.DOB))
	if match == nil {
		return portal.Credentials{}, validationError("Invalid DOB format. Use DD-MM-YYYY")
	}
	day, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])
	if day < 1 || day > 31 {
		return portal.Credentials{}, validationError("Invalid day (must be 1-31)")
	}
	if month < 1 || month > 12 {
		return portal.Credentials{}, validationError("Invalid month (must be 1-12)")
	}
	if year < 1900 || year > now.Year() {
		return portal.Credentials{}, validationError(fmt.Sprintf("Invalid year (must be 1900-%d)", now.Year()))
	}

	return portal.Credentials{
		PRN:   prn,
		Day:   fmt.Sprintf("%02d", day),
		Month: fmt.Sprintf("%02d", month),
		Year:  match[3],
	}, nil
}

// CacheKey is where the result for creds is cached.
func CacheKey(creds portal.Credentials) string {
	return fmt.Sprintf("%s%s:%s-%s-%s", CachePrefix, creds.PRN, creds.Day, creds.Month, creds.Year)
}
