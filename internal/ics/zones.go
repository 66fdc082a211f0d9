package ics

import (
	"strings"
	"sync"
	"time"
)

// legacyZones maps Windows/Outlook zone names found in TZID parameters onto
// IANA names (CLDR windowsZones, territory 001). Names missing from the
// table pass through unchanged; that is a known limitation for feeds that
// ship bespoke VTIMEZONE definitions under invented names.
var legacyZones = map[string]string{
	"Dateline Standard Time":          "Etc/GMT+12",
	"UTC-11":                          "Etc/GMT+11",
	"Hawaiian Standard Time":          "Pacific/Honolulu",
	"Alaskan Standard Time":           "America/Anchorage",
	"Pacific Standard Time":           "America/Los_Angeles",
	"Pacific Standard Time (Mexico)":  "America/Tijuana",
	"US Mountain Standard Time":       "America/Phoenix",
	"Mountain Standard Time":          "America/Denver",
	"Central America Standard Time":   "America/Guatemala",
	"Central Standard Time":           "America/Chicago",
	"Central Standard Time (Mexico)":  "America/Mexico_City",
	"Canada Central Standard Time":    "America/Regina",
	"SA Pacific Standard Time":        "America/Bogota",
	"Eastern Standard Time":           "America/New_York",
	"US Eastern Standard Time":        "America/Indiana/Indianapolis",
	"Venezuela Standard Time":         "America/Caracas",
	"Atlantic Standard Time":          "America/Halifax",
	"SA Western Standard Time":        "America/La_Paz",
	"Pacific SA Standard Time":        "America/Santiago",
	"Newfoundland Standard Time":      "America/St_Johns",
	"E. South America Standard Time":  "America/Sao_Paulo",
	"Argentina Standard Time":         "America/Argentina/Buenos_Aires",
	"SA Eastern Standard Time":        "America/Cayenne",
	"Greenland Standard Time":         "America/Godthab",
	"Azores Standard Time":            "Atlantic/Azores",
	"Cape Verde Standard Time":        "Atlantic/Cape_Verde",
	"UTC":                             "UTC",
	"Coordinated Universal Time":      "UTC",
	"GMT Standard Time":               "Europe/London",
	"Greenwich Standard Time":         "Atlantic/Reykjavik",
	"W. Europe Standard Time":         "Europe/Berlin",
	"Central Europe Standard Time":    "Europe/Budapest",
	"Romance Standard Time":           "Europe/Paris",
	"Central European Standard Time":  "Europe/Warsaw",
	"W. Central Africa Standard Time": "Africa/Lagos",
	"GTB Standard Time":               "Europe/Bucharest",
	"E. Europe Standard Time":         "Europe/Chisinau",
	"Egypt Standard Time":             "Africa/Cairo",
	"FLE Standard Time":               "Europe/Kiev",
	"Israel Standard Time":            "Asia/Jerusalem",
	"South Africa Standard Time":      "Africa/Johannesburg",
	"Russian Standard Time":           "Europe/Moscow",
	"Arab Standard Time":              "Asia/Riyadh",
	"Arabic Standard Time":            "Asia/Baghdad",
	"E. Africa Standard Time":         "Africa/Nairobi",
	"Iran Standard Time":              "Asia/Tehran",
	"Arabian Standard Time":           "Asia/Dubai",
	"Turkey Standard Time":            "Europe/Istanbul",
	"Pakistan Standard Time":          "Asia/Karachi",
	"India Standard Time":             "Asia/Kolkata",
	"Nepal Standard Time":             "Asia/Kathmandu",
	"Bangladesh Standard Time":        "Asia/Dhaka",
	"SE Asia Standard Time":           "Asia/Bangkok",
	"China Standard Time":             "Asia/Shanghai",
	"Singapore Standard Time":         "Asia/Singapore",
	"Taipei Standard Time":            "Asia/Taipei",
	"W. Australia Standard Time":      "Australia/Perth",
	"Tokyo Standard Time":             "Asia/Tokyo",
	"Korea Standard Time":             "Asia/Seoul",
	"Cen. Australia Standard Time":    "Australia/Adelaide",
	"AUS Central Standard Time":       "Australia/Darwin",
	"E. Australia Standard Time":      "Australia/Brisbane",
	"AUS Eastern Standard Time":       "Australia/Sydney",
	"Tasmania Standard Time":          "Australia/Hobart",
	"West Pacific Standard Time":      "Pacific/Port_Moresby",
	"New Zealand Standard Time":       "Pacific/Auckland",
	"Fiji Standard Time":              "Pacific/Fiji",
	"Tonga Standard Time":             "Pacific/Tongatapu",

	// Outlook display names.
	"(UTC) Coordinated Universal Time":                            "UTC",
	"(UTC-08:00) Pacific Time (US & Canada)":                      "America/Los_Angeles",
	"(UTC-07:00) Mountain Time (US & Canada)":                     "America/Denver",
	"(UTC-06:00) Central Time (US & Canada)":                      "America/Chicago",
	"(UTC-05:00) Eastern Time (US & Canada)":                      "America/New_York",
	"(UTC+00:00) Dublin, Edinburgh, Lisbon, London":               "Europe/London",
	"(UTC+01:00) Amsterdam, Berlin, Bern, Rome, Stockholm, Vienna": "Europe/Berlin",
	"(UTC+01:00) Brussels, Copenhagen, Madrid, Paris":             "Europe/Paris",
	"(UTC+05:30) Chennai, Kolkata, Mumbai, New Delhi":             "Asia/Kolkata",
	"(UTC+09:00) Osaka, Sapporo, Tokyo":                           "Asia/Tokyo",
	"(UTC+10:00) Canberra, Melbourne, Sydney":                     "Australia/Sydney",
}

var legacyZonesFolded = func() map[string]string {
	m := make(map[string]string, len(legacyZones))
	for k, v := range legacyZones {
		m[strings.ToLower(k)] = v
	}
	return m
}()

// MapLegacyZone translates a legacy zone name to its IANA equivalent.
// Unknown names are returned unchanged.
func MapLegacyZone(name string) string {
	if v, ok := legacyZones[name]; ok {
		return v
	}
	if v, ok := legacyZonesFolded[strings.ToLower(name)]; ok {
		return v
	}
	return name
}

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

// loadLocation is time.LoadLocation with a process-wide cache; failures
// are cached as nil.
func loadLocation(name string) *time.Location {
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = nil
	}
	locCache[name] = loc
	return loc
}

// cleanTZID strips quoting and the "/vendor/version/Region/City" prefix
// form some producers emit.
func cleanTZID(tzid string) string {
	tzid = strings.TrimSpace(strings.Trim(strings.TrimSpace(tzid), `"`))
	if !strings.HasPrefix(tzid, "/") {
		return tzid
	}
	parts := strings.Split(strings.Trim(tzid, "/"), "/")
	for i := range parts {
		candidate := strings.Join(parts[i:], "/")
		if loadLocation(candidate) != nil {
			return candidate
		}
	}
	return strings.Trim(tzid, "/")
}

// ResolveZone turns a TZID parameter into a location. It returns the
// mapped zone name alongside; when the name cannot be loaded the fallback
// location is returned with that name.
func ResolveZone(tzid string, fallback *time.Location) (*time.Location, string) {
	if fallback == nil {
		fallback = time.UTC
	}
	name := MapLegacyZone(cleanTZID(tzid))
	if name == "" {
		return fallback, fallback.String()
	}
	if loc := loadLocation(name); loc != nil {
		return loc, name
	}
	return fallback, name
}
