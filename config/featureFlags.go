package config

import (
	"os"
	"strings"
)

// RegionalSyncEnabled controls whether the periodic reconciliation loop is started.
// Read endpoints stay available when it is off; the manual trigger answers 503.
//
// Set via env:
// - REGIONAL_SYNC_ENABLED=false
func RegionalSyncEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("REGIONAL_SYNC_ENABLED")))
	return !(v == "0" || v == "false" || v == "no" || v == "n")
}

// AllowEmptyExternalPayload lets a successful fetch with zero valid names deactivate every
// active regional. Off by default: an empty list from the source is treated as "no data".
//
// Set via env:
// - REGIONAL_SYNC_ALLOW_EMPTY=true
func AllowEmptyExternalPayload() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("REGIONAL_SYNC_ALLOW_EMPTY")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
