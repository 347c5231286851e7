package counter

import "strings"

// DefaultPrefix namespaces every key the ledger writes.
const DefaultPrefix = "vote"

// Keys builds fast-store key names under one prefix.
type Keys struct {
	Prefix string
}

func (k Keys) join(parts ...string) string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// Counter is the per-app vote counter for the current window.
func (k Keys) Counter(appID string) string {
	return k.join("tool", appID, "total")
}

// Marker records that voterID has voted for appID.
func (k Keys) Marker(voterID, appID string) string {
	return k.join("user", voterID, "tool", appID)
}

// MarkerPattern matches every voter marker for appID.
func (k Keys) MarkerPattern(appID string) string {
	return k.join("user", "*", "tool", appID)
}

// Eligible is the set of app ids that may receive votes.
func (k Keys) Eligible() string {
	return k.join("launch", "apps")
}

func (k Keys) FlushLock(date string) string {
	return k.join("lock", "flush", date)
}
