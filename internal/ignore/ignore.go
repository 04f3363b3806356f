// Package ignore loads and checks the known-device allowlists. Devices
// and networks on the lists are excluded from tracking and alerting so
// that the operator's own gear never trips a reappearance alert.
package ignore

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Lists holds the ignored MAC addresses and SSIDs. MAC matching is
// case-insensitive; SSID matching is exact. The zero value ignores
// nothing and is safe to use.
type Lists struct {
	macs  map[string]struct{}
	ssids map[string]struct{}
}

type listsFile struct {
	IgnoredMACs  []string `json:"ignored_macs"`
	IgnoredSSIDs []string `json:"ignored_ssids"`
}

// Load reads the ignore lists from a JSON file. A missing file yields
// empty lists rather than an error, since a fresh deployment has nothing
// to ignore yet. Malformed MAC entries are skipped with a warning.
func Load(path string, logger *zap.Logger) (*Lists, error) {
	l := &Lists{
		macs:  make(map[string]struct{}),
		ssids: make(map[string]struct{}),
	}
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("ignore list not found, starting empty", zap.String("path", path))
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ignore list: %w", err)
	}

	var f listsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ignore list: %w", err)
	}

	for _, mac := range f.IgnoredMACs {
		if !macPattern.MatchString(mac) {
			logger.Warn("skipping invalid MAC in ignore list", zap.String("mac", mac))
			continue
		}
		l.macs[strings.ToUpper(mac)] = struct{}{}
	}
	for _, ssid := range f.IgnoredSSIDs {
		l.ssids[ssid] = struct{}{}
	}

	logger.Info("loaded ignore lists",
		zap.String("path", path),
		zap.Int("macs", len(l.macs)),
		zap.Int("ssids", len(l.ssids)),
	)
	return l, nil
}

// IgnoredMAC reports whether the MAC is on the ignore list, regardless
// of case.
func (l *Lists) IgnoredMAC(mac string) bool {
	if l == nil || l.macs == nil {
		return false
	}
	_, ok := l.macs[strings.ToUpper(mac)]
	return ok
}

// IgnoredSSID reports whether the SSID is on the ignore list. Matching
// is exact, SSIDs are case-sensitive identifiers.
func (l *Lists) IgnoredSSID(ssid string) bool {
	if l == nil || l.ssids == nil {
		return false
	}
	_, ok := l.ssids[ssid]
	return ok
}

// Empty reports whether both lists are empty.
func (l *Lists) Empty() bool {
	return l == nil || (len(l.macs) == 0 && len(l.ssids) == 0)
}

// Counts returns the number of ignored MACs and SSIDs.
func (l *Lists) Counts() (macs, ssids int) {
	if l == nil {
		return 0, 0
	}
	return len(l.macs), len(l.ssids)
}
