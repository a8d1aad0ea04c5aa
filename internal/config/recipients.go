package config

import (
	"fmt"
	"strings"
)

// ParseRecipients resolves notification recipients from NotificationsConfig.
// PerMonitor entries have the form "Monitor:addr1,addr2".
// Returns:
//   - map[monitor][]recipients: per-monitor overrides
//   - []string: recipients for monitors without an override
//   - error: if an entry is malformed
func ParseRecipients(cfg NotificationsConfig) (map[string][]string, []string, error) {
	perMonitor := make(map[string][]string)

	for _, entry := range cfg.PerMonitor {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("invalid recipient format: %s (expected 'Monitor:addr1,addr2')", entry)
		}

		monitor := strings.TrimSpace(parts[0])
		if monitor == "" {
			return nil, nil, fmt.Errorf("empty monitor name in recipients: %s", entry)
		}

		addrs := splitAddresses(parts[1])
		if len(addrs) == 0 {
			return nil, nil, fmt.Errorf("no recipients specified for monitor %s", monitor)
		}
		for _, a := range addrs {
			if !strings.Contains(a, "@") {
				return nil, nil, fmt.Errorf("invalid recipient %q for monitor %s", a, monitor)
			}
		}
		perMonitor[monitor] = addrs
	}

	var defaults []string
	for _, r := range cfg.Recipients {
		defaults = append(defaults, splitAddresses(r)...)
	}
	return perMonitor, defaults, nil
}

// RecipientsFor returns the recipients configured for monitor
func (cfg NotificationsConfig) RecipientsFor(monitor string) ([]string, error) {
	perMonitor, defaults, err := ParseRecipients(cfg)
	if err != nil {
		return nil, err
	}
	if r, ok := perMonitor[monitor]; ok {
		return r, nil
	}
	return defaults, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
