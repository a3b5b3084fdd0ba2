package vendorhttp

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CheckBaseURL validates a configured base URL. Structural problems are returned as err;
// a host outside the vendor's registrable domain is only a warning, since sandboxes and
// regional proxies are legitimate.
func CheckBaseURL(raw, vendorDomain string) (warning string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("base_url %q is not a valid URL", raw)
	}
	switch u.Scheme {
	case "https":
	case "http":
		warning = "base_url uses plain http; credentials will be sent unencrypted"
	default:
		return "", fmt.Errorf("base_url scheme %q is not supported", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasPrefix(host, "127.") || vendorDomain == "" {
		return warning, nil
	}
	registrable, perr := publicsuffix.EffectiveTLDPlusOne(host)
	if perr != nil || registrable != vendorDomain {
		msg := fmt.Sprintf("base_url host %q is outside %s", host, vendorDomain)
		if warning != "" {
			msg = warning + "; " + msg
		}
		return msg, nil
	}
	return warning, nil
}
