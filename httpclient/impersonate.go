package httpclient

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bogdanfinn/tls-client/profiles"
)

// OS names accepted by WithImpersonateOS.
const (
	OSAndroid = "android"
	OSIOS     = "ios"
	OSLinux   = "linux"
	OSMacOS   = "macos"
	OSWindows = "windows"
)

// defaultOS is used when a target is set without an OS.
const defaultOS = OSMacOS

type browserFamily int

const (
	familyOther browserFamily = iota
	familyChrome
	familyEdge
	familyOpera
	familyFirefox
	familySafari
	familyOkHTTP
)

// impersonation is a resolved target/OS pair.
type impersonation struct {
	target  string // registry key
	os      string
	profile profiles.ClientProfile
	family  browserFamily
	version string // dotted version, e.g. "131" or "15.6.1"
}

// targetIndex maps lower-cased registry keys to the engine's own keys.
var targetIndex = sync.OnceValue(func() map[string]string {
	idx := make(map[string]string, len(profiles.MappedTLSClients))
	for key := range profiles.MappedTLSClients {
		idx[strings.ToLower(key)] = key
	}
	return idx
})

// Targets lists every accepted impersonation target, sorted.
func Targets() []string {
	idx := targetIndex()
	out := make([]string, 0, len(idx))
	for _, key := range idx {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// normalizeTarget folds the spellings people use for a target onto
// registry form: "Chrome-131" and "safari 15.6.1" become "chrome_131" and
// "safari_15_6_1".
func normalizeTarget(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(s)
}

// lookupTarget resolves a target name, accepting bare family names
// ("chrome", "firefox") as the newest registered version of that family.
func lookupTarget(name string) (string, bool) {
	idx := targetIndex()
	norm := normalizeTarget(name)
	if key, ok := idx[norm]; ok {
		return key, true
	}

	best, bestVersion := "", -1
	for lower, key := range idx {
		rest, ok := strings.CutPrefix(lower, norm+"_")
		if !ok {
			continue
		}
		head, _, _ := strings.Cut(rest, "_")
		v, err := strconv.Atoi(head)
		if err != nil {
			continue
		}
		if v > bestVersion || (v == bestVersion && lower < strings.ToLower(best)) {
			best, bestVersion = key, v
		}
	}
	return best, best != ""
}

// parseOS validates an OS name. The empty string means "not set".
func parseOS(name string) (string, error) {
	switch os := strings.ToLower(strings.TrimSpace(name)); os {
	case "":
		return "", nil
	case OSAndroid, OSIOS, OSLinux, OSMacOS, OSWindows:
		return os, nil
	}
	return "", configError("impersonate os", fmt.Errorf("%w: %q", ErrUnknownOS, name))
}

// resolveImpersonation validates a target and OS. A nil result with a nil
// error means no impersonation was requested.
func resolveImpersonation(target, osName string) (*impersonation, error) {
	os, err := parseOS(osName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(target) == "" {
		return nil, nil
	}

	key, ok := lookupTarget(target)
	if !ok {
		return nil, configError("impersonate", fmt.Errorf("%w: %q", ErrUnknownImpersonate, target))
	}

	family, version := parseTargetKey(key)
	if os == "" {
		os = impliedOS(key)
	}

	return &impersonation{
		target:  key,
		os:      os,
		profile: profiles.MappedTLSClients[key],
		family:  family,
		version: version,
	}, nil
}

// name returns the resolved profile key, empty for a nil impersonation.
func (imp *impersonation) name() string {
	if imp == nil {
		return ""
	}
	return imp.target
}

// impliedOS picks the OS a registry key already names, else defaultOS.
func impliedOS(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "_ios") || strings.Contains(lower, "_ipad"):
		return OSIOS
	case strings.Contains(lower, "android"):
		return OSAndroid
	}
	return defaultOS
}

// parseTargetKey splits a registry key into family and dotted version.
func parseTargetKey(key string) (browserFamily, string) {
	parts := strings.Split(strings.ToLower(key), "_")

	family := familyOther
	switch {
	case parts[0] == "chrome":
		family = familyChrome
	case parts[0] == "edge":
		family = familyEdge
	case parts[0] == "opera":
		family = familyOpera
	case parts[0] == "firefox":
		family = familyFirefox
	case parts[0] == "safari":
		family = familySafari
	case strings.HasPrefix(parts[0], "okhttp"):
		family = familyOkHTTP
	}

	var version []string
	for _, p := range parts[1:] {
		if _, err := strconv.Atoi(p); err != nil {
			if len(version) > 0 {
				break
			}
			continue
		}
		version = append(version, p)
	}
	return family, strings.Join(version, ".")
}

// defaultHeaders returns the navigation headers the impersonated browser
// sends, in its own order.
func (imp *impersonation) defaultHeaders() Headers {
	if imp == nil {
		return nil
	}

	major := imp.version
	if i := strings.IndexByte(major, '.'); i >= 0 {
		major = major[:i]
	}
	mobile := imp.os == OSAndroid || imp.os == OSIOS

	switch imp.family {
	case familyChrome, familyEdge, familyOpera:
		brand := "Google Chrome"
		switch imp.family {
		case familyEdge:
			brand = "Microsoft Edge"
		case familyOpera:
			brand = "Opera"
		}
		mobileHint := "?0"
		if mobile {
			mobileHint = "?1"
		}
		return NewHeaders(
			"sec-ch-ua", fmt.Sprintf(`"Chromium";v="%s", "Not_A Brand";v="24", "%s";v="%s"`, major, brand, major),
			"sec-ch-ua-mobile", mobileHint,
			"sec-ch-ua-platform", `"`+platformHint(imp.os)+`"`,
			"upgrade-insecure-requests", "1",
			"user-agent", chromiumUserAgent(imp.family, imp.os, major),
			"accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
			"sec-fetch-site", "none",
			"sec-fetch-mode", "navigate",
			"sec-fetch-user", "?1",
			"sec-fetch-dest", "document",
			"accept-encoding", "gzip, deflate, br, zstd",
			"accept-language", "en-US,en;q=0.9",
			"priority", "u=0, i",
		)

	case familyFirefox:
		return NewHeaders(
			"user-agent", firefoxUserAgent(imp.os, major),
			"accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"accept-language", "en-US,en;q=0.5",
			"accept-encoding", "gzip, deflate, br, zstd",
			"upgrade-insecure-requests", "1",
			"sec-fetch-dest", "document",
			"sec-fetch-mode", "navigate",
			"sec-fetch-site", "none",
			"sec-fetch-user", "?1",
			"priority", "u=0, i",
			"te", "trailers",
		)

	case familySafari:
		return NewHeaders(
			"accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"sec-fetch-site", "none",
			"accept-encoding", "gzip, deflate, br",
			"sec-fetch-mode", "navigate",
			"user-agent", safariUserAgent(imp.os, imp.version),
			"accept-language", "en-US,en;q=0.9",
			"sec-fetch-dest", "document",
		)

	case familyOkHTTP:
		return NewHeaders(
			"user-agent", "okhttp/4.12.0",
			"accept-encoding", "gzip",
		)
	}

	return nil
}

func platformHint(os string) string {
	switch os {
	case OSAndroid:
		return "Android"
	case OSIOS:
		return "iOS"
	case OSLinux:
		return "Linux"
	case OSWindows:
		return "Windows"
	}
	return "macOS"
}

func chromiumUserAgent(family browserFamily, os, major string) string {
	var ua string
	switch os {
	case OSWindows:
		ua = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + major + ".0.0.0 Safari/537.36"
	case OSLinux:
		ua = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + major + ".0.0.0 Safari/537.36"
	case OSAndroid:
		ua = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + major + ".0.0.0 Mobile Safari/537.36"
	case OSIOS:
		return "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/" + major + ".0.0.0 Mobile/15E148 Safari/604.1"
	default:
		ua = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + major + ".0.0.0 Safari/537.36"
	}

	switch family {
	case familyEdge:
		ua += " Edg/" + major + ".0.0.0"
	case familyOpera:
		ua += " OPR/" + major + ".0.0.0"
	}
	return ua
}

func firefoxUserAgent(os, major string) string {
	switch os {
	case OSWindows:
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:" + major + ".0) Gecko/20100101 Firefox/" + major + ".0"
	case OSLinux:
		return "Mozilla/5.0 (X11; Linux x86_64; rv:" + major + ".0) Gecko/20100101 Firefox/" + major + ".0"
	case OSAndroid:
		return "Mozilla/5.0 (Android 14; Mobile; rv:" + major + ".0) Gecko/" + major + ".0 Firefox/" + major + ".0"
	case OSIOS:
		return "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) FxiOS/" + major + ".0 Mobile/15E148 Safari/605.1.15"
	}
	return "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:" + major + ".0) Gecko/20100101 Firefox/" + major + ".0"
}

func safariUserAgent(os, version string) string {
	if version == "" {
		version = "17.0"
	}
	if os == OSIOS {
		return "Mozilla/5.0 (iPhone; CPU iPhone OS " + strings.ReplaceAll(version, ".", "_") +
			" like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/" + version + " Mobile/15E148 Safari/604.1"
	}
	return "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/" +
		version + " Safari/605.1.15"
}
