package browser

import (
	"math/rand"

	"github.com/nomadbarefoot/surf/internal/types"
)

// Profile is one user-agent/device identity drawn for a session when the
// user config does not pin a user agent. Platform feeds the CDP user-agent
// override so navigator.platform stays consistent with the UA string.
type Profile struct {
	Category  string
	UserAgent string
	Platform  string
	Mobile    bool
}

var profilePool = map[string][]Profile{
	"windows_chrome": {
		{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Platform: "Win32"},
		{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36", Platform: "Win32"},
		{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36", Platform: "Win32"},
		{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36", Platform: "Win32"},
	},
	"mac_chrome": {
		{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Platform: "MacIntel"},
		{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36", Platform: "MacIntel"},
		{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_14_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Platform: "MacIntel"},
	},
	"linux_chrome": {
		{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Platform: "Linux x86_64"},
		{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36", Platform: "Linux x86_64"},
	},
	"windows_firefox": {
		{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0", Platform: "Win32"},
		{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0", Platform: "Win32"},
	},
	"mac_safari": {
		{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", Platform: "MacIntel"},
		{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15", Platform: "MacIntel"},
	},
	"mobile_chrome": {
		{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1.2 Mobile/15E148 Safari/604.1", Platform: "iPhone", Mobile: true},
		{UserAgent: "Mozilla/5.0 (Linux; Android 14; SM-G998B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", Platform: "Linux armv8l", Mobile: true},
	},
}

// desktopChromeCategories back the chromium browser kind, which is what the
// shared process actually runs.
var desktopChromeCategories = []string{"windows_chrome", "mac_chrome", "linux_chrome"}

// RandomProfile draws a uniformly random category, then a profile within it.
func RandomProfile() Profile {
	cats := make([]string, 0, len(profilePool))
	for c := range profilePool {
		cats = append(cats, c)
	}
	return randomFromCategory(cats[rand.Intn(len(cats))])
}

// ProfileForKind draws a profile matching the requested browser kind.
// Firefox and webkit kinds get user agents from those families even though
// the underlying engine stays chromium.
func ProfileForKind(kind string) Profile {
	switch kind {
	case types.BrowserFirefox:
		return randomFromCategory("windows_firefox")
	case types.BrowserWebkit:
		return randomFromCategory("mac_safari")
	default:
		return randomFromCategory(desktopChromeCategories[rand.Intn(len(desktopChromeCategories))])
	}
}

func randomFromCategory(category string) Profile {
	profiles := profilePool[category]
	p := profiles[rand.Intn(len(profiles))]
	p.Category = category
	return p
}

var commonViewports = []types.Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 1536, Height: 864},
	{Width: 1280, Height: 720},
	{Width: 1600, Height: 900},
	{Width: 1024, Height: 768},
}

// RandomViewport picks one of the common desktop resolutions.
func RandomViewport() types.Viewport {
	return commonViewports[rand.Intn(len(commonViewports))]
}
