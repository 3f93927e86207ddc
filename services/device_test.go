package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chat-server/models"
)

const chromeMacUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
const safariIPhoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

func TestBuildDeviceInfoParsesBrowserAndOS(t *testing.T) {
	info := BuildDeviceInfo(chromeMacUA, "en-US")

	assert.Equal(t, "Chrome", info.BrowserName)
	assert.Equal(t, "macOS", info.OSName)
	assert.Equal(t, models.DeviceDesktop, info.DeviceClass)
	assert.Equal(t, "en-US", info.Language)
	assert.Len(t, info.Fingerprint, 64)
}

func TestFingerprintStableAcrossPatchVersions(t *testing.T) {
	a := BuildDeviceInfo(chromeMacUA, "en-US")
	b := a
	b.BrowserVersion = "121.0.0.0"
	b.OSVersion = "14.2"

	assert.Equal(t, Fingerprint(a), Fingerprint(b),
		"version churn must not look like a new device")
}

func TestFingerprintDistinguishesDevices(t *testing.T) {
	desktop := BuildDeviceInfo(chromeMacUA, "en-US")
	phone := BuildDeviceInfo(safariIPhoneUA, "en-US")
	otherLocale := BuildDeviceInfo(chromeMacUA, "de-DE")

	assert.NotEqual(t, desktop.Fingerprint, phone.Fingerprint)
	assert.NotEqual(t, desktop.Fingerprint, otherLocale.Fingerprint)
}
