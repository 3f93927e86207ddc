package services

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mileusna/useragent"

	"chat-server/models"
)

// BuildDeviceInfo parses a user-agent string into the stored device
// descriptor. The fingerprint hashes browser+OS+language and excludes the IP
// so device recognition survives network changes.
func BuildDeviceInfo(userAgent, language string) models.DeviceInfo {
	ua := useragent.Parse(userAgent)

	class := models.DeviceUnknown
	switch {
	case ua.Mobile:
		class = models.DeviceMobile
	case ua.Tablet:
		class = models.DeviceTablet
	case ua.Desktop:
		class = models.DeviceDesktop
	}

	info := models.DeviceInfo{
		UserAgent:      userAgent,
		BrowserName:    ua.Name,
		BrowserVersion: ua.Version,
		OSName:         ua.OS,
		OSVersion:      ua.OSVersion,
		DeviceClass:    class,
		Language:       language,
	}
	info.Fingerprint = Fingerprint(info)
	return info
}

// Fingerprint derives the stable device hash from the descriptor
func Fingerprint(d models.DeviceInfo) string {
	h := sha256.New()
	h.Write([]byte(d.BrowserName))
	h.Write([]byte{0})
	h.Write([]byte(d.OSName))
	h.Write([]byte{0})
	h.Write([]byte(d.Language))
	return hex.EncodeToString(h.Sum(nil))
}
