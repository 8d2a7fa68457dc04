package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/mileusna/useragent"
)

// Fingerprint derives a stable device identifier from the client's
// user agent and accept headers. It intentionally excludes the IP address so
// the same device keeps its ID across networks.
func Fingerprint(client models.ClientContext) string {
	h := sha256.New()
	h.Write([]byte(client.UserAgent))
	h.Write([]byte{0})
	h.Write([]byte(client.AcceptHeaders))
	h.Write([]byte{0})
	h.Write([]byte(client.AcceptLanguage))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// DescribeDevice turns a raw user-agent string into a short human-readable
// descriptor for the session list, e.g. "Chrome on macOS".
func DescribeDevice(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown device"
	}

	ua := useragent.Parse(userAgent)
	if ua.Name == "" {
		return "Unknown device"
	}
	if ua.OS == "" {
		return ua.Name
	}
	return ua.Name + " on " + ua.OS
}
