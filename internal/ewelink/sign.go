package ewelink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Sign computes the HMAC-SHA256 signature of message keyed by the app
// secret and returns it base64-encoded, as expected in the
// "Authorization: Sign ..." header.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignCredentials signs the "{appid}_{timestamp}" message used by the
// credentials-based calls. The timestamp is in milliseconds.
func SignCredentials(appID, secret string, timestampMillis int64) string {
	return Sign(secret, []byte(fmt.Sprintf("%s_%d", appID, timestampMillis)))
}
