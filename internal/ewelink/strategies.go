package ewelink

import (
	"net/http"
	"strconv"
)

// signStrategy is one way of constructing the signed message for an
// acquisition call. The provider's expectation differs between
// deployments (and its documentation contradicts itself), so the
// protocol tries each strategy in order instead of guessing a single
// correct one. The strategy list is data, not duplicated code paths.
type signStrategy struct {
	name    string
	headers func(identity AppIdentity, body []byte, timestampMillis int64, nonce string) http.Header
}

// exchangeStrategies is the fixed order acquisition tries: the
// identity-timestamp scheme with nonce/sequence headers first, then
// whole-body JSON signing, then unsigned as a last diagnostic resort.
var exchangeStrategies = []signStrategy{
	{name: "credentials", headers: credentialsSignHeaders},
	{name: "body", headers: bodySignHeaders},
	{name: "unsigned", headers: unsignedHeaders},
}

func baseHeaders(identity AppIdentity) http.Header {
	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("X-CK-Appid", identity.AppID)
	return headers
}

// credentialsSignHeaders signs "{appid}_{timestamp}" and sends the
// nonce and millisecond sequence alongside it.
func credentialsSignHeaders(identity AppIdentity, body []byte, timestampMillis int64, nonce string) http.Header {
	headers := baseHeaders(identity)
	headers.Set("X-CK-Nonce", nonce)
	headers.Set("X-CK-Seq", strconv.FormatInt(timestampMillis, 10))
	headers.Set("Authorization", "Sign "+SignCredentials(identity.AppID, identity.AppSecret, timestampMillis))
	return headers
}

// bodySignHeaders signs the exact JSON bytes that go on the wire. The
// caller marshals the payload once and passes the same slice here and
// to the request body, so key order cannot drift between signing and
// transmission.
func bodySignHeaders(identity AppIdentity, body []byte, timestampMillis int64, nonce string) http.Header {
	headers := baseHeaders(identity)
	headers.Set("X-CK-Nonce", nonce)
	headers.Set("Authorization", "Sign "+Sign(identity.AppSecret, body))
	return headers
}

// unsignedHeaders omits the signature entirely. Some provider
// deployments have been observed to accept this; it is kept last so a
// success here pinpoints a signature problem rather than masking it.
func unsignedHeaders(identity AppIdentity, body []byte, timestampMillis int64, nonce string) http.Header {
	return baseHeaders(identity)
}
