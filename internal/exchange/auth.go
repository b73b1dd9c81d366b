// auth.go implements API-key authentication for the futures REST API.
//
// Signed endpoints require an HMAC-SHA256 signature over the full query
// string (including a millisecond timestamp and recvWindow), hex-encoded and
// appended as the signature parameter. The API key travels in a header on
// every request; only trading and account endpoints need the signature.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const defaultRecvWindow = 5000 // milliseconds

// Auth holds the API credentials and signs request query strings.
type Auth struct {
	apiKey    string
	apiSecret string
}

// NewAuth creates an Auth instance from the configured key pair.
func NewAuth(apiKey, apiSecret string) *Auth {
	return &Auth{apiKey: apiKey, apiSecret: apiSecret}
}

// APIKey returns the key to send in the auth header.
func (a *Auth) APIKey() string { return a.apiKey }

// Sign stamps the params with timestamp + recvWindow, computes the
// HMAC-SHA256 signature over the encoded query string, and returns the final
// query string ready to append to the request URL.
func (a *Auth) Sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(defaultRecvWindow))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(query))
	sig := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("%s&signature=%s", query, sig)
}
