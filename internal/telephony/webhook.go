package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// ValidateSignature checks the HMAC-SHA1 webhook signature the telephony
// provider sends with every callback. The signed payload is the full webhook
// URL followed by each POST parameter name and value, concatenated in
// lexicographic parameter order.
func ValidateSignature(authToken, webhookURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(webhookURL))
	for _, name := range names {
		mac.Write([]byte(name))
		// Providers sign only the first value of repeated parameters.
		mac.Write([]byte(form.Get(name)))
	}

	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}
