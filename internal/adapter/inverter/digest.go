package inverter

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const (
	DIGEST_REALM        = "Webinterface area"
	DIGEST_QOP          = "auth"
	DIGEST_ALGO_MD5     = "MD5"
	DIGEST_ALGO_SHA256  = "SHA256"
	DIGEST_ALGO_SHA_256 = "SHA-256"
)

// the challenge header name differs between firmware versions
var challengeHeaders = []string{"X-WWW-Authenticate", "WWW-Authenticate"}

var challengeParamRegexp = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([^,]*))`)

type digestChallenge struct {
	Realm     string
	Nonce     string
	Algorithm string
	Qop       string
}

func parseChallenge(header http.Header) (digestChallenge, bool) {
	var raw string
	for _, name := range challengeHeaders {
		if value := header.Get(name); value != "" {
			raw = value
			break
		}
	}
	if raw == "" {
		return digestChallenge{}, false
	}

	params := map[string]string{}
	content := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Digest"))
	for _, match := range challengeParamRegexp.FindAllStringSubmatch(content, -1) {
		value := match[2]
		if value == "" {
			value = strings.TrimSpace(match[3])
		}
		params[strings.ToLower(match[1])] = value
	}

	challenge := digestChallenge{
		Realm:     params["realm"],
		Nonce:     params["nonce"],
		Algorithm: params["algorithm"],
		Qop:       params["qop"],
	}
	if challenge.Nonce == "" {
		return challenge, false
	}
	if challenge.Algorithm == "" {
		challenge.Algorithm = DIGEST_ALGO_MD5
	}
	if challenge.Realm == "" {
		challenge.Realm = DIGEST_REALM
	}
	return challenge, true
}

func isSHA256(algorithm string) bool {
	return algorithm == DIGEST_ALGO_SHA256 || algorithm == DIGEST_ALGO_SHA_256
}

func digestHash(algorithm, text string) string {
	if isSHA256(algorithm) {
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:])
	}
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// digestAuthorization builds the Authorization header value for one request.
// The algorithm is echoed back the way the firmware announced it.
func digestAuthorization(user, password, method, uri string, challenge digestChallenge, algorithm string, nc uint32, cnonce string) string {
	ncValue := fmt.Sprintf("%08x", nc)
	ha1 := digestHash(algorithm, fmt.Sprintf("%s:%s:%s", user, challenge.Realm, password))
	ha2 := digestHash(algorithm, fmt.Sprintf("%s:%s", method, uri))
	response := digestHash(algorithm, fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, challenge.Nonce, ncValue, cnonce, DIGEST_QOP, ha2))

	headerAlgorithm := DIGEST_ALGO_MD5
	if isSHA256(algorithm) {
		headerAlgorithm = algorithm
	}

	return fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", uri="%s", algorithm="%s", qop=%s, nc=%s, cnonce="%s", response="%s"`,
		user, challenge.Realm, challenge.Nonce, uri, headerAlgorithm, DIGEST_QOP, ncValue, cnonce, response)
}
