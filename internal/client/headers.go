package client

import (
	"net/http"

	"github.com/woxQAQ/deepseek-pow/internal/pow"
	"github.com/woxQAQ/deepseek-pow/pkg/protocol"
)

// Identity of the mobile client the remote service expects.
const (
	UserAgent      = "DeepSeek/1.0.13 Android/35"
	ClientVersion  = "1.0.13"
	ClientPlatform = "android"
	ClientLocale   = "zh_CN"
)

// BaseHeaders returns the headers sent on every request. Host is not part
// of the set; net/http derives it from the request URL.
func BaseHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", UserAgent)
	h.Set("Accept", "application/json")
	h.Set("Accept-Encoding", "gzip")
	h.Set("Content-Type", "application/json")
	h.Set("X-Client-Platform", ClientPlatform)
	h.Set("X-Client-Version", ClientVersion)
	h.Set("X-Client-Locale", ClientLocale)
	h.Set("Accept-Charset", "UTF-8")
	return h
}

// AuthHeaders returns BaseHeaders plus the bearer token.
func AuthHeaders(token string) http.Header {
	h := BaseHeaders()
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// PowHeaders returns AuthHeaders plus the encoded answer for the protected
// request.
func PowHeaders(token string, answer pow.EncodedAnswer) http.Header {
	h := AuthHeaders(token)
	h.Set(protocol.PowResponseHeader, string(answer))
	return h
}
