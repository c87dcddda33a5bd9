package video

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	volcRegion  = "cn-north-1"
	volcService = "cv"
	volcAlgo    = "HMAC-SHA256"
)

// volcSigner 实现火山引擎 OpenAPI 的 HMAC-SHA256 请求签名。
type volcSigner struct {
	accessKey string
	secretKey string
	region    string
	service   string
	now       func() time.Time
}

func newVolcSigner(ak, sk string) *volcSigner {
	return &volcSigner{
		accessKey: ak,
		secretKey: sk,
		region:    volcRegion,
		service:   volcService,
		now:       time.Now,
	}
}

// Sign 为请求设置 Host、X-Date、X-Content-Sha256 与 Authorization。
// body 必须与实际发送的请求体一致。
func (s *volcSigner) Sign(req *http.Request, body []byte) {
	t := s.now().UTC()
	xDate := t.Format("20060102T150405Z")
	shortDate := xDate[:8]
	payloadHash := hashHex(body)

	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("X-Date", xDate)
	req.Header.Set("X-Content-Sha256", payloadHash)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	signed := []string{"content-type", "host", "x-content-sha256", "x-date"}
	var canonicalHeaders strings.Builder
	for _, h := range signed {
		v := req.Header.Get(h)
		if h == "host" {
			v = req.URL.Host
		}
		canonicalHeaders.WriteString(h + ":" + strings.TrimSpace(v) + "\n")
	}
	signedHeaders := strings.Join(signed, ";")

	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	canonicalRequest := strings.Join([]string{
		req.Method,
		path,
		canonicalQuery(req.URL.Query()),
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := shortDate + "/" + s.region + "/" + s.service + "/request"
	stringToSign := strings.Join([]string{volcAlgo, xDate, scope, hashHex([]byte(canonicalRequest))}, "\n")

	kDate := hmacSHA256([]byte(s.secretKey), shortDate)
	kRegion := hmacSHA256(kDate, s.region)
	kService := hmacSHA256(kRegion, s.service)
	kSigning := hmacSHA256(kService, "request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	req.Header.Set("Authorization", volcAlgo+
		" Credential="+s.accessKey+"/"+scope+
		", SignedHeaders="+signedHeaders+
		", Signature="+signature)
}

// canonicalQuery 按 key 排序并做 RFC 3986 编码（空格为 %20）。
func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func hashHex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func hmacSHA256(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return m.Sum(nil)
}
