package main

import (
	"sort"
	"strings"
	"unicode/utf8"

	http "github.com/bogdanfinn/fhttp"
	"golang.org/x/net/html/charset"
)

// Response is a read-only view of a fetched HTTP response.
// A zero StatusCode, nil Header or nil Body means the field is absent.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse reads and decompresses the body of resp.
// Caller still owns resp.Body and should close it.
func NewResponse(resp *http.Response) (*Response, error) {
	body, err := readResponseBody(resp)
	if err != nil {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (r *Response) Status() (int, bool) {
	if r == nil || r.StatusCode == 0 {
		return 0, false
	}
	return r.StatusCode, true
}

// HeaderValue looks up a header case-insensitively. The canonical key wins;
// otherwise non-canonical keys are scanned in sorted order.
func (r *Response) HeaderValue(name string) (string, bool) {
	if r == nil || r.Header == nil {
		return "", false
	}
	if values, ok := r.Header[http.CanonicalHeaderKey(name)]; ok {
		if len(values) == 0 {
			return "", false
		}
		return values[0], true
	}

	keys := make([]string, 0, len(r.Header))
	for key := range r.Header {
		if strings.EqualFold(key, name) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values := r.Header[key]; len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// Text returns the body decoded to UTF-8. Non-UTF-8 bodies are decoded with
// the Content-Type charset, or a sniffed one; bytes that still do not decode
// become U+FFFD. Only a nil body is absent.
func (r *Response) Text() (string, bool) {
	if r == nil || r.Body == nil {
		return "", false
	}
	if utf8.Valid(r.Body) {
		return string(r.Body), true
	}

	contentType, _ := r.HeaderValue("Content-Type")
	enc, _, _ := charset.DetermineEncoding(r.Body, contentType)
	if decoded, err := enc.NewDecoder().Bytes(r.Body); err == nil {
		return strings.ToValidUTF8(string(decoded), "\uFFFD"), true
	}
	return strings.ToValidUTF8(string(r.Body), "\uFFFD"), true
}
