package main

import (
	"io"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"golang.org/x/net/html"
)

// PseudoHeaderOrder is the standard HTTP/2 pseudo-header order for all requests.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}

// pageTitle returns the text of the first <title> element with entities decoded.
func pageTitle(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(Unescape(string(z.Raw())))
			}
		}
	}
}
