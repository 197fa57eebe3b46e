package restyutil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			out.WriteString(fmt.Sprintf("%s: %s\n", k, v))
		}
	}
	rendered := out.String()
	return strings.TrimSuffix(rendered, "\n")
}

// 1: request method
// 2: request url
// 3: request headers ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response headers ("Key: Value" format)
// 7: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s

%s

%s`

// FormatHTTPMessage renders a request/response pair in a plain-text
// layout readable next to the browser devtools "copy as curl" output.
func FormatHTTPMessage(
	method, url string,
	requestHeaders http.Header, requestBody []byte,
	status int,
	responseHeaders http.Header, responseBody []byte,
) string {
	return fmt.Sprintf(
		messageInfoTemplate,
		method, url,
		formatHeaders(requestHeaders),
		string(requestBody),
		strconv.Itoa(status),
		formatHeaders(responseHeaders),
		string(responseBody),
	)
}
