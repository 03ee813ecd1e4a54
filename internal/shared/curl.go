// Utilities for pulling catalog credentials out of a browser "Copy as cURL" command.
package shared

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var (
	headerRegex = regexp.MustCompile(`-H\s+'([^']+)'|-H\s+"([^"]+)"`)
	cookieRegex = regexp.MustCompile(`-b\s+'([^']+)'|-b\s+"([^"]+)"`)
	urlRegex    = regexp.MustCompile(`'(https?://[^']+)'|"(https?://[^"]+)"|\s(https?://\S+)`)
)

// CurlRequest is the request line, headers and cookie parsed from a cURL command.
type CurlRequest struct {
	URL     string
	Headers map[string]string
	Cookie  string
}

// ParseCurlFile reads a .sh file containing a cURL command and parses it.
func ParseCurlFile(filepath string) (*CurlRequest, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read curl file: %w", err)
	}

	return ParseCurlCommand(string(content))
}

// ParseCurlCommand parses a cURL command string and extracts its URL, headers and cookie.
func ParseCurlCommand(curlCmd string) (*CurlRequest, error) {
	curlCmd = strings.ReplaceAll(curlCmd, "\\\n", " ")
	curlCmd = strings.ReplaceAll(curlCmd, "\\", "")

	headers := make(map[string]string)
	var cookie string

	for _, match := range headerRegex.FindAllStringSubmatch(curlCmd, -1) {
		key, value, ok := splitHeader(firstGroup(match))
		if !ok {
			continue
		}
		if strings.EqualFold(key, "cookie") {
			if cookie == "" {
				cookie = value
			}
			continue
		}
		headers[key] = value
	}

	if m := cookieRegex.FindStringSubmatch(curlCmd); m != nil {
		cookie = firstGroup(m)
	}

	bare := cookieRegex.ReplaceAllString(headerRegex.ReplaceAllString(curlCmd, " "), " ")
	var rawURL string
	for _, m := range urlRegex.FindAllStringSubmatch(bare, -1) {
		if u := firstGroup(m); u != "" {
			rawURL = u
			break
		}
	}

	if len(headers) == 0 && cookie == "" {
		return nil, fmt.Errorf("%w: no headers found in curl command", ErrInvalidInput)
	}

	return &CurlRequest{URL: rawURL, Headers: headers, Cookie: cookie}, nil
}

// Header looks up a header by name, ignoring case.
func (c *CurlRequest) Header(name string) string {
	for key, value := range c.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// Endpoint derives a catalog endpoint (origin URL and Authorization token) from the request.
func (c *CurlRequest) Endpoint() (EndpointConfig, error) {
	if c.URL == "" {
		return EndpointConfig{}, fmt.Errorf("%w: curl command has no URL", ErrInvalidInput)
	}

	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return EndpointConfig{}, fmt.Errorf("%w: unusable URL %q", ErrInvalidInput, c.URL)
	}

	token := c.Header("Authorization")
	if token == "" {
		return EndpointConfig{}, fmt.Errorf("%w: curl command has no Authorization header", ErrMissingCredentials)
	}

	return EndpointConfig{URL: u.Scheme + "://" + u.Host, Token: token}, nil
}

func firstGroup(match []string) string {
	for _, g := range match[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func splitHeader(line string) (string, string, bool) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}
