package steam

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var cookieRegex = regexp.MustCompile(`[^\s=;]+=[^\s=;]+`)

var (
	// ErrNoSessionID is returned when a cookie string parses but carries no
	// sessionid parameter.
	ErrNoSessionID = errors.New("could not parse session id: ensure you are passing a `sessionid` parameter")
	// ErrNotACookie is returned when the given string does not resemble a
	// cookie at all.
	ErrNotACookie = errors.New("given string does not resemble a cookie")
)

// Credentials holds the Steam session cookies used to fetch authenticated
// pages. The login token may be absent on accounts without Steam Guard.
type Credentials struct {
	sessionID  string
	loginToken string
}

// NewCredentials builds credentials from known cookie values.
func NewCredentials(sessionID, loginToken string) Credentials {
	return Credentials{sessionID: sessionID, loginToken: maybeURLEncode(loginToken)}
}

// ParseCredentials extracts the sessionid and steamLoginSecure values from a
// raw cookie string, as copied from a browser. The login token is
// percent-encoded if it is not already.
func ParseCredentials(cookieStr string) (Credentials, error) {
	pairs := cookieRegex.FindAllString(cookieStr, -1)
	if len(pairs) == 0 {
		return Credentials{}, ErrNotACookie
	}

	var creds Credentials
	for _, pair := range pairs {
		name, value, _ := strings.Cut(pair, "=")
		switch name {
		case "sessionid":
			creds.sessionID = value
		case "steamLoginSecure":
			creds.loginToken = maybeURLEncode(value)
		}
	}

	if creds.sessionID == "" {
		return Credentials{}, ErrNoSessionID
	}

	return creds, nil
}

// String renders the credentials as a Cookie header value.
func (c Credentials) String() string {
	if c.loginToken == "" {
		return "sessionid=" + c.sessionID
	}
	return "sessionid=" + c.sessionID + "; steamLoginSecure=" + c.loginToken
}

func maybeURLEncode(s string) string {
	if strings.Contains(s, "%") {
		return s
	}
	return url.QueryEscape(s)
}
