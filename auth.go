package rtmp

import (
	"crypto/md5"
	"encoding/base64"
	"net/url"
	"strings"
)

// Substrings of the description of a rejected connect that select the authentication step.
const (
	authReasonNoSuchUser = "reason=nosuchuser"
	authReasonFailed     = "reason=authfailed"
	authReasonNeedAuth   = "reason=needauth"
	authModAdobe         = "authmod=adobe"
)

func md5Base64(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// sanJoseAuthURL builds the URL of the second connect of the Adobe challenge scheme. description is the one of the
// rejected connect, it carries salt, challenge and opaque after a "?". clientChallenge is 8 hex digits.
//
//	response = md5b64(md5b64(user + salt + password) + (opaque or challenge) + clientChallenge)
func sanJoseAuthURL(u *url.URL, description string, clientChallenge string) string {
	command := u.String()
	i := strings.IndexByte(description, '?')
	if i < 0 {
		return command
	}
	query := parseAuthQuery(description[i+1:])
	user := u.User.Username()
	password, _ := u.User.Password()

	response := md5Base64(user + query["salt"] + password)
	if opaque := query["opaque"]; opaque != "" {
		command += "&opaque=" + opaque
		response += opaque
	} else if challenge := query["challenge"]; challenge != "" {
		response += challenge
	}
	response = md5Base64(response + clientChallenge)
	return command + "&challenge=" + clientChallenge + "&response=" + response
}

// parseAuthQuery splits a query into its parameters. Unlike url.ParseQuery it keeps '+', salts are base64.
func parseAuthQuery(query string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(pair, "=")
		if unescaped, err := url.PathUnescape(value); err == nil {
			value = unescaped
		}
		if key != "" {
			params[key] = value
		}
	}
	return params
}

// adobeAuthURL is the URL of the first authenticated connect, it asks the server for a salt and a challenge.
func adobeAuthURL(u *url.URL) string {
	sep := "&"
	if u.RawQuery == "" {
		sep = "?"
	}
	return u.String() + sep + authModAdobe + "&user=" + u.User.Username()
}

// tcURL is the URL without credentials, as sent in the connect command object.
func tcURL(u *url.URL) string {
	c := *u
	c.User = nil
	return c.String()
}

// appName is the path without leading slashes plus the query.
func appName(u *url.URL) string {
	app := strings.TrimLeft(u.Path, "/")
	if u.RawQuery != "" {
		app += "?" + u.RawQuery
	}
	return app
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
