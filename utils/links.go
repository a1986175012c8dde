package utils

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BuildCallbackURL returns the URL the ad network calls once the ad is watched.
// The callback secret is never part of it: the URL travels through the browser.
func BuildCallbackURL(baseURL, userID, scriptID string, keyIndex int) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/api/callback")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	q.Set("scriptId", scriptID)
	q.Set("keyIndex", strconv.Itoa(keyIndex))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BuildAdURL expands {userId}, {scriptId}, {keyIndex} and {callback} in the
// ad network template. Substituted values are query-escaped.
func BuildAdURL(template, userID, scriptID string, keyIndex int, callbackURL string) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("ad network url not configured")
	}
	r := strings.NewReplacer(
		"{userId}", url.QueryEscape(userID),
		"{scriptId}", url.QueryEscape(scriptID),
		"{keyIndex}", strconv.Itoa(keyIndex),
		"{callback}", url.QueryEscape(callbackURL),
	)
	out := r.Replace(template)
	if _, err := url.ParseRequestURI(out); err != nil {
		return "", fmt.Errorf("invalid ad network url: %w", err)
	}
	return out, nil
}

// AppendQuery adds params to rawURL, keeping any query it already has.
func AppendQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
