// Package identity resolves the buyer's user id from what the Mini App host
// hands the page. Values are trusted as supplied; nothing is verified.
package identity

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnresolved means no source carried a usable user id
var ErrUnresolved = errors.New("user identity could not be resolved")

// Source names where a resolved id came from
type Source string

const (
	SourceSession  Source = "session"
	SourceInitData Source = "init_data"
	SourceQuery    Source = "query"
)

// Inputs are the candidate identity carriers, highest priority first
type Inputs struct {
	// SessionUserID is the id from the host's session object, 0 if absent
	SessionUserID int64
	// InitData is the host's opaque URL-encoded init string
	InitData string
	// Query is the page's URL query; its "uid" parameter is the last resort
	Query url.Values
}

// Resolved is a user id plus the source it was read from
type Resolved struct {
	UserID int64
	Source Source
}

// Resolve checks the host session, then the init-data string, then the uid
// query parameter, and returns the first positive id found.
func Resolve(in Inputs) (Resolved, error) {
	if in.SessionUserID > 0 {
		return Resolved{UserID: in.SessionUserID, Source: SourceSession}, nil
	}
	if id, ok := FromInitData(in.InitData); ok {
		return Resolved{UserID: id, Source: SourceInitData}, nil
	}
	if in.Query != nil {
		if id, ok := parseID(in.Query.Get("uid")); ok {
			return Resolved{UserID: id, Source: SourceQuery}, nil
		}
	}
	return Resolved{}, ErrUnresolved
}

// FromInitData extracts user.id from an init-data string such as
// "query_id=..&user=%7B%22id%22%3A42%7D&auth_date=..".
func FromInitData(initData string) (int64, bool) {
	initData = strings.TrimSpace(initData)
	if initData == "" {
		return 0, false
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, false
	}
	raw := values.Get("user")
	if raw == "" {
		return 0, false
	}

	var user struct {
		ID json.Number `json:"id"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&user); err != nil {
		return 0, false
	}
	return parseID(user.ID.String())
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
