package entry

import (
	"encoding/json"
	"strings"
)

const (
	EntityUser             = "user"
	EntityLoginInformation = "login_information"
)

var loginFields = []string{
	"last_login_at",
	"current_login_at",
	"last_login_ip",
	"current_login_ip",
	"login_count",
}

// UserEntry transforms a legacy Zenodo user (accounts_user merged with
// userprofiles_userprofile) into an RDM user plus its login information.
//
// A Partial entry only requires the user id and copies the fields present in
// the payload, which is what update-shaped actions need.
type UserEntry struct {
	Partial bool
}

func (e UserEntry) Name() string {
	return EntityUser
}

func (e UserEntry) Transform(payload Record) ([]Entity, error) {
	id, err := e.id(payload)
	if err != nil {
		return nil, err
	}

	user := Record{"id": id}

	email, ok := payload["email"]
	switch {
	case ok && email != nil:
		s, isString := email.(string)
		if !isString || strings.TrimSpace(s) == "" {
			return nil, malformed(EntityUser, "email", email)
		}
		user["email"] = s
	case !e.Partial:
		return nil, missing(EntityUser, "email")
	}

	for _, field := range []string{"created", "updated", "active", "password", "confirmed_at"} {
		if v, ok := payload[field]; ok {
			user[field] = v
		}
	}

	if username, ok := payload["username"].(string); ok && username != "" {
		user["username"] = strings.ToLower(username)
		user["displayname"] = username
	}
	if displayname, ok := payload["displayname"].(string); ok && displayname != "" {
		user["displayname"] = displayname
	}

	profile := Record{}
	if fullName, ok := payload["full_name"]; ok {
		profile["full_name"] = fullName
	}
	if affiliations, ok := payload["affiliations"]; ok {
		profile["affiliations"] = affiliations
	}

	if !e.Partial {
		user["version_id"] = 1
		if _, ok := user["active"]; !ok {
			user["active"] = true
		}
		user["preferences"] = preferences(payload["preferences"])
		user["profile"] = profile
	} else {
		if v, ok := payload["version_id"]; ok {
			user["version_id"] = v
		}
		if len(profile) > 0 {
			user["profile"] = profile
		}
		if prefs, ok := payload["preferences"].(map[string]any); ok {
			user["preferences"] = prefs
		}
	}

	entities := []Entity{{Name: EntityUser, Record: user}}
	if login, ok := e.loginInformation(id, payload); ok {
		entities = append(entities, Entity{Name: EntityLoginInformation, Record: login})
	}
	return entities, nil
}

func (e UserEntry) id(payload Record) (any, error) {
	id, ok := payload["id"]
	if !ok || id == nil {
		id, ok = payload["user_id"]
	}
	if !ok || id == nil {
		return nil, missing(EntityUser, "id")
	}

	switch v := id.(type) {
	case int, int32, int64, uint32, uint64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, malformed(EntityUser, "id", id)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, malformed(EntityUser, "id", id)
		}
		return n, nil
	}
	return nil, malformed(EntityUser, "id", id)
}

// loginInformation splits the login tracking columns off the user payload.
// Full entries always carry one; partial entries only when a login field changed.
func (e UserEntry) loginInformation(id any, payload Record) (Record, bool) {
	login := Record{"user_id": id}
	found := false
	for _, field := range loginFields {
		if v, ok := payload[field]; ok {
			login[field] = v
			found = true
		}
	}

	if e.Partial {
		return login, found
	}
	if _, ok := login["login_count"]; !ok {
		login["login_count"] = 0
	}
	return login, true
}

func preferences(v any) Record {
	prefs := Record{
		"visibility":       "restricted",
		"email_visibility": "restricted",
	}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			prefs[k] = val
		}
	}
	return prefs
}
