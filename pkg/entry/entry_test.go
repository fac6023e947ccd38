package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legacyUser() Record {
	return Record{
		"id":               float64(123456), // JSON numbers are decoded as float64
		"email":            "legacy@zenodo.org",
		"password":         "secret-hash",
		"active":           true,
		"confirmed_at":     nil,
		"username":         "LegacyUser",
		"displayname":      "Legacy User",
		"full_name":        "Legacy Zenodo User",
		"last_login_at":    int64(10),
		"current_login_at": int64(20),
		"last_login_ip":    "10.0.0.1",
		"current_login_ip": "10.0.0.2",
		"login_count":      float64(3),
		"created":          int64(99),
		"updated":          int64(99),
	}
}

func TestUserEntry(t *testing.T) {
	entities, err := UserEntry{}.Transform(legacyUser())
	require.NoError(t, err)
	require.Len(t, entities, 2)

	user := entities[0]
	assert.Equal(t, EntityUser, user.Name)
	assert.Equal(t, int64(123456), user.Record["id"])
	assert.Equal(t, "legacy@zenodo.org", user.Record["email"])
	assert.Equal(t, "legacyuser", user.Record["username"])
	assert.Equal(t, "Legacy User", user.Record["displayname"])
	assert.Equal(t, Record{"full_name": "Legacy Zenodo User"}, user.Record["profile"])
	assert.Equal(t, int64(99), user.Record["created"])
	assert.Equal(t, 1, user.Record["version_id"])
	assert.Equal(t, Record{"visibility": "restricted", "email_visibility": "restricted"}, user.Record["preferences"])
	for _, f := range loginFields {
		assert.NotContains(t, user.Record, f)
	}

	login := entities[1]
	assert.Equal(t, EntityLoginInformation, login.Name)
	assert.Equal(t, Record{
		"user_id":          int64(123456),
		"last_login_at":    int64(10),
		"current_login_at": int64(20),
		"last_login_ip":    "10.0.0.1",
		"current_login_ip": "10.0.0.2",
		"login_count":      float64(3),
	}, login.Record)
}

func TestUserEntryValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(Record)
		partial bool
		field   string
	}{
		{name: "missing id", mutate: func(r Record) { delete(r, "id") }, field: "id"},
		{name: "fractional id", mutate: func(r Record) { r["id"] = 1.5 }, field: "id"},
		{name: "string id", mutate: func(r Record) { r["id"] = "abc" }, field: "id"},
		{name: "missing email", mutate: func(r Record) { delete(r, "email") }, field: "email"},
		{name: "empty email", mutate: func(r Record) { r["email"] = " " }, field: "email"},
		{name: "numeric email", mutate: func(r Record) { r["email"] = 1 }, field: "email"},
		{name: "partial missing id", mutate: func(r Record) { delete(r, "id") }, partial: true, field: "id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			payload := legacyUser()
			tc.mutate(payload)

			_, err := UserEntry{Partial: tc.partial}.Transform(payload)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
			assert.Equal(t, EntityUser, vErr.Entity)
		})
	}
}

func TestUserEntryUserIDFallback(t *testing.T) {
	entities, err := UserEntry{Partial: true}.Transform(Record{
		"user_id":   int64(7),
		"full_name": "New Name",
		"updated":   int64(5),
	})
	require.NoError(t, err)
	require.Len(t, entities, 1, "no login fields changed")
	assert.Equal(t, Record{
		"id":      int64(7),
		"updated": int64(5),
		"profile": Record{"full_name": "New Name"},
	}, entities[0].Record)
}

func TestUserEntryDefaults(t *testing.T) {
	entities, err := UserEntry{}.Transform(Record{"id": 1, "email": "a@x.com"})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, true, entities[0].Record["active"])
	assert.Equal(t, Record{"user_id": 1, "login_count": 0}, entities[1].Record)
}

func TestLookup(t *testing.T) {
	input := map[string]any{
		"id": 1,
		"metadata": map[string]any{
			"title": "A title",
			"creators": []any{
				map[string]any{"name": "first"},
				map[string]any{"name": "second"},
			},
		},
	}

	tests := []struct {
		expected any
		name     string
		path     string
		wantErr  bool
	}{
		{name: "top level", path: "id", expected: 1},
		{name: "leading dot", path: ".id", expected: 1},
		{name: "nested", path: "metadata.title", expected: "A title"},
		{name: "array index", path: "metadata.creators[1].name", expected: "second"},
		{name: "missing key", path: "metadata.missing", wantErr: true},
		{name: "index out of range", path: "metadata.creators[5].name", wantErr: true},
		{name: "not an array", path: "metadata.title[0]", wantErr: true},
		{name: "malformed index", path: "metadata.creators[x]", wantErr: true},
		{name: "through scalar", path: "id.x", wantErr: true},
		{name: "empty path", path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lookup(input, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMapping(t *testing.T) {
	registry := NewRegistry()
	transformer, err := registry.Get("mapping", map[string]any{
		"entity":   "community",
		"fields":   map[string]any{"id": "id", "slug": "slug", "title": "metadata.title", "logo": "logo"},
		"required": []any{"id", "slug"},
		"split":    map[string]any{"community_files": []any{"logo"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "community", transformer.Name())

	entities, err := transformer.Transform(Record{
		"id":       "c1",
		"slug":     "zenodo",
		"logo":     "logo.png",
		"metadata": map[string]any{"title": "Zenodo"},
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, Record{"id": "c1", "slug": "zenodo", "title": "Zenodo"}, entities[0].Record)
	assert.Equal(t, Entity{Name: "community_files", Record: Record{"logo": "logo.png"}}, entities[1])

	_, err = transformer.Transform(Record{"id": "c1"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "slug", vErr.Field)
}

func TestMappingConfigValidate(t *testing.T) {
	testCases := []struct {
		name string
		cfg  MappingConfig
	}{
		{name: "no entity", cfg: MappingConfig{Fields: map[string]string{"a": "a"}}},
		{name: "no fields", cfg: MappingConfig{Entity: "e"}},
		{name: "unmapped required", cfg: MappingConfig{Entity: "e", Fields: map[string]string{"a": "a"}, Required: []string{"b"}}},
		{name: "unmapped split", cfg: MappingConfig{Entity: "e", Fields: map[string]string{"a": "a"}, Split: map[string][]string{"s": {"b"}}}},
		{name: "split reuses primary", cfg: MappingConfig{Entity: "e", Fields: map[string]string{"a": "a"}, Split: map[string][]string{"e": {"a"}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMapping(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	_, err := NewRegistry().Get("record", nil)
	assert.Error(t, err)
}
