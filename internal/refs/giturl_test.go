package refs

import (
	"testing"

	"github.com/stratahq/strata/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitURLNormalizeJoinsForms(t *testing.T) {
	e := NewGitURLExtractor()

	// HTTPS and SSH forms of the same repo normalize identically.
	https := e.Normalize("https://github.com/myorg/infra.git")
	ssh := e.Normalize("git@github.com:myorg/infra.git")
	assert.Equal(t, "github.com/myorg/infra", https)
	assert.Equal(t, https, ssh)

	// Idempotency over the normalized form.
	assert.Equal(t, https, e.Normalize(https))
}

func TestGitURLParseComponents(t *testing.T) {
	e := NewGitURLExtractor()

	tests := []struct {
		in    string
		host  string
		owner string
		repo  string
		ok    bool
	}{
		{"https://github.com/myorg/infra.git", "github.com", "myorg", "infra", true},
		{"https://gitlab.example.com/team/app", "gitlab.example.com", "team", "app", true},
		{"git@bitbucket.org:myorg/infra.git", "bitbucket.org", "myorg", "infra", true},
		{"github.com/myorg/infra", "github.com", "myorg", "infra", true},
		{"https://github.com/", "", "", "", false},
		{"git@github.com", "", "", "", false},
		{"not a url", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			comps, ok := e.ParseComponents(tt.in)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.host, comps["host"])
			assert.Equal(t, tt.owner, comps["owner"])
			assert.Equal(t, tt.repo, comps["repo"])
		})
	}
}

func TestGitURLExtract(t *testing.T) {
	e := NewGitURLExtractor()

	node := models.Node{
		ID:   "n1",
		Type: "module",
		Metadata: map[string]models.Value{
			"source": models.StringValue("git@github.com:myorg/modules.git"),
			"url":    models.StringValue("https://github.com/myorg/modules"),
			"name":   models.StringValue("vpc"),
		},
	}

	require.True(t, e.Applies(node))
	got := e.Extract(node)
	// Both URL forms are the same repository: one reference.
	require.Len(t, got, 1)
	assert.Equal(t, "github.com/myorg/modules", got[0].NormalizedIdentifier)
	assert.Equal(t, string(models.ProviderGitHub), got[0].Provider)
}
