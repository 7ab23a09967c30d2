package refs

import (
	"net/url"
	"strings"

	"github.com/stratahq/strata/internal/models"
)

// gitMetadataKeys are the metadata keys scanned for git URLs.
var gitMetadataKeys = map[string]bool{
	"source":     true,
	"repository": true,
	"repo":       true,
	"url":        true,
	"git_url":    true,
	"module":     true,
}

// GitURLExtractor emits git repository references. HTTPS and SSH forms of
// the same repository normalize to the same "host/owner/repo" identifier.
type GitURLExtractor struct {
	BaseExtractor
}

// NewGitURLExtractor creates a git URL extractor.
func NewGitURLExtractor() *GitURLExtractor {
	return &GitURLExtractor{BaseExtractor: NewBaseExtractor(TypeGitURL)}
}

// Applies enables the extractor when URL-bearing metadata keys exist.
func (e *GitURLExtractor) Applies(node models.Node) bool {
	for key := range node.Metadata {
		if gitMetadataKeys[key] {
			return true
		}
	}
	return false
}

// Extract scans the URL-bearing keys for values that parse as git URLs.
func (e *GitURLExtractor) Extract(node models.Node) []ExternalReference {
	var out []ExternalReference
	for key, value := range node.Metadata {
		if !gitMetadataKeys[key] {
			continue
		}
		for _, s := range stringMetadataValues(value) {
			trimmed := strings.TrimSpace(s)
			comps, ok := e.ParseComponents(trimmed)
			if !ok {
				continue
			}
			ref := NewReference(TypeGitURL, trimmed, e.Normalize, providerForHost(comps["host"]), 1.0)
			ref = ref.WithAttribute("host", comps["host"])
			out = append(out, ref)
		}
	}
	return DedupeByHash(out)
}

// Normalize reduces both HTTPS (scheme://host/owner/repo, .git stripped)
// and SSH (git@host:owner/repo) forms to "host/owner/repo" lowercased.
func (e *GitURLExtractor) Normalize(identifier string) string {
	s := strings.ToLower(strings.TrimSpace(identifier))
	comps, ok := e.ParseComponents(s)
	if !ok {
		return s
	}
	return comps["host"] + "/" + comps["owner"] + "/" + comps["repo"]
}

// ParseComponents decomposes a git URL into host, owner, and repo.
func (e *GitURLExtractor) ParseComponents(identifier string) (Components, bool) {
	s := strings.ToLower(strings.TrimSpace(identifier))

	// SSH shorthand: git@host:owner/repo[.git]
	if strings.HasPrefix(s, "git@") {
		rest := strings.TrimPrefix(s, "git@")
		colon := strings.Index(rest, ":")
		if colon <= 0 {
			return nil, false
		}
		host := rest[:colon]
		path := strings.TrimSuffix(rest[colon+1:], ".git")
		parts := strings.Split(path, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, false
		}
		return Components{"host": host, "owner": parts[0], "repo": parts[1]}, true
	}

	// HTTPS/SSH-scheme form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return nil, false
		}
		path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
		parts := strings.Split(path, "/")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, false
		}
		return Components{"host": u.Hostname(), "owner": parts[0], "repo": parts[1]}, true
	}

	// Already-normalized "host/owner/repo" keeps Normalize idempotent.
	parts := strings.Split(s, "/")
	if len(parts) == 3 && strings.Contains(parts[0], ".") && parts[1] != "" && parts[2] != "" {
		return Components{"host": parts[0], "owner": parts[1], "repo": strings.TrimSuffix(parts[2], ".git")}, true
	}

	return nil, false
}

// providerForHost maps well-known hosts to their provider string.
func providerForHost(host string) string {
	switch {
	case strings.Contains(host, "github"):
		return string(models.ProviderGitHub)
	case strings.Contains(host, "gitlab"):
		return string(models.ProviderGitLab)
	case strings.Contains(host, "bitbucket"):
		return string(models.ProviderBitbucket)
	default:
		return ""
	}
}
