package refs

import (
	"testing"

	"github.com/stratahq/strata/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoragePathParseComponents(t *testing.T) {
	e := NewStoragePathExtractor()

	tests := []struct {
		in       string
		provider string
		bucket   string
		key      string
		ok       bool
	}{
		{"s3://my-bucket", "aws", "my-bucket", "", true},
		{"s3://my-bucket/some/key", "aws", "my-bucket", "some/key", true},
		{"gs://tfstate/env/prod", "gcp", "tfstate", "env/prod", true},
		{"https://acct.blob.core.windows.net/container/blob", "azure", "container", "blob", true},
		{"https://acct.blob.core.windows.net/container", "azure", "container", "", true},
		{"https://example.com/not-storage", "", "", "", false},
		{"s3://", "", "", "", false},
		{"file:///tmp/x", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			comps, ok := e.ParseComponents(tt.in)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.provider, comps["provider"])
			assert.Equal(t, tt.bucket, comps["bucket"])
			assert.Equal(t, tt.key, comps["key"])
		})
	}
}

func TestStoragePathNormalizeIdempotent(t *testing.T) {
	e := NewStoragePathExtractor()
	inputs := []string{"S3://My-Bucket/Key/", "gs://b", "https://A.blob.core.windows.net/C/"}
	for _, in := range inputs {
		once := e.Normalize(in)
		assert.Equal(t, once, e.Normalize(once), "input %q", in)
	}
}

func TestStoragePathExtract(t *testing.T) {
	e := NewStoragePathExtractor()

	node := models.Node{
		ID:   "n1",
		Type: "terraform_backend",
		Metadata: map[string]models.Value{
			"backend":  models.StringValue("s3://tfstate-bucket/env/prod"),
			"location": models.StringValue("us-east-1"), // not a storage path
		},
	}

	require.True(t, e.Applies(node))
	got := e.Extract(node)
	require.Len(t, got, 1)
	assert.Equal(t, "s3://tfstate-bucket/env/prod", got[0].NormalizedIdentifier)
	assert.Equal(t, "aws", got[0].Provider)
	assert.Equal(t, "tfstate-bucket", got[0].Attributes["bucket"])
}
