package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		raw  string
		want Reference
	}{
		{"https://github.com/D3vn4/AutoDevOps/pull/1", Reference{"D3vn4", "AutoDevOps", 1}},
		{"https://github.com/octo/repo/pull/12/", Reference{"octo", "repo", 12}},
		{"https://github.com/octo/repo/pull/12#discussion_r1", Reference{"octo", "repo", 12}},
		{"https://github.com/octo/repo/pull/12?w=1", Reference{"octo", "repo", 12}},
		{"  https://ghe.corp/team/svc/pull/7  ", Reference{"team", "svc", 7}},
		{"octo/repo/pull/3", Reference{"octo", "repo", 3}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseReference(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReference_Invalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"https://github.com/octo/repo",
		"https://github.com/octo/repo/issues/12",
		"https://github.com/octo/repo/pull/abc",
		"https://github.com/octo/repo/pull/0",
		"https://github.com/octo/repo/pull/-4",
		"https://github.com/octo/repo/pull/12/files",
		"https://github.com/pull/12",
		"pull/12",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseReference(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidReference)
		})
	}
}

func TestReference_Formatting(t *testing.T) {
	ref := Reference{Owner: "octo", Repo: "repo", Number: 12}
	assert.Equal(t, "octo/repo#12", ref.String())
	assert.Equal(t, "https://github.com/octo/repo/pull/12", ref.URL())

	back, err := ParseReference(ref.URL())
	require.NoError(t, err)
	assert.Equal(t, ref, back)
}
