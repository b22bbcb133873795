package share

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippetvault/internal/apperror"
)

func TestLink(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		id      string
		want    string
		wantErr bool
	}{
		{name: "origin", base: "https://vault.example.com", id: "abc123", want: "https://vault.example.com/snippet/abc123"},
		{name: "trailing slash", base: "https://vault.example.com/", id: "abc123", want: "https://vault.example.com/snippet/abc123"},
		{name: "base with path", base: "http://localhost:8080/app", id: "x", want: "http://localhost:8080/app/snippet/x"},
		{name: "empty id", base: "https://vault.example.com", id: "", wantErr: true},
		{name: "placeholder id", base: "https://vault.example.com", id: "local:01HZX", wantErr: true},
		{name: "relative base", base: "vault.example.com", id: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Link(tt.base, tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperror.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLink(t *testing.T) {
	tests := []struct {
		link    string
		want    string
		wantErr bool
	}{
		{link: "https://vault.example.com/snippet/abc123", want: "abc123"},
		{link: "https://vault.example.com/snippet/abc123/", want: "abc123"},
		{link: "https://vault.example.com/snippet/abc123?ref=mail#top", want: "abc123"},
		{link: "/snippet/abc123", want: "abc123"},
		{link: "https://vault.example.com/", wantErr: true},
		{link: "https://vault.example.com/snippet/", wantErr: true},
		{link: "https://vault.example.com/snippet/a/b", wantErr: true},
		{link: "https://vault.example.com/snippet/local:tok", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			got, err := ParseLink(tt.link)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	link, err := Link("https://vault.example.com", "c9a1b2")
	require.NoError(t, err)
	id, err := ParseLink(link)
	require.NoError(t, err)
	assert.Equal(t, "c9a1b2", id)
}
