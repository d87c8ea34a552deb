package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vbonduro/purrfect/internal/domain"
)

func TestMediaTypeFor(t *testing.T) {
	tests := []struct {
		mime   string
		want   domain.MediaType
		wantOK bool
	}{
		{"image/png", domain.MediaPhoto, true},
		{"image/jpeg", domain.MediaPhoto, true},
		{"video/mp4", domain.MediaVideo, true},
		{"video/webm", domain.MediaVideo, true},
		{"application/pdf", "", false},
		{"text/plain; charset=utf-8", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, ok := mediaTypeFor(tt.mime)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidName(t *testing.T) {
	name, ok := validName("  Kittens  ")
	assert.True(t, ok)
	assert.Equal(t, "Kittens", name)

	_, ok = validName("   ")
	assert.False(t, ok)

	long := make([]byte, maxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, ok = validName(string(long))
	assert.False(t, ok)
}
