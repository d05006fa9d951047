package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvtien/storefront-backend/internal/auth"
)

func TestStaticSecret_Verify(t *testing.T) {
	v := auth.NewStaticSecret("s3cret")

	assert.True(t, v.Verify("s3cret"))
	assert.False(t, v.Verify("S3cret"))
	assert.False(t, v.Verify("s3cret "))
	assert.False(t, v.Verify(""))
}

func TestStaticSecret_EmptyConfiguredSecretNeverVerifies(t *testing.T) {
	v := auth.NewStaticSecret("")

	assert.False(t, v.Verify(""))
	assert.False(t, v.Verify("anything"))
}
