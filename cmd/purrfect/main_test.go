package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vbonduro/purrfect/internal/config"
)

func TestS3ConfigCarriesStaticCredentials(t *testing.T) {
	cfg := &config.Config{
		S3Bucket:          "cats",
		S3Region:          "eu-west-1",
		S3Endpoint:        "http://minio:9000",
		S3Prefix:          "media/",
		S3UsePathStyle:    true,
		S3AccessKeyID:     "AKIDEXAMPLE",
		S3SecretAccessKey: "secret",
	}

	got := s3Config(cfg)
	assert.Equal(t, "cats", got.Bucket)
	assert.Equal(t, "eu-west-1", got.Region)
	assert.Equal(t, "http://minio:9000", got.Endpoint)
	assert.Equal(t, "media/", got.Prefix)
	assert.True(t, got.UsePathStyle)
	assert.Equal(t, "AKIDEXAMPLE", got.AccessKeyID)
	assert.Equal(t, "secret", got.SecretAccessKey)
}
