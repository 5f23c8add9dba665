package config

import (
	"reflect"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	var values []string
	for k, v := range repo.envVars {
		values = append(values, k+"="+v)
	}
	return values
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(fakeEnvRepo{envVars: map[string]string{
		"UPLOAD_API_URL": "http://localhost:3000",
	}})

	require.NoError(t, err)
	assert.Equal(t, "http", c.Backend)
	assert.Equal(t, "http://localhost:3000", c.DownloadURL)
	assert.Equal(t, "100MiB", c.ChunkSize)
	size, err := c.ChunkSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(100*1024*1024), size)
	assert.False(t, c.Verbose)
	assert.NoError(t, c.Validate())
}

func TestNew(t *testing.T) {
	c, err := New(fakeEnvRepo{envVars: map[string]string{
		"UPLOAD_BACKEND":        "s3",
		"UPLOAD_CHUNK_SIZE":     "8MiB",
		"UPLOAD_S3_BUCKET":      "uploads",
		"UPLOAD_S3_REGION":      "eu-west-1",
		"UPLOAD_S3_PREFIX":      "/incoming",
		"AWS_SECRET_ACCESS_KEY": "very-secret",
		"UPLOAD_VERBOSE":        "yes",
		"UPLOAD_TRACKING":       "true",
	}})

	require.NoError(t, err)
	assert.Equal(t, string(BackendS3), c.Backend)
	assert.Equal(t, "incoming/", c.S3Prefix)
	assert.Equal(t, Secret("very-secret"), c.AWSSecretAccessKey)
	assert.True(t, c.Verbose)
	assert.True(t, c.Tracking)
	assert.NoError(t, c.Validate())
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
	}{
		{
			name:    "unknown backend",
			envVars: map[string]string{"UPLOAD_BACKEND": "ftp"},
		},
		{
			name:    "not a bool",
			envVars: map[string]string{"UPLOAD_VERBOSE": "sometimes"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(fakeEnvRepo{envVars: tt.envVars})
			assert.Error(t, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "http without url",
			config:  Config{Backend: "http", ChunkSize: "1MiB"},
			wantErr: "UPLOAD_API_URL",
		},
		{
			name:    "s3 without bucket and region",
			config:  Config{Backend: "s3", ChunkSize: "1MiB"},
			wantErr: "UPLOAD_S3_BUCKET: required for the s3 backend\nUPLOAD_S3_REGION",
		},
		{
			name:    "bad chunk size",
			config:  Config{Backend: "http", APIURL: "http://x", ChunkSize: "huge"},
			wantErr: "UPLOAD_CHUNK_SIZE",
		},
		{
			name:    "zero chunk size",
			config:  Config{Backend: "http", APIURL: "http://x", ChunkSize: "0"},
			wantErr: "UPLOAD_CHUNK_SIZE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse(t *testing.T) {
	type testConfig struct {
		Name     string `env:"name,required"`
		Count    int64  `env:"count"`
		Mode     string `env:"mode,opt[fast,slow]"`
		Untagged string
	}

	var c testConfig
	err := parse(&c, fakeEnvRepo{envVars: map[string]string{"name": "x", "count": "12", "mode": "slow", "Untagged": "y"}})
	require.NoError(t, err)
	assert.Equal(t, testConfig{Name: "x", Count: 12, Mode: "slow"}, c)

	err = parse(&c, fakeEnvRepo{envVars: map[string]string{"count": "twelve", "mode": "medium"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name: required variable is not present")
	assert.Contains(t, err.Error(), "count: can't convert to int")
	assert.Contains(t, err.Error(), "mode: value \"medium\" is not in the available options")

	assert.ErrorIs(t, parse(c, fakeEnvRepo{}), ErrNotStructPtr)
	s := "string"
	assert.ErrorIs(t, parse(&s, fakeEnvRepo{}), ErrNotStructPtr)
}

func TestSecret_String(t *testing.T) {
	assert.Equal(t, "*****", Secret("token").String())
	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "<unset>", valueString(reflect.ValueOf(Secret(""))))
	assert.Equal(t, "*****", valueString(reflect.ValueOf(Secret("token"))))
	assert.Equal(t, "8MiB", valueString(reflect.ValueOf("8MiB")))
}

func TestPrint(t *testing.T) {
	logger := log.NewLogger()
	Print(Config{APIToken: "token"}, logger)
	Print(&Config{}, logger)
	Print("not a struct", logger)
}
