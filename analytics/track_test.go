package analytics

import (
	"testing"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/assert"
)

type fakeEnvRepo map[string]string

func (r fakeEnvRepo) Get(key string) string { return r[key] }

func (r fakeEnvRepo) Set(key, value string) error {
	r[key] = value
	return nil
}

func (r fakeEnvRepo) Unset(key string) error {
	delete(r, key)
	return nil
}

func (r fakeEnvRepo) List() []string { return nil }

type fakeTracker struct {
	properties []analytics.Properties
}

func (t *fakeTracker) Enqueue(string, ...analytics.Properties) {}

func (t *fakeTracker) Wait() {}

func capture(tracker *fakeTracker) TrackerFactory {
	return func(p ...analytics.Properties) analytics.Tracker {
		tracker.properties = p
		return tracker
	}
}

func TestNewRunTrackerUsesRunIDFromEnv(t *testing.T) {
	tracker := &fakeTracker{}
	NewRunTracker(fakeEnvRepo{RunIDEnvKey: "run-1"}, capture(tracker), analytics.Properties{"backend": "s3"})

	assert.Equal(t, []analytics.Properties{{RunID: "run-1", "backend": "s3"}}, tracker.properties)
}

func TestNewRunTrackerGeneratesRunID(t *testing.T) {
	tracker := &fakeTracker{}
	NewRunTracker(fakeEnvRepo{}, capture(tracker), nil)

	if assert.Len(t, tracker.properties, 1) {
		assert.NotEmpty(t, tracker.properties[0][RunID])
	}
}
