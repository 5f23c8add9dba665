// Package analytics builds the usage tracker of the upload client.
package analytics

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
)

type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	RunIDEnvKey = "UPLOAD_RUN_ID"
	RunID       = "run_id"
)

// NewRunTracker returns a tracker whose events all carry the run id and the
// given properties. The run id is read from UPLOAD_RUN_ID, so a wrapping
// script can correlate several invocations; a fresh one is generated
// otherwise.
func NewRunTracker(repository env.Repository, trackerFactory TrackerFactory, properties analytics.Properties) analytics.Tracker {
	runID := repository.Get(RunIDEnvKey)
	if runID == "" {
		runID = uuid.NewString()
	}

	merged := analytics.Properties{RunID: runID}
	for k, v := range properties {
		merged[k] = v
	}
	return trackerFactory(merged)
}

func NewDefaultRunTracker(repository env.Repository, logger log.Logger, properties analytics.Properties) analytics.Tracker {
	return NewRunTracker(repository, func(p ...analytics.Properties) analytics.Tracker {
		return analytics.NewDefaultTracker(logger, p...)
	}, properties)
}
