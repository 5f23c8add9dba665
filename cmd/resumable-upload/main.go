package main

import (
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

func main() {
	logger := log.NewLogger()
	if err := newRootCmd(env.NewRepository(), logger).Execute(); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}
