package utils

import "go.uber.org/zap"

// Must stops the process when a startup step failed.
func Must(log *zap.Logger, err error, step string) {
	if err != nil {
		log.Fatal(step+" failed", zap.Error(err))
	}
}
