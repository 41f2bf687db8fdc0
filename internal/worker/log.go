package worker

import "github.com/ShayCichocki/mosaic/internal/logging"

func debugLog(format string, args ...interface{}) {
	logging.Debug(format, args...)
}
