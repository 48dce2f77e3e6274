package httpapi

import "os"

// maxUploadBytes caps the size of a multipart upload request body.
var maxUploadBytes int64 = 512 << 20

// SetMaxUploadBytes configures the upload size cap; n <= 0 restores the
// default of 512 MiB.
func SetMaxUploadBytes(n int64) {
	if n <= 0 {
		maxUploadBytes = 512 << 20
		return
	}
	maxUploadBytes = n
}

// uploadDir is where incoming audio files are spooled before the scheduler
// takes them over.
var uploadDir = os.TempDir()

// SetUploadDir configures the spool directory for uploads. Empty restores
// the system temp dir.
func SetUploadDir(dir string) {
	if dir == "" {
		uploadDir = os.TempDir()
		return
	}
	uploadDir = dir
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
