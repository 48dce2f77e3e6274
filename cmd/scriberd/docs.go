package main

// General API documentation for swaggo. Run `make swagger-gen` to regenerate.
//
// @title           scriberd API
// @version         1.0
// @description     HTTP API for audio transcription with word alignment and speaker diarization.
//
// @contact.name   scriberd maintainers
// @contact.url    https://github.com/your-org/scriberd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
