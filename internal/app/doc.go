// Package app provides the main application logic for exchanging package
// files with remote repositories. It wires the configuration, telemetry
// recorder, and requester together and implements the download, upload,
// and remove operations exposed by the command-line interface.
package app
