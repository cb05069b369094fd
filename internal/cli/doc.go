// Package cli parses the command line into the app's configuration and maps
// the app's outcome to process exit codes.
package cli
