package output

import (
	"encoding/json"
	"io"
	"os"
)

// Response represents a standard JSON response envelope shared by the CLI
// and the HTTP API.
type Response struct {
	SchemaVersion string      `json:"schema_version"`
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Success wraps a successful response with data
func Success(data interface{}) Response {
	return Response{
		SchemaVersion: "v1",
		Success:       true,
		Data:          data,
	}
}

// Error wraps an error in a response
func Error(err error) Response {
	return Response{
		SchemaVersion: "v1",
		Success:       false,
		Error:         err.Error(),
	}
}

// Print prints a value as JSON to stdout
func Print(v interface{}) error {
	return Write(os.Stdout, v)
}

// Write encodes a value as JSON to w. Compact by default to keep output
// small for machine consumption; DEVPULSE_PRETTY_JSON=1 enables indentation.
func Write(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	if os.Getenv("DEVPULSE_PRETTY_JSON") == "1" || os.Getenv("DEVPULSE_PRETTY_JSON") == "true" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// PrintSuccess prints a success response
func PrintSuccess(data interface{}) error {
	return Print(Success(data))
}

// PrintError prints an error response
func PrintError(err error) error {
	return Print(Error(err))
}
