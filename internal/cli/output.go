package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Check failed: tampered chain, cycle found, scenario failed
	ExitCommandError = 2 // Command error (bad flags, unknown artifact, unreadable config)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor maps a domain error to an exit code. Caller mistakes are
// command errors; integrity findings and outages are failures.
func exitCodeFor(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeValidation, errs.CodeNotFound:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// OutputFormatter renders command results as text, JSON or YAML.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the envelope for JSON and YAML output. It mirrors the
// HTTP API envelope.
type CLIResponse struct {
	Status string    `json:"status" yaml:"status"`                   // "ok" or "error"
	Data   any       `json:"data,omitempty" yaml:"data,omitempty"`   // success payload
	Error  *CLIError `json:"error,omitempty" yaml:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code" yaml:"code"`                           // errs code, e.g. "TAMPER"
	Message string `json:"message" yaml:"message"`                     // human-readable message
	Details any    `json:"details,omitempty" yaml:"details,omitempty"` // additional context
}

// Success outputs a successful result. Text output prints data with %v;
// commands with a richer text form use Emit.
func (f *OutputFormatter) Success(data any) error {
	return f.Emit(data, func(w io.Writer) {
		fmt.Fprintln(w, data)
	})
}

// Emit writes data as an envelope in the structured formats and calls text
// for the human-readable one.
func (f *OutputFormatter) Emit(data any, text func(w io.Writer)) error {
	switch f.Format {
	case "json", "yaml":
		return f.encode(CLIResponse{Status: "ok", Data: data})
	default:
		text(f.Writer)
		return nil
	}
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	switch f.Format {
	case "json", "yaml":
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports a domain error and returns the ExitError the command should
// return.
func (f *OutputFormatter) Fail(message string, err error) error {
	var details map[string]any
	var e *errs.Error
	if errors.As(err, &e) {
		details = e.Details
	}
	if werr := f.Error(string(errs.CodeOf(err)), fmt.Sprintf("%s: %v", message, err), details); werr != nil {
		return werr
	}
	return WrapExitError(exitCodeFor(err), message, err)
}

// encode writes the envelope. YAML goes through a JSON round trip so both
// formats share field names.
func (f *OutputFormatter) encode(resp CLIResponse) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	enc := yaml.NewEncoder(f.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
