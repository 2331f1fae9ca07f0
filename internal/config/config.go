// Package config loads the service configuration from CUE.
//
// The embedded schema constrains and defaults every field; a user file is
// unified with it, so typos and out-of-range values fail at load time with
// the CUE position of the offending field.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schema []byte

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalJSON parses "30s" style strings.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON renders the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the decoded configuration.
type Config struct {
	Server     Server     `json:"server" yaml:"server"`
	Store      Store      `json:"store" yaml:"store"`
	Log        Log        `json:"log" yaml:"log"`
	Graph      Graph      `json:"graph" yaml:"graph"`
	Ledger     Ledger     `json:"ledger" yaml:"ledger"`
	Collab     Collab     `json:"collab" yaml:"collab"`
	Presence   Presence   `json:"presence" yaml:"presence"`
	Governance Governance `json:"governance" yaml:"governance"`
	Scanner    Scanner    `json:"scanner" yaml:"scanner"`
}

type Server struct {
	Addr            string   `json:"addr" yaml:"addr"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	WSRate          float64  `json:"ws_rate" yaml:"ws_rate"`
	WSBurst         int      `json:"ws_burst" yaml:"ws_burst"`
}

type Store struct {
	Path string `json:"path" yaml:"path"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Graph struct {
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
}

type Ledger struct {
	VerifyOnStart bool `json:"verify_on_start" yaml:"verify_on_start"`
}

type Collab struct {
	SnapshotEvery int      `json:"snapshot_every" yaml:"snapshot_every"`
	DrainTimeout  Duration `json:"drain_timeout" yaml:"drain_timeout"`
	LoadTimeout   Duration `json:"load_timeout" yaml:"load_timeout"`
	ScanDebounce  Duration `json:"scan_debounce" yaml:"scan_debounce"`
	Retention     int64    `json:"retention" yaml:"retention"`
	SendBuffer    int      `json:"send_buffer" yaml:"send_buffer"`
}

type Presence struct {
	HeartbeatTimeout Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	RoomIdleTimeout  Duration `json:"room_idle_timeout" yaml:"room_idle_timeout"`
	SweepInterval    Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type Governance struct {
	Restricted      bool     `json:"restricted" yaml:"restricted"`
	GateURL         string   `json:"gate_url" yaml:"gate_url"`
	Mode            string   `json:"mode" yaml:"mode"`
	BlockOnEscalate bool     `json:"block_on_escalate" yaml:"block_on_escalate"`
	Timeout         Duration `json:"timeout" yaml:"timeout"`
}

type Scanner struct {
	URL     string   `json:"url" yaml:"url"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// Default returns the schema defaults.
func Default() (Config, error) {
	return Parse(nil, "default.cue")
}

// Load reads and validates a CUE config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates src against the schema and decodes it. filename is used
// in error positions only.
func Parse(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	s := ctx.CompileBytes(schema, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}
	def := s.LookupPath(cue.ParsePath("#Config"))

	file := ctx.CompileBytes(src, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return Config{}, fmt.Errorf("parse %s: %s", filename, cueerrors.Details(err, nil))
	}

	v := def.Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %s", filename, cueerrors.Details(err, nil))
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", filename, err)
	}
	return cfg, nil
}
