// Package config resolves wheelwright's environment and user configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// EnvHome is the environment variable to override the default wheelwright home directory
	EnvHome = "WHEELWRIGHT_HOME"

	// EnvPlat is the environment variable supplying the default target policy
	// for repair when --plat is not given.
	EnvPlat = "AUDITWHEEL_PLAT"

	// EnvSourceDateEpoch is the environment variable pinning archive entry
	// timestamps for reproducible output.
	EnvSourceDateEpoch = "SOURCE_DATE_EPOCH"

	// EnvPatchelf is the environment variable to override the patchelf binary path
	EnvPatchelf = "WHEELWRIGHT_PATCHELF"

	// EnvLDLibraryPath is the runtime linker's extra search path list.
	// The resolver consults it only when the caller opts in.
	EnvLDLibraryPath = "LD_LIBRARY_PATH"
)

// Config holds resolved paths for one invocation.
type Config struct {
	// HomeDir is the wheelwright home directory (~/.wheelwright by default).
	HomeDir string

	// ConfigFile is the path to the user config file.
	ConfigFile string
}

// DefaultConfig resolves the home directory and config file location.
func DefaultConfig() (*Config, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = filepath.Join(userHome, ".wheelwright")
	}

	return &Config{
		HomeDir:    home,
		ConfigFile: filepath.Join(home, "config.toml"),
	}, nil
}

// UserConfig represents user-configurable defaults stored in
// ~/.wheelwright/config.toml.
type UserConfig struct {
	// Plat is the default target policy name for repair.
	// AUDITWHEEL_PLAT takes precedence over this entry.
	Plat string `toml:"plat"`

	// WheelDir is the default output directory for repaired wheels.
	WheelDir string `toml:"wheel_dir"`

	// LibSdir is the suffix of the in-wheel graft directory name.
	LibSdir string `toml:"lib_sdir"`

	// Exclude lists sonames never to graft, in addition to --exclude.
	Exclude []string `toml:"exclude"`
}

// DefaultUserConfig returns a UserConfig with default values.
func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		WheelDir: "wheelhouse",
		LibSdir:  ".libs",
	}
}

// LoadUserConfig reads the config file and returns the configuration.
// Returns default values if the file doesn't exist.
// Returns an error only for file parsing issues, not missing files.
func LoadUserConfig() (*UserConfig, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return DefaultUserConfig(), nil // Silently use defaults
	}
	return loadUserConfigFromPath(cfg.ConfigFile)
}

// loadUserConfigFromPath reads config from a specific file path (for testing).
func loadUserConfigFromPath(path string) (*UserConfig, error) {
	userCfg := DefaultUserConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return userCfg, nil // File doesn't exist, use defaults
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), userCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if userCfg.WheelDir == "" {
		userCfg.WheelDir = "wheelhouse"
	}
	if userCfg.LibSdir == "" {
		userCfg.LibSdir = ".libs"
	}

	return userCfg, nil
}

// DefaultPlat returns the default target policy name: AUDITWHEEL_PLAT if
// set, else the config file's plat entry, else empty.
func DefaultPlat(userCfg *UserConfig) string {
	if plat := os.Getenv(EnvPlat); plat != "" {
		return plat
	}
	if userCfg != nil {
		return userCfg.Plat
	}
	return ""
}

// SourceDateEpoch returns the pinned archive timestamp from
// SOURCE_DATE_EPOCH, or zero time if unset or invalid.
func SourceDateEpoch() time.Time {
	envValue := os.Getenv(EnvSourceDateEpoch)
	if envValue == "" {
		return time.Time{}
	}

	secs, err := strconv.ParseInt(envValue, 10, 64)
	if err != nil || secs < 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, ignoring\n",
			EnvSourceDateEpoch, envValue)
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// PatchelfPath returns the patchelf binary to invoke: the
// WHEELWRIGHT_PATCHELF override if set, else "patchelf" resolved via PATH.
func PatchelfPath() string {
	if p := os.Getenv(EnvPatchelf); p != "" {
		return p
	}
	return "patchelf"
}
