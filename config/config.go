// Package config provides the gobdoc configuration: trust-anchor and
// revocation sources, validation policy location, network timeouts and
// logging settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrInvalidMode        = errors.New("invalid configuration mode")
	ErrInvalidCacheSize   = errors.New("invalid data file cache size")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: ErrConfigurationError}
}

// Mode selects the default trust-anchor and service endpoints.
type Mode string

const (
	ModeProd Mode = "PROD"
	ModeTest Mode = "TEST"
)

// ModeEnvVar is consulted by New when no explicit mode is given.
const ModeEnvVar = "GOBDOC_MODE"

// Data file cache sizes with a special meaning.
const (
	CacheAllDataFiles = int64(-1)
	CacheNoDataFiles  = int64(0)
)

// OneMBInBytes is used to convert the cache size setting.
const OneMBInBytes = int64(1024 * 1024)

// Default endpoints.
const (
	DefaultProdTSLLocation  = "https://ec.europa.eu/information_society/policy/esignature/trusted-list/tl-mp.xml"
	DefaultTestTSLLocation  = "https://open-eid.github.io/test-TL/tl-mp-test-EE.xml"
	DefaultProdTSPSource    = "http://tsa.sk.ee"
	DefaultTestTSPSource    = "http://demo.sk.ee/tsa"
	DefaultProdOCSPSource   = "http://ocsp.sk.ee/"
	DefaultTestOCSPSource   = "http://www.openxades.org/cgi-bin/ocsp.cgi"
	DefaultValidationPolicy = "conf/constraint.xml"
	DefaultTimeoutMillis    = 1000
)

// Configuration is the read-only view the validation core is given. It is
// resolved once per validation context.
type Configuration struct {
	// Mode is PROD or TEST.
	Mode Mode `yaml:"mode" json:"mode"`

	// TSLLocation is the trusted list location (URL, file: URL or path).
	TSLLocation string `yaml:"tsl-location" json:"tsl_location,omitempty"`

	// TSPSource is the RFC 3161 time-stamping service URL.
	TSPSource string `yaml:"tsp-source" json:"tsp_source,omitempty"`

	// OCSPSource overrides the OCSP responder found in certificates.
	OCSPSource string `yaml:"ocsp-source" json:"ocsp_source,omitempty"`

	// ValidationPolicy is a file path or the name of a bundled policy.
	ValidationPolicy string `yaml:"validation-policy" json:"validation_policy,omitempty"`

	// OCSPAccessCertificateFile is a PKCS#12 file presented to the OCSP responder.
	OCSPAccessCertificateFile string `yaml:"ocsp-access-certificate-file" json:"ocsp_access_certificate_file,omitempty"`

	// OCSPAccessCertificatePassword unlocks OCSPAccessCertificateFile.
	OCSPAccessCertificatePassword string `yaml:"ocsp-access-certificate-password" json:"-"`

	// ConnectionTimeout in milliseconds.
	ConnectionTimeout int `yaml:"connection-timeout" json:"connection_timeout,omitempty"`

	// SocketTimeout in milliseconds.
	SocketTimeout int `yaml:"socket-timeout" json:"socket_timeout,omitempty"`

	// MaxDataFileCached is the data file cache size in megabytes.
	MaxDataFileCached int64 `yaml:"max-data-file-cached" json:"max_data_file_cached"`

	// TrustAnchors are additional PEM/DER certificate files trusted
	// alongside the trusted list.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// New returns a configuration with defaults for the given mode. An empty
// mode is taken from GOBDOC_MODE, falling back to PROD.
func New(mode Mode) *Configuration {
	if mode == "" {
		mode = Mode(strings.ToUpper(os.Getenv(ModeEnvVar)))
		if mode != ModeTest {
			mode = ModeProd
		}
	}
	c := &Configuration{Mode: mode}
	c.SetDefaults()
	return c
}

// SetDefaults fills every unset field with the default for the current mode.
func (c *Configuration) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeProd
	}
	test := c.Mode == ModeTest
	if c.TSLLocation == "" {
		c.TSLLocation = pick(test, DefaultTestTSLLocation, DefaultProdTSLLocation)
	}
	if c.TSPSource == "" {
		c.TSPSource = pick(test, DefaultTestTSPSource, DefaultProdTSPSource)
	}
	if c.OCSPSource == "" {
		c.OCSPSource = pick(test, DefaultTestOCSPSource, DefaultProdOCSPSource)
	}
	if c.ValidationPolicy == "" {
		c.ValidationPolicy = DefaultValidationPolicy
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultTimeoutMillis
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = DefaultTimeoutMillis
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
}

func pick(test bool, testValue, prodValue string) string {
	if test {
		return testValue
	}
	return prodValue
}

// IsTest reports whether the configuration runs against test services.
func (c *Configuration) IsTest() bool {
	return c.Mode == ModeTest
}

// IsOCSPSigningConfigurationAvailable reports whether both the OCSP access
// certificate file and its password are configured.
func (c *Configuration) IsOCSPSigningConfigurationAvailable() bool {
	return c.OCSPAccessCertificateFile != "" && c.OCSPAccessCertificatePassword != ""
}

// SetMaxDataFileCached sets the cache size in megabytes. Values below -1
// are rejected and the previous value is kept.
func (c *Configuration) SetMaxDataFileCached(mb int64) error {
	if mb < CacheAllDataFiles {
		return &ConfigError{
			Field:   "max-data-file-cached",
			Message: fmt.Sprintf("value %d is not allowed", mb),
			Err:     ErrInvalidCacheSize,
		}
	}
	c.MaxDataFileCached = mb
	return nil
}

// MaxDataFileCachedInBytes converts the cache size to bytes. The special
// values -1 and 0 are returned unchanged.
func (c *Configuration) MaxDataFileCachedInBytes() int64 {
	if c.MaxDataFileCached <= CacheNoDataFiles {
		return c.MaxDataFileCached
	}
	return c.MaxDataFileCached * OneMBInBytes
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	switch c.Mode {
	case ModeProd, ModeTest:
	default:
		return &ConfigError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", c.Mode), Err: ErrInvalidMode}
	}
	if c.ConnectionTimeout < 0 {
		return NewConfigError("connection-timeout", "must not be negative")
	}
	if c.SocketTimeout < 0 {
		return NewConfigError("socket-timeout", "must not be negative")
	}
	if c.MaxDataFileCached < CacheAllDataFiles {
		return &ConfigError{
			Field:   "max-data-file-cached",
			Message: fmt.Sprintf("value %d is not allowed", c.MaxDataFileCached),
			Err:     ErrInvalidCacheSize,
		}
	}
	if c.OCSPAccessCertificatePassword != "" && c.OCSPAccessCertificateFile == "" {
		return NewConfigError("ocsp-access-certificate-file", "password given without a certificate file")
	}
	return nil
}

// LoadConfiguration loads a configuration from a YAML file.
func LoadConfiguration(filename string) (*Configuration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfiguration(data)
}

// ParseConfiguration parses configuration from YAML data, applies the
// defaults for the configured mode and validates the result.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to parse config: %v", err), Err: err}
	}
	if raw != nil {
		if _, ok := raw.(map[string]any); !ok {
			return nil, NewConfigError("", "configuration must be a YAML mapping")
		}
	}

	var config Configuration
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to parse config: %v", err), Err: err}
	}
	config.Mode = Mode(strings.ToUpper(string(config.Mode)))
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}
