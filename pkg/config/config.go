// Package config loads the servconn YAML configuration and turns it into the
// library configuration of a CSP or D2M connection.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/threema-ch/servconn/pkg/connection"
	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/d2m"
	"github.com/threema-ch/servconn/pkg/layer"
	"github.com/threema-ch/servconn/pkg/wire"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the file format of servconn.
type Config struct {
	Identity    IdentityConfig     `yaml:"identity"`
	Server      ServerConfig       `yaml:"server"`
	MultiDevice *MultiDeviceConfig `yaml:"multi_device,omitempty"`
	Timing      TimingConfig       `yaml:"timing"`
	Discovery   DiscoveryConfig    `yaml:"discovery"`

	// ClientInfo is sent in the CSP login.
	ClientInfo string `yaml:"client_info"`

	// DeviceCookiePath persists the device cookie. Empty keeps it in memory.
	DeviceCookiePath string `yaml:"device_cookie_path"`

	// ProtocolLog is the path of the CBOR protocol capture. Empty disables it.
	ProtocolLog string `yaml:"protocol_log"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
}

// IdentityConfig is the Threema identity used for the login.
type IdentityConfig struct {
	ID string `yaml:"id"`

	// SecretKey is the hex encoded permanent secret key.
	SecretKey string `yaml:"secret_key"`
}

// ServerConfig locates the chat server and the mediator.
type ServerConfig struct {
	// Addresses are CSP host:port pairs, tried in order.
	Addresses []string `yaml:"addresses"`

	// PublicKey and PublicKeyAlt are hex encoded.
	PublicKey    string `yaml:"public_key"`
	PublicKeyAlt string `yaml:"public_key_alt,omitempty"`

	// MediatorURL is extended with the device group id.
	MediatorURL string `yaml:"mediator_url,omitempty"`
}

// MultiDeviceConfig enables the connection through the mediator.
type MultiDeviceConfig struct {
	// DeviceGroupKey is hex encoded.
	DeviceGroupKey   string `yaml:"device_group_key"`
	MediatorDeviceID uint64 `yaml:"mediator_device_id"`
	CspDeviceID      uint64 `yaml:"csp_device_id"`
	Platform         string `yaml:"platform"`
	Label            string `yaml:"label"`
}

// TimingConfig overrides protocol timing. Zero values keep the defaults.
type TimingConfig struct {
	EchoInterval   time.Duration `yaml:"echo_interval,omitempty"`
	EchoTimeout    time.Duration `yaml:"echo_timeout,omitempty"`
	IdleTimeout    time.Duration `yaml:"idle_timeout,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	LockTimeout    time.Duration `yaml:"lock_timeout,omitempty"`

	ReconnectBase float64       `yaml:"reconnect_base,omitempty"`
	ReconnectUnit time.Duration `yaml:"reconnect_unit,omitempty"`
	ReconnectMax  time.Duration `yaml:"reconnect_max,omitempty"`
}

// DiscoveryConfig looks up a chat server on the local network.
type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Default returns a configuration without identity or server.
func Default() *Config {
	return &Config{
		ClientInfo: "servconn",
		LogLevel:   "info",
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// IsMultiDevice reports whether the connection goes through the mediator.
func (c *Config) IsMultiDevice() bool {
	return c.MultiDevice != nil
}

// Validate checks that the configuration can build a connection.
func (c *Config) Validate() error {
	if len(c.Identity.ID) != csp.IdentityLength {
		return fmt.Errorf("%w: identity must have %d characters, got %q", ErrInvalid, csp.IdentityLength, c.Identity.ID)
	}
	if _, err := csp.ParseKey(c.Identity.SecretKey); err != nil {
		return fmt.Errorf("%w: identity secret key: %v", ErrInvalid, err)
	}
	if _, err := csp.ParseKey(c.Server.PublicKey); err != nil {
		return fmt.Errorf("%w: server public key: %v", ErrInvalid, err)
	}
	if c.Server.PublicKeyAlt != "" {
		if _, err := csp.ParseKey(c.Server.PublicKeyAlt); err != nil {
			return fmt.Errorf("%w: alternate server public key: %v", ErrInvalid, err)
		}
	}
	if len(c.Server.Addresses) == 0 && !c.Discovery.Enabled {
		return fmt.Errorf("%w: no server address and discovery disabled", ErrInvalid)
	}

	if md := c.MultiDevice; md != nil {
		if c.Server.MediatorURL == "" {
			return fmt.Errorf("%w: multi-device requires a mediator url", ErrInvalid)
		}
		if _, err := d2m.ParseDeviceGroupKey(md.DeviceGroupKey); err != nil {
			return fmt.Errorf("%w: device group key: %v", ErrInvalid, err)
		}
	}

	t := c.Timing
	if t.IdleTimeout != 0 {
		seconds := int(t.IdleTimeout / time.Second)
		if t.IdleTimeout%time.Second != 0 || seconds < wire.IdleTimeoutMin || seconds > wire.IdleTimeoutMax {
			return fmt.Errorf("%w: idle timeout %v must be whole seconds in [%d, %d]", ErrInvalid, t.IdleTimeout, wire.IdleTimeoutMin, wire.IdleTimeoutMax)
		}
	}
	for name, d := range map[string]time.Duration{
		"echo interval":   t.EchoInterval,
		"echo timeout":    t.EchoTimeout,
		"connect timeout": t.ConnectTimeout,
		"lock timeout":    t.LockTimeout,
		"reconnect unit":  t.ReconnectUnit,
		"reconnect max":   t.ReconnectMax,
	} {
		if d < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalid, name)
		}
	}
	if t.ReconnectBase != 0 && t.ReconnectBase < 1 {
		return fmt.Errorf("%w: reconnect base %v below 1", ErrInvalid, t.ReconnectBase)
	}
	return nil
}

// IdentityStore builds the identity store.
func (c *Config) IdentityStore() (*csp.StaticIdentityStore, error) {
	return csp.NewStaticIdentityStoreFromHex(c.Identity.ID, c.Identity.SecretKey)
}

// AddressProvider builds the static server address provider.
func (c *Config) AddressProvider() (*csp.StaticServerAddressProvider, error) {
	p := &csp.StaticServerAddressProvider{
		Addresses:       append([]string(nil), c.Server.Addresses...),
		MediatorBaseURL: c.Server.MediatorURL,
	}
	var err error
	if p.PublicKey, err = csp.ParseKey(c.Server.PublicKey); err != nil {
		return nil, err
	}
	if c.Server.PublicKeyAlt != "" {
		if p.AltKey, err = csp.ParseKey(c.Server.PublicKeyAlt); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// MultiDeviceProperties derives the device group keys.
func (c *Config) MultiDeviceProperties() (d2m.MultiDeviceProperties, error) {
	md := c.MultiDevice
	if md == nil {
		return d2m.MultiDeviceProperties{}, fmt.Errorf("%w: multi-device is not configured", ErrInvalid)
	}
	key, err := d2m.ParseDeviceGroupKey(md.DeviceGroupKey)
	if err != nil {
		return d2m.MultiDeviceProperties{}, err
	}
	platform := md.Platform
	if platform == "" {
		platform = "servconn"
	}
	return d2m.NewMultiDeviceProperties(key, md.MediatorDeviceID, md.CspDeviceID, d2m.DeviceInfo{
		Platform: platform,
		Label:    md.Label,
	})
}

// Monitoring returns the layer 4 overrides. Zero fields take the protocol
// defaults in the connection.
func (c *Config) Monitoring() layer.MonitoringConfig {
	return layer.MonitoringConfig{
		EchoInterval: c.Timing.EchoInterval,
		EchoTimeout:  c.Timing.EchoTimeout,
		IdleTimeout:  c.Timing.IdleTimeout,
	}
}

// Backoff returns the reconnect backoff configuration.
func (c *Config) Backoff() connection.BackoffConfig {
	return connection.BackoffConfig{
		Base: c.Timing.ReconnectBase,
		Unit: c.Timing.ReconnectUnit,
		Max:  c.Timing.ReconnectMax,
	}
}
