package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

const (
	configFile             = "config.toml"
	localConfigFile        = "burrow.toml"
	defaultClientName      = "burrow"
	defaultLineBuffer      = 1000
	defaultFlushIntervalMs = 1000
	defaultTickMs          = 100
	defaultSplitRatio      = 0.3
	defaultPort            = 5672
)

// ErrNotFound is returned by Find when no candidate config file exists.
var ErrNotFound = errors.New("no configuration file found")

// Format is the on-disk encoding of a config file.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
	FormatJSON
)

// FormatFor picks the encoding from the file extension. Unknown extensions are TOML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatTOML
	}
}

// FileConfig is the config file structure.
type FileConfig struct {
	Host          string `toml:"host" yaml:"host" json:"host"`
	Port          int    `toml:"port,omitempty" yaml:"port,omitempty" json:"port,omitempty"`
	Username      string `toml:"username" yaml:"username" json:"username"`
	Password      string `toml:"password" yaml:"password" json:"password"`
	VHost         string `toml:"vhost,omitempty" yaml:"vhost,omitempty" json:"vhost,omitempty"`
	Protocol      string `toml:"protocol,omitempty" yaml:"protocol,omitempty" json:"protocol,omitempty"`
	PfxPath       string `toml:"pfx_path,omitempty" yaml:"pfx_path,omitempty" json:"pfx_path,omitempty"`
	PemFile       string `toml:"pem_file,omitempty" yaml:"pem_file,omitempty" json:"pem_file,omitempty"`
	Domain        string `toml:"domain,omitempty" yaml:"domain,omitempty" json:"domain,omitempty"`
	ManagementURL string `toml:"management_url,omitempty" yaml:"management_url,omitempty" json:"management_url,omitempty"`

	ClientName          string `toml:"client_name,omitempty" yaml:"client_name,omitempty" json:"client_name,omitempty"`
	SessionScopedQueues bool   `toml:"session_scoped_queues,omitempty" yaml:"session_scoped_queues,omitempty" json:"session_scoped_queues,omitempty"`
	LineBuffer          int    `toml:"line_buffer,omitempty" yaml:"line_buffer,omitempty" json:"line_buffer,omitempty"`
	FlushIntervalMs     int    `toml:"flush_interval_ms,omitempty" yaml:"flush_interval_ms,omitempty" json:"flush_interval_ms,omitempty"`
	TickMs              int    `toml:"tick_ms,omitempty" yaml:"tick_ms,omitempty" json:"tick_ms,omitempty"`

	Proto   string `toml:"proto,omitempty" yaml:"proto,omitempty" json:"proto,omitempty"`
	Archive bool   `toml:"archive,omitempty" yaml:"archive,omitempty" json:"archive,omitempty"`
	DBPath  string `toml:"db,omitempty" yaml:"db,omitempty" json:"db,omitempty"`

	UI        UIConfig   `toml:"ui" yaml:"ui" json:"ui"`
	Exchanges []Exchange `toml:"exchanges" yaml:"exchanges" json:"items"`

	path   string
	format Format
}

// UIConfig holds UI-related settings.
type UIConfig struct {
	SplitRatio float64 `toml:"split_ratio,omitempty" yaml:"split_ratio,omitempty" json:"split_ratio,omitempty"`
	ShowLogs   bool    `toml:"show_logs" yaml:"show_logs" json:"show_logs"`
}

// Exchange is one entry of the exchange list as stored on disk.
type Exchange struct {
	Name        string `toml:"exchange_name" yaml:"exchange_name" json:"exchange_name"`
	Type        string `toml:"exchange_type" yaml:"exchange_type" json:"exchange_type"`
	RoutingKey  string `toml:"queue_routing_key,omitempty" yaml:"queue_routing_key,omitempty" json:"queue_routing_key,omitempty"`
	Alias       string `toml:"alias,omitempty" yaml:"alias,omitempty" json:"alias,omitempty"`
	Pretty      bool   `toml:"pretty" yaml:"pretty" json:"pretty"`
	LogFile     string `toml:"log_file,omitempty" yaml:"log_file,omitempty" json:"log_file,omitempty"`
	PublishFile string `toml:"publish_file,omitempty" yaml:"publish_file,omitempty" json:"publish_file,omitempty"`
	ProtoType   string `toml:"proto_type,omitempty" yaml:"proto_type,omitempty" json:"proto_type,omitempty"`
}

// Connection is the resolved broker endpoint and credentials.
type Connection struct {
	Protocol string
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
	PfxPath  string
	PemFile  string
	Domain   string
}

// TLS reports whether the client identity and trusted root are both configured.
func (c Connection) TLS() bool {
	return c.PfxPath != "" && c.PemFile != ""
}

// Address returns host:port.
func (c Connection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL builds the AMQP URI for the connection.
func (c Connection) URL() string {
	scheme := c.Protocol
	if scheme == "" {
		scheme = "amqp"
	}
	if c.TLS() {
		scheme = "amqps"
	}
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Address(),
		Path:   "/" + c.VHost,
	}
	if c.VHost == "/" || c.VHost == "" {
		u.Path = "/"
	}
	return u.String()
}

// Path returns the file the config was loaded from.
func (fc *FileConfig) Path() string { return fc.path }

// Format returns the encoding the config was loaded with.
func (fc *FileConfig) Format() Format { return fc.format }

// Find returns the first existing config file. An explicit path wins and must
// exist; otherwise ./burrow.toml, configDir/config.toml and ~/burrow.toml are tried.
func Find(explicit, configDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{localConfigFile}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, configFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, localConfigFile))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", ErrNotFound
}

// Load reads and decodes the config file at path.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("config file %s is empty", path)
	}

	cfg := FileConfig{path: path, format: FormatFor(path)}
	switch cfg.format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	case FormatJSON:
		err = json.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config back to the file it was loaded from, in the same format.
func (fc *FileConfig) Save() error {
	if fc.path == "" {
		return errors.New("config has no file path")
	}
	return fc.SaveAs(fc.path)
}

// SaveAs encodes the config to path, choosing the format from its extension.
func (fc *FileConfig) SaveAs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch FormatFor(path) {
	case FormatYAML:
		data, err = yaml.Marshal(fc)
	case FormatJSON:
		data, err = json.MarshalIndent(fc, "", "  ")
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(fc)
		data = buf.Bytes()
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Connection resolves the broker endpoint. When the file leaves host empty,
// AMQP_URL or RABBITMQ_URL fill in scheme, host, port, credentials and vhost.
func (fc FileConfig) Connection() Connection {
	c := Connection{
		Protocol: fc.Protocol,
		Host:     fc.Host,
		Port:     fc.Port,
		Username: fc.Username,
		Password: fc.Password,
		VHost:    fc.VHost,
		PfxPath:  fc.PfxPath,
		PemFile:  fc.PemFile,
		Domain:   fc.Domain,
	}

	if c.Host == "" {
		raw := os.Getenv("AMQP_URL")
		if raw == "" {
			raw = os.Getenv("RABBITMQ_URL")
		}
		if u, err := url.Parse(raw); err == nil && raw != "" {
			c.Protocol = u.Scheme
			c.Host = u.Hostname()
			if p, err := strconv.Atoi(u.Port()); err == nil {
				c.Port = p
			}
			if u.User != nil {
				c.Username = u.User.Username()
				c.Password, _ = u.User.Password()
			}
			c.VHost = strings.TrimPrefix(u.Path, "/")
		}
	}

	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Protocol == "" {
		c.Protocol = "amqp"
	}
	if c.Domain == "" {
		c.Domain = c.Host
	}
	return c
}

// QueuePrefix returns the client name used to derive queue names.
func (fc FileConfig) QueuePrefix() string {
	if fc.ClientName == "" {
		return defaultClientName
	}
	return fc.ClientName
}

// LineCapacity returns LineBuffer, falling back to the default if unset.
func (fc FileConfig) LineCapacity() int {
	if fc.LineBuffer <= 0 {
		return defaultLineBuffer
	}
	return fc.LineBuffer
}

// FlushInterval is the file log flush threshold.
func (fc FileConfig) FlushInterval() time.Duration {
	if fc.FlushIntervalMs <= 0 {
		return defaultFlushIntervalMs * time.Millisecond
	}
	return time.Duration(fc.FlushIntervalMs) * time.Millisecond
}

// TickInterval is the UI render tick.
func (fc FileConfig) TickInterval() time.Duration {
	if fc.TickMs <= 0 {
		return defaultTickMs * time.Millisecond
	}
	return time.Duration(fc.TickMs) * time.Millisecond
}

// SplitRatio returns the selector pane width ratio.
func (fc FileConfig) SplitRatio() float64 {
	if fc.UI.SplitRatio <= 0 || fc.UI.SplitRatio >= 1 {
		return defaultSplitRatio
	}
	return fc.UI.SplitRatio
}

// HasExchange reports whether an exchange with this name is already listed.
func (fc FileConfig) HasExchange(name string) bool {
	for _, ex := range fc.Exchanges {
		if ex.Name == name {
			return true
		}
	}
	return false
}
