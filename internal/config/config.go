package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel       = string(LogLevelWarning)
	DefaultInterval       = 250 * time.Millisecond
	DefaultChannels       = 32
	DefaultWritesInFlight = 8
	DefaultMaxCores       = 16
	DefaultDrainTimeout   = time.Second
	DefaultUSBVendor      = 0x05ac
	DefaultUSBProduct     = 0x8261
	DefaultUSBTimeout     = time.Second
	DefaultSerialPort     = "/dev/ttyUSB0"
	DefaultSerialBaud     = 115200
	DefaultMetricsDB      = "/var/lib/frontpanelctl/metrics.db"
	DefaultBatchSize      = 20
	DefaultBatchTimeout   = 10 * time.Second

	maxUSBID = 0xffff

	defaultConfigName = "frontpanelctl"
	defaultConfigDir  = "/etc"
	defaultEnvPrefix  = "FRONTPANEL"
)

type USBConfig struct {
	Vendor  int           `mapstructure:"vendor" yaml:"vendor"`
	Product int           `mapstructure:"product" yaml:"product"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SerialConfig struct {
	Port     string        `mapstructure:"port" yaml:"port"`
	BaudRate int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Config struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	Channels       int           `mapstructure:"channels" yaml:"channels"`
	WritesInFlight int           `mapstructure:"writes_in_flight" yaml:"writes_in_flight"`
	MaxCores       int           `mapstructure:"max_cores" yaml:"max_cores"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	Transport      string        `mapstructure:"transport" yaml:"transport"`
	USB            USBConfig     `mapstructure:"usb" yaml:"usb"`
	Serial         SerialConfig  `mapstructure:"serial" yaml:"serial"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	Metrics        bool          `mapstructure:"metrics" yaml:"metrics"`
	MetricsDB      string        `mapstructure:"metrics_db" yaml:"metrics_db"`
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	DumpConfig     bool          `mapstructure:"dump_config" yaml:"-"`
}

// Load reads configuration from defaults, the config file, the environment
// and the given command line arguments, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		configPath: os.Getenv(defaultEnvPrefix + "_CONFIG"),
		envPrefix:  defaultEnvPrefix,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet(defaultConfigName, pflag.ContinueOnError)
	fs.String("config", o.configPath, "Path to the configuration file")
	fs.Duration("interval", DefaultInterval, "Sampling interval")
	fs.Int("channels", DefaultChannels, "Number of output channels on the panel")
	fs.Int("writes-in-flight", DefaultWritesInFlight, "Maximum concurrent writes to the device")
	fs.Int("max-cores", DefaultMaxCores, "Highest number of cores mapped to channels")
	fs.Duration("drain-timeout", DefaultDrainTimeout, "How long suspend and reset wait for pending writes")
	fs.String("transport", TransportUSB, "Output transport: usb, serial or loopback")
	fs.String("serial-port", DefaultSerialPort, "Serial device used by the serial transport")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	fs.Bool("metrics", false, "Record emitted frames to the metrics database")
	fs.String("metrics-db", DefaultMetricsDB, "Path to the metrics database")
	fs.Bool("dump-config", false, "Print the effective configuration as YAML and exit")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"interval":         "interval",
		"channels":         "channels",
		"writes_in_flight": "writes-in-flight",
		"max_cores":        "max-cores",
		"drain_timeout":    "drain-timeout",
		"transport":        "transport",
		"serial.port":      "serial-port",
		"log_level":        "log-level",
		"metrics":          "metrics",
		"metrics_db":       "metrics-db",
		"dump_config":      "dump-config",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(defaultConfigDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("channels", DefaultChannels)
	v.SetDefault("writes_in_flight", DefaultWritesInFlight)
	v.SetDefault("max_cores", DefaultMaxCores)
	v.SetDefault("drain_timeout", DefaultDrainTimeout)
	v.SetDefault("transport", TransportUSB)
	v.SetDefault("usb.vendor", DefaultUSBVendor)
	v.SetDefault("usb.product", DefaultUSBProduct)
	v.SetDefault("usb.timeout", DefaultUSBTimeout)
	v.SetDefault("serial.port", DefaultSerialPort)
	v.SetDefault("serial.baud_rate", DefaultSerialBaud)
	v.SetDefault("serial.timeout", DefaultUSBTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", DefaultMetricsDB)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("batch_timeout", DefaultBatchTimeout)
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	switch {
	case c.Channels <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "channels must be positive")
	case c.WritesInFlight <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "writes_in_flight must be positive")
	case c.MaxCores <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "max_cores must be positive")
	case c.DrainTimeout <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "drain_timeout must be positive")
	}

	switch c.Transport {
	case TransportUSB, TransportSerial, TransportLoopback:
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown transport "+c.Transport)
	}

	if c.USB.Vendor < 0 || c.USB.Vendor > maxUSBID || c.USB.Product < 0 || c.USB.Product > maxUSBID {
		return errFactory.WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("usb vendor and product must be within 0x0000-0xffff, got %#x:%#x", c.USB.Vendor, c.USB.Product))
	}

	if c.Metrics && c.MetricsDB == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "metrics_db is required when metrics are enabled")
	}

	return nil
}
