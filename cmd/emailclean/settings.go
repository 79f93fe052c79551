package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// settings is the resolved CLI configuration.
type settings struct {
	Input       string
	Output      string
	Format      string
	EmailField  string
	NameField   string
	Workers     int
	Resolver    string
	DoHEndpoint string
	Timeout     time.Duration
	LogLevel    string
	LogFormat   string
}

const usage = `Usage: emailclean [flags] <file.csv|file.xlsx>

Validates every address in the file and writes Email,Name,Valid,Reason rows.

Settings come from, lowest to highest precedence: built-in defaults, a
config file (-config), EMAILCLEAN_* environment variables, then flags.

Flags:
`

// loadSettings parses args and layers them over the config file and
// environment.
func loadSettings(args []string, stderr io.Writer) (settings, error) {
	v := viper.New()
	v.SetDefault("output", "-")
	v.SetDefault("workers", 1)
	v.SetDefault("resolver", "doh")
	v.SetDefault("doh-endpoint", "https://dns.google/resolve")
	v.SetDefault("timeout", 5*time.Second)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")

	v.SetEnvPrefix("EMAILCLEAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := flag.NewFlagSet("emailclean", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configFile := fs.String("config", "", "config file (yaml, json or toml)")
	fs.String("output", "-", "output file; - writes to stdout")
	fs.String("format", "", "csv or xlsx (default: from -output extension, else csv)")
	fs.String("email", "", "email column (default: guessed from headers)")
	fs.String("name", "", "name column (default: guessed from headers)")
	fs.Int("workers", 1, "lookups in flight; 1 is sequential")
	fs.String("resolver", "doh", "doh or system")
	fs.String("doh-endpoint", "https://dns.google/resolve", "DNS-over-HTTPS JSON endpoint")
	fs.Duration("timeout", 5*time.Second, "per-lookup timeout")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "text", "text or json")

	if err := fs.Parse(args); err != nil {
		return settings{}, err
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	// Only flags given on the command line override lower layers.
	fs.Visit(func(f *flag.Flag) {
		if f.Name != "config" {
			v.Set(f.Name, f.Value.String())
		}
	})

	s := settings{
		Output:      v.GetString("output"),
		Format:      v.GetString("format"),
		EmailField:  v.GetString("email"),
		NameField:   v.GetString("name"),
		Workers:     v.GetInt("workers"),
		Resolver:    v.GetString("resolver"),
		DoHEndpoint: v.GetString("doh-endpoint"),
		Timeout:     v.GetDuration("timeout"),
		LogLevel:    v.GetString("log-level"),
		LogFormat:   v.GetString("log-format"),
	}

	switch fs.NArg() {
	case 1:
		s.Input = fs.Arg(0)
	case 0:
		s.Input = v.GetString("input")
	default:
		return settings{}, errors.New("expected exactly one input file")
	}
	if s.Input == "" {
		fs.Usage()
		return settings{}, errors.New("no input file given")
	}
	if s.Workers < 1 {
		return settings{}, fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	return s, nil
}
