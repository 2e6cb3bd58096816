// Package config resolves client settings from environment variables and
// cloudstack.ini profile files, mirroring the lookup order of the other
// CloudStack command line tools.
package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	ini "gopkg.in/ini.v1"

	"github.com/exoscale/cs/pkg/cloudstack"
)

// DefaultRegion is the profile used when neither the caller nor
// CLOUDSTACK_REGION names one.
const DefaultRegion = "cloudstack"

const envPrefix = "CLOUDSTACK_"

var requiredKeys = []string{"endpoint", "key", "secret", "method", "timeout"}

var allowedKeys = []string{
	"verify", "cert", "retry", "theme", "expiration", "poll_interval",
	"job_timeout", "trace", "dangerous_no_tls_verify", "name",
}

var defaults = map[string]string{
	"method":        "get",
	"timeout":       "10",
	"retry":         "0",
	"expiration":    "600",
	"poll_interval": "2",
}

// Settings are the resolved, typed client settings. Durations are in
// seconds in their serialized form, matching the INI files and
// environment variables of the original tooling.
type Settings struct {
	Endpoint             string  `mapstructure:"endpoint"`
	Key                  string  `mapstructure:"key"`
	Secret               string  `mapstructure:"secret"`
	Method               string  `mapstructure:"method"`
	Timeout              int     `mapstructure:"timeout"`
	Retry                int     `mapstructure:"retry"`
	Verify               string  `mapstructure:"verify"`
	Cert                 string  `mapstructure:"cert"`
	Name                 string  `mapstructure:"name"`
	Theme                string  `mapstructure:"theme"`
	Expiration           int     `mapstructure:"expiration"`
	PollInterval         float64 `mapstructure:"poll_interval"`
	JobTimeout           int     `mapstructure:"job_timeout"`
	Trace                bool    `mapstructure:"trace"`
	DangerousNoTLSVerify bool    `mapstructure:"dangerous_no_tls_verify"`

	Headers map[string]string `mapstructure:"-"`
}

// Validate checks the resolved settings before a client is built from
// them.
func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Endpoint, validation.Required, is.RequestURL),
		validation.Field(&s.Method, validation.In("get", "post")),
		validation.Field(&s.Retry, validation.Min(0)),
		validation.Field(&s.Timeout, validation.Min(1)),
	)
}

// ClientConfig converts the settings into a client configuration.
func (s *Settings) ClientConfig() *cloudstack.Config {
	cfg := &cloudstack.Config{
		Endpoint:             s.Endpoint,
		Key:                  s.Key,
		Secret:               s.Secret,
		Method:               s.Method,
		Verify:               s.Verify,
		Cert:                 s.Cert,
		Name:                 s.Name,
		Retry:                s.Retry,
		Timeout:              time.Duration(s.Timeout) * time.Second,
		JobTimeout:           time.Duration(s.JobTimeout) * time.Second,
		PollInterval:         time.Duration(s.PollInterval * float64(time.Second)),
		Expiration:           time.Duration(s.Expiration) * time.Second,
		Trace:                s.Trace,
		DangerousNoTLSVerify: s.DangerousNoTLSVerify,
	}
	if len(s.Headers) > 0 {
		cfg.Headers = http.Header{}
		for k, v := range s.Headers {
			cfg.Headers.Set(k, v)
		}
	}
	return cfg
}

// Resolver reads settings from the environment and INI files. The zero
// value uses the process environment and the OS filesystem; tests swap
// both out.
type Resolver struct {
	Fs        afero.Fs
	LookupEnv func(string) (string, bool)
	HomeDir   string
	WorkDir   string
}

func (r *Resolver) fs() afero.Fs {
	if r.Fs != nil {
		return r.Fs
	}
	return afero.NewOsFs()
}

func (r *Resolver) getenv(key string) string {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(key)
	return v
}

// Resolve builds the settings for the named profile. Environment
// variables fill in first; when any required key is missing, or
// CLOUDSTACK_OVERRIDES is set, an INI profile supplies the rest, with the
// named override keys keeping their environment value.
func (r *Resolver) Resolve(region string) (*Settings, error) {
	conf := map[string]string{}
	for k, v := range defaults {
		conf[k] = v
	}
	envConf := map[string]string{}
	for _, key := range append(append([]string{}, requiredKeys...), allowedKeys...) {
		if v := r.getenv(envPrefix + strings.ToUpper(key)); v != "" {
			envConf[key] = v
		}
	}
	for k, v := range envConf {
		conf[k] = v
	}

	overrides := strings.TrimSpace(r.getenv(envPrefix + "OVERRIDES"))
	if overrides == "" && hasAll(conf, requiredKeys) {
		return r.finish(conf, nil)
	}

	iniConf, headers, err := r.readINI(region)
	if err != nil {
		return nil, err
	}
	for k, v := range iniConf {
		conf[k] = v
	}
	for _, key := range splitOverrides(overrides) {
		if v, ok := envConf[key]; ok {
			conf[key] = v
		}
	}

	var missing *multierror.Error
	for _, key := range requiredKeys {
		if conf[key] == "" {
			missing = multierror.Append(missing, fmt.Errorf("missing configuration key %q", key))
		}
	}
	if err := missing.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r.finish(conf, headers)
}

func (r *Resolver) finish(conf map[string]string, headers map[string]string) (*Settings, error) {
	if v, ok := conf["dangerous_no_tls_verify"]; ok {
		b, err := strtobool(v)
		if err != nil {
			return nil, fmt.Errorf("dangerous_no_tls_verify: %w", err)
		}
		conf["dangerous_no_tls_verify"] = b
	}
	if v, ok := conf["trace"]; ok && v != "" {
		if b, err := strtobool(v); err == nil {
			conf["trace"] = b
		}
	}

	var settings Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &settings,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(conf); err != nil {
		return nil, err
	}
	settings.Headers = headers
	settings.Method = strings.ToLower(settings.Method)
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// readINI loads the profile from ~/.cloudstack.ini, ./cloudstack.ini and
// $CLOUDSTACK_CONFIG, in that order with the last file read winning.
func (r *Resolver) readINI(region string) (map[string]string, map[string]string, error) {
	home := r.HomeDir
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	work := r.WorkDir
	if work == "" {
		work, _ = os.Getwd()
	}
	paths := []string{
		filepath.Join(home, ".cloudstack.ini"),
		filepath.Join(work, "cloudstack.ini"),
	}
	if p := r.getenv(envPrefix + "CONFIG"); p != "" {
		paths = append(paths, p)
	}

	var sources [][]byte
	for _, p := range paths {
		data, err := afero.ReadFile(r.fs(), p)
		if err != nil {
			continue
		}
		sources = append(sources, data)
	}
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("config file not found, tried %s", strings.Join(paths, ", "))
	}

	first, rest := sources[0], make([]any, 0, len(sources)-1)
	for _, s := range sources[1:] {
		rest = append(rest, s)
	}
	file, err := ini.Load(first, rest...)
	if err != nil {
		return nil, nil, fmt.Errorf("reading configuration: %w", err)
	}

	explicit := region != ""
	if region == "" {
		region = r.getenv(envPrefix + "REGION")
	}
	if region == "" {
		region = DefaultRegion
	}
	section, err := file.GetSection(region)
	if err != nil {
		if explicit {
			return nil, nil, fmt.Errorf("region %q not found in configuration", region)
		}
		return map[string]string{}, nil, nil
	}

	conf := map[string]string{"name": region}
	headers := map[string]string{}
	for _, key := range section.Keys() {
		name, value := key.Name(), key.Value()
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(name, "header_"):
			headers[strings.TrimPrefix(name, "header_")] = value
		case keyAllowed(name):
			conf[name] = value
		}
	}
	if len(headers) == 0 {
		headers = nil
	}
	return conf, headers, nil
}

func keyAllowed(name string) bool {
	for _, k := range requiredKeys {
		if name == k {
			return true
		}
	}
	for _, k := range allowedKeys {
		if name == k {
			return true
		}
	}
	return false
}

func hasAll(conf map[string]string, keys []string) bool {
	for _, k := range keys {
		if conf[k] == "" {
			return false
		}
	}
	return true
}

var overridesSplit = regexp.MustCompile(`\W+`)

func splitOverrides(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, k := range overridesSplit.Split(s, -1) {
		if k != "" {
			keys = append(keys, strings.ToLower(k))
		}
	}
	return keys
}

// strtobool accepts the historical truthy and falsy spellings of the INI
// format: y/yes/t/true/on/1 and n/no/f/false/off/0.
func strtobool(v string) (string, error) {
	switch strings.ToLower(v) {
	case "y", "yes", "t", "true", "on", "1":
		return "true", nil
	case "n", "no", "f", "false", "off", "0":
		return "false", nil
	default:
		return "", fmt.Errorf("invalid truth value %q", v)
	}
}
