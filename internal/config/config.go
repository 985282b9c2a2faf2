// Package config holds agentd's two configuration records: the bootstrap
// config built once from command-line flags, and
// the resolved agent config parsed from the config file and defaulted.
// The config file grammar itself is YAML, parsed with gopkg.in/yaml.v3.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Command is the dispatch value chosen by the CLI front end.
type Command string

const (
	CommandStart      Command = "start"
	CommandHelp       Command = "help"
	CommandReadConfig Command = "readconfig"
	CommandVersion    Command = "version"
	CommandErrorUsage Command = "error-usage"
)

// DefaultConfigFile is where agentd looks for its config absent an
// override.
const DefaultConfigFile = "/etc/agentd.conf"

// Bootstrap is the immutable record built once at startup from flags.
type Bootstrap struct {
	Foreground         bool
	InitMode           bool
	Command            Command
	PrivateCommand     string
	ConfigFile         string
	ConfigFileOverride bool
	PrefixDir          string
	Binary             string
}

// NewBootstrap fills in defaults for any zero-value field.
func NewBootstrap() Bootstrap {
	return Bootstrap{
		ConfigFile: DefaultConfigFile,
	}
}

// ViewEntry grants an entity a named, narrowed capability view.
type ViewEntry struct {
	Entity string   `yaml:"entity"`
	Caps   []string `yaml:"caps"`
}

// Agent is the resolved configuration produced by parsing the config
// file and applying defaults.
type Agent struct {
	LogDir               string      `yaml:"logdir"`
	LogLevel             int         `yaml:"loglevel"`
	DatabaseMaxSize      int64       `yaml:"database_max_size"`
	BlockMaxMilliseconds int64       `yaml:"block_max_milliseconds"`
	BlockMaxTransactions int         `yaml:"block_max_transactions"`
	Secret               string      `yaml:"secret"`
	RootBlock            string      `yaml:"rootblock"`
	Datastore            string      `yaml:"datastore"`
	Listen               []string    `yaml:"listen"`
	Chroot               string      `yaml:"chroot"`
	UserGroup            string      `yaml:"usergroup"`
	View                 []ViewEntry `yaml:"view"`
	MetricsListen        string      `yaml:"metrics_listen"`
}

// BlockMaxInterval is BlockMaxMilliseconds as a time.Duration, for use
// by the canonization service's ticker.
func (a Agent) BlockMaxInterval() time.Duration {
	return time.Duration(a.BlockMaxMilliseconds) * time.Millisecond
}

const (
	defaultLogDir               = "log"
	defaultLogLevel             = 4
	defaultDatabaseMaxSize      = 16 * 1024 * 1024 * 1024 * 1024 // 16 TiB
	defaultBlockMaxMilliseconds = 5000
	defaultBlockMaxTransactions = 500
	defaultSecret               = "root/secret.cert"
	defaultRootBlock            = "root/root.cert"
	defaultDatastore            = "data"
	defaultUserGroup            = "veloagent:veloagent"
	defaultListenEndpoint       = "127.0.0.1:4931"
	defaultMetricsListen        = "127.0.0.1:9090"
)

// applyDefaults fills every zero-valued field with its documented
// default. chroot defaults to prefixDir, which is only known
// from the bootstrap record, so it is threaded in explicitly.
func (a *Agent) applyDefaults(prefixDir string) {
	if a.LogDir == "" {
		a.LogDir = defaultLogDir
	}
	if a.LogLevel == 0 {
		a.LogLevel = defaultLogLevel
	}
	if a.DatabaseMaxSize == 0 {
		a.DatabaseMaxSize = defaultDatabaseMaxSize
	}
	if a.BlockMaxMilliseconds == 0 {
		a.BlockMaxMilliseconds = defaultBlockMaxMilliseconds
	}
	if a.BlockMaxTransactions == 0 {
		a.BlockMaxTransactions = defaultBlockMaxTransactions
	}
	if a.Secret == "" {
		a.Secret = defaultSecret
	}
	if a.RootBlock == "" {
		a.RootBlock = defaultRootBlock
	}
	if a.Datastore == "" {
		a.Datastore = defaultDatastore
	}
	if len(a.Listen) == 0 {
		a.Listen = []string{defaultListenEndpoint}
	}
	if a.Chroot == "" {
		a.Chroot = prefixDir
	}
	if a.UserGroup == "" {
		a.UserGroup = defaultUserGroup
	}
	if a.MetricsListen == "" {
		a.MetricsListen = defaultMetricsListen
	}
}

// Load parses the YAML config file at path and applies defaults, using
// prefixDir as chroot's fallback value.
func Load(path, prefixDir string) (Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Agent{}, err
	}

	var a Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Agent{}, err
	}
	a.applyDefaults(prefixDir)
	return a, nil
}

// Defaulted returns a zero-configured Agent with every default applied,
// for callers (e.g. `readconfig` with no file) that need defaults alone.
func Defaulted(prefixDir string) Agent {
	var a Agent
	a.applyDefaults(prefixDir)
	return a
}
