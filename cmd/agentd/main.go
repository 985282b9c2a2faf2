package main

import (
	"crypto/ecdh"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/agentd/internal/capability"
	"github.com/cuemby/agentd/internal/config"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/metrics"
	"github.com/cuemby/agentd/internal/pathutil"
	"github.com/cuemby/agentd/internal/status"
	"github.com/cuemby/agentd/internal/supervisor"
	"github.com/cuemby/agentd/pkg/log"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Environment variables a private child's pre-privsep phase uses to find
// the resolved config again: cmd.ExtraFiles carries descriptors, but
// privsep.ExecSelf's re-exec into the post-privsep phase wipes the
// environment entirely as a security boundary,
// so anything the post-privsep phase needs crosses as an argv flag on
// that re-exec instead, computed here while the environment still holds
// it.
const (
	envConfigFile = "AGENTD_CONFIG_FILE"
	envPrefixDir  = "AGENTD_PREFIX_DIR"
)

func main() {
	if kindName, run, privArgs, ok := parsePrivateArgs(os.Args[1:]); ok {
		os.Exit(runPrivate(kindName, run, privArgs))
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parsePrivateArgs recognizes the supervisor's "-P <kind> [-run] [extra
// flags]" re-exec convention ahead of cobra routing, since a re-exec'd
// private process's argv doesn't carry one of the normal positional
// subcommands at all — this flag exists only for the supervisor's own
// execve calls and is otherwise undocumented. Returns ok=false for
// every ordinary, cobra-routed invocation.
func parsePrivateArgs(args []string) (kind string, run bool, rest []string, ok bool) {
	for i := 0; i < len(args); i++ {
		if args[i] == "-P" && i+1 < len(args) {
			kind = args[i+1]
			ok = true
			i++
			continue
		}
		if ok && args[i] == "-run" {
			run = true
			continue
		}
		if ok {
			rest = append(rest, args[i])
		}
	}
	return kind, run, rest, ok
}

var rootCmd = &cobra.Command{
	Use:     "agentd",
	Short:   "agentd - a privilege-separated blockchain node daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("agentd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().BoolP("foreground", "F", false, "run in the foreground")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigFile, "config file path")
	rootCmd.PersistentFlags().BoolP("init", "I", false, "init mode")

	rootCmd.AddCommand(startCmd, versionCmd, readConfigCmd)
}

func newBootstrap(cmd *cobra.Command, command config.Command) config.Bootstrap {
	b := config.NewBootstrap()
	b.Command = command
	b.Foreground, _ = cmd.Flags().GetBool("foreground")
	b.InitMode, _ = cmd.Flags().GetBool("init")
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		b.ConfigFile = path
		b.ConfigFileOverride = cmd.Flags().Changed("config")
	}
	if self, err := os.Executable(); err == nil {
		b.Binary = self
		b.PrefixDir = pathutil.Dirname(self)
	} else if dir, rerr := pathutil.Resolve(os.Args[0], pathutil.AppendDefault(os.Getenv("PATH"))); rerr == nil {
		// os.Executable can fail under exotic deployment chroots; fall
		// back to a PATH search for argv[0], the way a process without
		// /proc/self/exe would have to.
		b.Binary = filepath.Join(dir, filepath.Base(os.Args[0]))
		b.PrefixDir = dir
	}
	return b
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = newBootstrap(cmd, config.CommandVersion)
		fmt.Printf("agentd version %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return nil
	},
}

var readConfigCmd = &cobra.Command{
	Use:   "readconfig",
	Short: "parse and print the resolved agent configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := newBootstrap(cmd, config.CommandReadConfig)
		agentCfg, err := loadAgentConfig(b)
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", agentCfg)
		return nil
	},
}

func loadAgentConfig(b config.Bootstrap) (config.Agent, error) {
	if _, err := os.Stat(b.ConfigFile); err != nil {
		if b.ConfigFileOverride {
			return config.Agent{}, status.Wrap(status.ServiceConfig, status.CodeNotFound, err)
		}
		return config.Defaulted(b.PrefixDir), nil
	}
	return config.Load(b.ConfigFile, b.PrefixDir)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the agentd node",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := newBootstrap(cmd, config.CommandStart)
		return runStart(b)
	},
}

func mapLogLevel(n int) log.Level {
	switch {
	case n <= 1:
		return log.ErrorLevel
	case n == 2:
		return log.WarnLevel
	case n == 3:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

// nodeIdentity derives this node's own entity id from its secret key's
// public half, rather than carrying a separate configured identity: the
// two are tied together the same deterministic way every run — the
// first 16 bytes of the X25519 public key.
func nodeIdentity(key *ecdh.PrivateKey) ids.EntityID {
	return ids.FromBytes(key.PublicKey().Bytes()[0:16])
}

func loadSecretKey(path string) (*ecdh.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, status.Wrap(status.ServiceConfig, status.CodeNotFound, err)
	}
	key, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, status.Wrap(status.ServiceConfig, status.CodeRequestPacketBad, err)
	}
	return key, nil
}

// verbByName resolves a config view entry's capability name, as written
// in the config file's `view` key, into the pinned capability.Verb
// literal it names.
func verbByName(name string) (capability.Verb, bool) {
	switch name {
	case "latest-block-id-read":
		return capability.VerbLatestBlockIDRead, true
	case "transaction-submit":
		return capability.VerbTransactionSubmit, true
	case "block-read":
		return capability.VerbBlockRead, true
	case "block-id-by-height-read":
		return capability.VerbBlockIDByHeightRead, true
	case "transaction-read":
		return capability.VerbTransactionRead, true
	case "artifact-read":
		return capability.VerbArtifactRead, true
	case "assert-latest-block-id":
		return capability.VerbAssertLatestBlockID, true
	case "cancel-assertion":
		return capability.VerbCancelAssertion, true
	case "extended-api-enable":
		return capability.VerbExtendedAPIEnable, true
	case "extended-api-respond":
		return capability.VerbExtendedAPIRespond, true
	case "extended-api-send":
		return capability.VerbExtendedAPISend, true
	case "extended-api-receive":
		return capability.VerbExtendedAPIReceive, true
	default:
		return capability.Verb{}, false
	}
}

// configureProtocolControl drives the protocol service's control socket:
// the handshake private key, every
// authorized entity (the node's own identity plus each configured view
// entry), the capability triples each view entry's caps list grants
// against capability.AnyObject, then finalize.
func configureProtocolControl(ctrl *os.File, cfg config.Agent, self ids.EntityID, key *ecdh.PrivateKey) error {
	client := newProtocolControlClient(ctrl)
	if err := client.SetPrivateKey(key); err != nil {
		return err
	}
	if err := client.AddEntity(self); err != nil {
		return err
	}
	for _, entry := range cfg.View {
		raw, err := hex.DecodeString(entry.Entity)
		if err != nil || len(raw) < 16 {
			return status.New(status.ServiceConfig, status.CodeRequestPacketBad)
		}
		entity := ids.FromBytes(raw[0:16])
		if err := client.AddEntity(entity); err != nil {
			return err
		}
		for _, capName := range entry.Caps {
			verb, ok := verbByName(capName)
			if !ok {
				return status.New(status.ServiceConfig, status.CodeRequestPacketBad)
			}
			if err := client.AddCapability(entity, verb, capability.AnyObject); err != nil {
				return err
			}
		}
	}
	return client.Finalize()
}

func runStart(b config.Bootstrap) error {
	agentCfg, err := loadAgentConfig(b)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: mapLogLevel(agentCfg.LogLevel), JSONOutput: !b.Foreground})

	key, err := loadSecretKey(agentCfg.Secret)
	if err != nil {
		return err
	}
	self := nodeIdentity(key)

	ln, err := net.Listen("tcp", agentCfg.Listen[0])
	if err != nil {
		return status.Wrap(status.ServiceListen, status.CodeUnspecifiedFailure, err)
	}
	listenFile, err := ln.(*net.TCPListener).File()
	if err != nil {
		return status.Wrap(status.ServiceListen, status.CodeUnspecifiedFailure, err)
	}
	_ = ln.Close()

	_ = os.Setenv(envConfigFile, b.ConfigFile)
	_ = os.Setenv(envPrefixDir, b.PrefixDir)

	sup := supervisor.New(b.Binary)
	tree, err := supervisor.Start(sup, listenFile,
		func(f *os.File) error { return setAgentIdentity(f, self, key) },
		func(f *os.File) error { return configureDataControl(f) },
		func(f *os.File) error { return configureProtocolControl(f, agentCfg, self, key) },
	)
	if err != nil {
		return err
	}
	log.Info("agentd started")

	checker := metrics.NewChecker()
	for _, child := range tree.All() {
		checker.SetComponent(child.Kind.String(), true, "")
	}
	metricsSrv, err := metrics.NewServer(agentCfg.MetricsListen, checker)
	if err != nil {
		log.Errorf("metrics server not started: %v", err)
	} else {
		go func() {
			if err := metricsSrv.Serve(); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(5 * time.Second)
	}
	return sup.Shutdown(5 * time.Second)
}
