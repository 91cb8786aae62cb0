package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fetchguard/fetchguard/internal/appid"
	"github.com/fetchguard/fetchguard/internal/config"
	"github.com/fetchguard/fetchguard/internal/observability"
)

var (
	cfgFile string
	verbose bool

	appIdentity *appid.Identity

	// appViper and appConfig are populated by initConfig before any RunE.
	appViper  *viper.Viper
	appConfig *config.Config

	// flagBindings maps config keys to command flags; a flag only overrides
	// the file and environment when it was set explicitly.
	flagBindings = map[string]func() *pflag.Flag{}

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the application identity.
func GetAppIdentity() *appid.Identity {
	if appIdentity == nil {
		identity := appid.Default()
		return &identity
	}
	return appIdentity
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	// NOTE: init() overwrites these from the app identity.
	Use:   filepath.Base(os.Args[0]),
	Short: "Outbound request supervisor",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading from emitting metrics to stdout; serve installs
	// the real telemetry system later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		rootCmd.Use = identity.BinaryName
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to perform specific operations.", identity.BinaryName, identity.Description)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", GetAppIdentity().ConfigName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// bindFlag registers a flag to override a config key.
func bindFlag(key string, cmd *cobra.Command, name string) {
	flagBindings[key] = func() *pflag.Flag { return cmd.Flags().Lookup(name) }
}

// initConfig loads defaults, the config file, FETCHGUARD_* variables, and
// bound flags into appConfig.
func initConfig() {
	identity := GetAppIdentity()
	observability.InitCLILogger(identity.BinaryName, verbose)

	v, err := newViper(cfgFile)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read config file", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
	}

	appViper = v
	appConfig = cfg
}

func newViper(file string) (*viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)
	config.ConfigurePaths(v, file)

	for key, lookup := range flagBindings {
		if flag := lookup(); flag != nil {
			_ = v.BindPFlag(key, flag)
		}
	}

	found, err := config.ReadFile(v)
	if err != nil {
		return v, err
	}
	if verbose {
		if found {
			observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
		} else {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		}
	}
	return v, nil
}
