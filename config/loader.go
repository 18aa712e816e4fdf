package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/LambdaTest/janitor/pkg/constants"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Load loads config from command instance to predefined config variables
func Load(cmd *cobra.Command) (*Config, error) {
	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}

	// default viper configs
	viper.SetEnvPrefix("JN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// set default configs
	setDefaultConfig()

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".jn")
		viper.AddConfigPath("./")
		viper.AddConfigPath("/vault/secrets")
	}

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("Warning: No configuration file found. Proceeding with defaults")
	}

	return populateConfig(new(ConfigWrapper))
}

func populateConfig(wrapper *ConfigWrapper) (*Config, error) {
	if err := viper.Unmarshal(wrapper); err != nil {
		return nil, err
	}
	cfg := &wrapper.Config
	// flags are bound at the top level, the file nests everything under "data"
	if env := viper.GetString("env"); env != "" {
		cfg.Env = env
	}
	if port := viper.GetString("port"); port != "" {
		cfg.Port = port
	}
	if viper.IsSet("verbose") {
		cfg.Verbose = viper.GetBool("verbose")
	}
	if logFile := viper.GetString("log-file"); logFile != "" {
		cfg.LogFile = logFile
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Env {
	case constants.Dev, constants.Stage, constants.Prod:
	default:
		return errs.ErrInvalidEnvironemt
	}
	if cfg.Flight.MaxAttempts == 0 {
		cfg.Flight.MaxAttempts = constants.DefaultStepMaxAttempts
	}
	if cfg.Flight.Concurrency <= 0 {
		cfg.Flight.Concurrency = constants.DefaultFlightConcurrency
	}
	if cfg.Flight.SubmitInterval <= 0 {
		cfg.Flight.SubmitInterval = time.Duration(constants.DefaultSubmitInterval)
	}
	if cfg.Flight.ReconcileInterval <= 0 {
		cfg.Flight.ReconcileInterval = time.Duration(constants.DefaultReconcileInterval)
	}
	if cfg.Flight.RecoveryLimit <= 0 {
		cfg.Flight.RecoveryLimit = constants.DefaultRecoveryLimit
	}
	if cfg.Flight.ReconcileLimit <= 0 {
		cfg.Flight.ReconcileLimit = constants.DefaultReconcileLimit
	}
	return nil
}
