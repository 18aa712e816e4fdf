package config

import (
	"github.com/LambdaTest/janitor/pkg/constants"
	"github.com/spf13/viper"
)

func setDefaultConfig() {
	viper.SetDefault("Data.LogConfig.EnableConsole", true)
	viper.SetDefault("Data.LogConfig.ConsoleJSONFormat", false)
	viper.SetDefault("Data.LogConfig.ConsoleLevel", "debug")
	viper.SetDefault("Data.LogConfig.EnableFile", true)
	viper.SetDefault("Data.LogConfig.FileJSONFormat", true)
	viper.SetDefault("Data.LogConfig.FileLevel", "debug")
	viper.SetDefault("Data.LogConfig.FileLocation", "./janitor.log")
	viper.SetDefault("Data.Env", "prod")
	viper.SetDefault("Data.Port", "9876")
	viper.SetDefault("Data.Verbose", true)
	viper.SetDefault("Data.GracefulTimeout", constants.DefaultGracefulTimeout)
	viper.SetDefault("Data.ShutDownDelay", constants.DefaultShutDownDelay)
	viper.SetDefault("Data.Flight.SubmitInterval", constants.DefaultSubmitInterval)
	viper.SetDefault("Data.Flight.ReconcileInterval", constants.DefaultReconcileInterval)
	viper.SetDefault("Data.Flight.RecoveryLimit", constants.DefaultRecoveryLimit)
	viper.SetDefault("Data.Flight.ReconcileLimit", constants.DefaultReconcileLimit)
	viper.SetDefault("Data.Flight.RetryInterval", constants.DefaultStepRetryInterval)
	viper.SetDefault("Data.Flight.MaxAttempts", constants.DefaultStepMaxAttempts)
	viper.SetDefault("Data.Flight.Concurrency", constants.DefaultFlightConcurrency)
	viper.SetDefault("Data.Flight.VisibilityTimeout", constants.DefaultVisibilityTimeout)
	viper.SetDefault("Data.Flight.QuietDownTimeout", constants.DefaultQuietDownTimeout)
	viper.SetDefault("Data.Flight.TerminateTimeout", constants.DefaultTerminateTimeout)
}
