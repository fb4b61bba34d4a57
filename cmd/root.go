package cmd

import (
	"fmt"
	"os"

	"github.com/evcc-io/idconnect/server"
	"github.com/evcc-io/idconnect/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log     = util.NewLogger("main")
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "idconnect",
	Short:   "VW ID cloud connector",
	Version: fmt.Sprintf("%s (%s)", server.Version, server.Commit),
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP(
		"log", "l",
		"error",
		"Log level (fatal, error, warn, info, debug, trace)",
	)
	bind(rootCmd, "log")

	rootCmd.PersistentFlags().StringVarP(&cfgFile,
		"config", "c",
		"",
		"Config file (default \"~/idconnect.yaml\" or \"/etc/idconnect.yaml\")",
	)
}

func bind(cmd *cobra.Command, flag string) {
	if err := viper.BindPFlag(flag, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory if available
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}

		viper.AddConfigPath(".")    // optionally look for config in the working directory
		viper.AddConfigPath("/etc") // path to look for the config file in

		viper.SetConfigName("idconnect")
	}

	viper.SetEnvPrefix("idconnect")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		// using config file
		cfgFile = viper.ConfigFileUsed()
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		// parsing failed - exit
		fmt.Println(err)
		os.Exit(1)
	} else {
		// not using config file
		cfgFile = ""
	}
}

// configure loads the configuration and sets the log levels
func configure() (config, error) {
	util.LogLevel(viper.GetString("log"), viper.GetStringMapString("levels"))
	log.INFO.Printf("idconnect %s (%s)", server.Version, server.Commit)

	if cfgFile != "" {
		log.INFO.Println("using config file", cfgFile)
	}

	conf, err := loadConfig()
	if err != nil {
		return conf, err
	}

	// re-configure logging after reading config file
	util.LogLevel(conf.Log, conf.Levels)
	log.Redact(conf.Account.User, conf.Account.Password, conf.Mqtt.Password)

	return conf, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
