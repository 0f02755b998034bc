package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/n0madic/go-aiforwarder/internal/config"
	"github.com/n0madic/go-aiforwarder/internal/models"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "go-aiforwarder",
	Short: "OpenAI-compatible front end for Workers AI style inference endpoints",
	Long: `go-aiforwarder accepts OpenAI chat completion and responses requests,
forwards them to an inference provider's run endpoint and translates whatever
the provider answers with (chat-style choices, structured output arrays or
plain text) back into well-formed OpenAI envelopes and event streams.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
}

// loadConfig resolves configuration from the dotenv file, the optional YAML
// file and the environment, in that order of increasing precedence.
func loadConfig() (*config.ServerConfig, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	if cfgFile == "" {
		return config.DefaultFromEnv(), nil
	}
	return config.LoadFile(cfgFile)
}

func loadRegistry(cfg *config.ServerConfig) (*models.Registry, error) {
	reg := models.NewRegistry(models.DefaultCatalog())
	if cfg.CapabilitiesFile == "" {
		return reg, nil
	}
	if err := reg.Load(cfg.CapabilitiesFile); err != nil {
		return nil, err
	}
	return reg, nil
}
