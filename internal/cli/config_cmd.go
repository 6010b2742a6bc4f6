package cli

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/mgpai22/subburn/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print an annotated sample subburn.toml",
	Args:  cobra.NoArgs,
	// the sample must print even when the current config is broken
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(config.SampleConfig())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := toml.Marshal(redacted(*cfg))
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSampleCmd, configShowCmd)
}

func redacted(c config.Config) config.Config {
	c.Transcribe.OpenAIAPIKey = maskSecret(c.Transcribe.OpenAIAPIKey)
	c.Transcribe.GeminiAPIKey = maskSecret(c.Transcribe.GeminiAPIKey)
	c.Translate.AnthropicAPIKey = maskSecret(c.Translate.AnthropicAPIKey)
	return c
}

// maskSecret keeps the last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
