package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nandika/steward/internal/config"
)

var (
	configureProvider string
	configureAPIKey   string
	configureModel    string
	configureShow     bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set or inspect the Steward configuration",
	Long: `Set model provider credentials and defaults, or print the current
configuration with secrets masked.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "", "model provider (anthropic, openai)")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "provider API key")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "model identifier")
	configureCmd.Flags().BoolVar(&configureShow, "show", false, "print the current configuration and exit")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configureShow {
		fmt.Println(cfg.String())
		return nil
	}

	if configureProvider != "" {
		cfg.Model.Provider = configureProvider
	}
	if configureAPIKey != "" {
		cfg.Model.APIKey = configureAPIKey
	}
	if configureModel != "" {
		cfg.Model.Model = configureModel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Println("You can now start Steward with: steward start")

	return nil
}
