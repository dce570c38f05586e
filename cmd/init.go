package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/jedisos/internal/config"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "First-run setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			var (
				providerKind = "anthropic"
				model        string
				memoryURL    = "http://localhost:8765"
				telegram     bool
				discord      bool
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Primary model provider").
						Options(
							huh.NewOption("Anthropic (Claude)", "anthropic"),
							huh.NewOption("OpenAI-compatible", "openai"),
						).
						Value(&providerKind),
					huh.NewInput().
						Title("Model id (empty = provider default)").
						Value(&model),
					huh.NewInput().
						Title("Memory service URL").
						Value(&memoryURL),
					huh.NewConfirm().
						Title("Enable Telegram channel?").
						Value(&telegram),
					huh.NewConfirm().
						Title("Enable Discord channel?").
						Value(&discord),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			cfg := config.Default()
			cfg.Providers = []config.ProviderConfig{{
				Kind:        providerKind,
				Model:       model,
				TimeoutSec:  120,
				MaxTokens:   8192,
				Temperature: 0.7,
			}}
			cfg.Memory.BaseURL = memoryURL
			cfg.Channels.Telegram.Enabled = telegram
			cfg.Channels.Discord.Enabled = discord
			cfg.FirstRun = false

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Printf("Wrote %s.\n", path)
			fmt.Println("Set your credentials in the environment (or a .env file):")
			fmt.Printf("  JEDISOS_%s_API_KEY\n", upper(providerKind))
			if telegram {
				fmt.Println("  JEDISOS_TELEGRAM_TOKEN")
			}
			if discord {
				fmt.Println("  JEDISOS_DISCORD_TOKEN")
			}
			fmt.Println("Then run: jedisos serve")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func upper(s string) string {
	out := []byte(s)
	for i := range out {
		if out[i] >= 'a' && out[i] <= 'z' {
			out[i] -= 'a' - 'A'
		}
	}
	return string(out)
}
