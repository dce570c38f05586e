package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/jedisos/internal/packages"
	"github.com/nextlevelbuilder/jedisos/internal/security"
)

func marketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Manage installed packages (skills, servers, prompts, ...)",
	}
	cmd.AddCommand(marketListCmd())
	cmd.AddCommand(marketSearchCmd())
	cmd.AddCommand(marketInfoCmd())
	cmd.AddCommand(marketValidateCmd())
	cmd.AddCommand(marketInstallCmd())
	cmd.AddCommand(marketRemoveCmd())
	return cmd
}

func openManager() (*packages.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return packages.NewManager(cfg.Tools.Root)
}

func marketListCmd() *cobra.Command {
	var typeFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager()
			if err != nil {
				return err
			}
			infos := manager.Search("", packages.Type(typeFilter))
			printPackages(infos)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "filter by package type")
	return cmd
}

func marketSearchCmd() *cobra.Command {
	var typeFilter string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search packages by name, description, or tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager()
			if err != nil {
				return err
			}
			infos := manager.Search(args[0], packages.Type(typeFilter))
			if len(infos) == 0 {
				fmt.Println("No packages match.")
				return nil
			}
			printPackages(infos)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "filter by package type")
	return cmd
}

func marketInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show package details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager()
			if err != nil {
				return err
			}
			info := manager.Get(args[0])
			if info == nil {
				return fmt.Errorf("package %q not found", args[0])
			}
			m := info.Manifest
			fmt.Printf("%s %s (%s)\n", m.Name, m.Version, m.Type)
			fmt.Printf("  %s\n", m.Description)
			fmt.Printf("  license: %s  author: %s\n", m.License, m.Author)
			if len(m.Tags) > 0 {
				fmt.Printf("  tags: %s\n", strings.Join(m.Tags, ", "))
			}
			if len(m.Tools) > 0 {
				names := make([]string, len(m.Tools))
				for i, t := range m.Tools {
					names[i] = t.Name
				}
				sort.Strings(names)
				fmt.Printf("  tools: %s\n", strings.Join(names, ", "))
			}
			fmt.Printf("  path: %s\n", info.Dir)
			return nil
		},
	}
}

func marketValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate a package directory (manifest checks + skill code scan)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			manifest, err := packages.ReadManifest(dir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "manifest: %v\n", err)
				os.Exit(exitValidation)
			}

			findings := manifest.Validate(dir)
			for _, f := range findings {
				fmt.Printf("FAIL  %-12s %s\n", f.Check, f.Detail)
			}

			securityOK := true
			if manifest.Type == packages.TypeSkill && manifest.Entrypoint != "" {
				code, err := os.ReadFile(dir + "/" + manifest.Entrypoint)
				if err == nil {
					cfg, cfgErr := loadConfig()
					checker := security.NewChecker()
					if cfgErr == nil {
						var opts []security.Option
						if cfg.Security.Strict {
							opts = append(opts, security.WithStrict(true))
						}
						if len(cfg.Security.AllowedImports) > 0 {
							opts = append(opts, security.WithAllowedImports(cfg.Security.AllowedImports))
						}
						checker = security.NewChecker(opts...)
					}
					report := checker.Check(string(code), manifest.Name)
					for _, f := range report.Findings {
						fmt.Printf("%-5s %-12s %s\n", strings.ToUpper(string(f.Severity)), f.Check, f.Detail)
					}
					securityOK = report.OK
				}
			}

			if len(findings) > 0 || !securityOK {
				os.Exit(exitValidation)
			}
			fmt.Printf("%s %s: all checks passed\n", manifest.Name, manifest.Version)
			return nil
		},
	}
}

func marketInstallCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install <dir>",
		Short: "Validate and install a package directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			manifest, err := packages.ReadManifest(dir)
			if err != nil {
				return err
			}
			// Validation is the explicit prior step to installation.
			if findings := manifest.Validate(dir); len(findings) > 0 {
				for _, f := range findings {
					fmt.Fprintf(os.Stderr, "FAIL  %-12s %s\n", f.Check, f.Detail)
				}
				os.Exit(exitValidation)
			}

			manager, err := openManager()
			if err != nil {
				return err
			}
			info, err := manager.Install(dir, force)
			if err != nil {
				return err
			}
			fmt.Printf("Installed %s %s → %s\n", info.Manifest.Name, info.Manifest.Version, info.Dir)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing install")
	return cmd
}

func marketRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager()
			if err != nil {
				return err
			}
			if err := manager.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func printPackages(infos []packages.Info) {
	if len(infos) == 0 {
		fmt.Println("No packages installed.")
		return
	}
	for _, info := range infos {
		m := info.Manifest
		fmt.Printf("%-24s %-10s %-12s %s\n", m.Name, m.Version, m.Type, m.Description)
	}
}
