package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const releaseAPI = "https://api.github.com/repos/nextlevelbuilder/jedisos/releases/latest"

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Check for a newer release",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			latest, url, err := latestRelease(ctx)
			if err != nil {
				return fmt.Errorf("check releases: %w", err)
			}

			current := strings.TrimPrefix(Version, "v")
			latestClean := strings.TrimPrefix(latest, "v")
			if current == "dev" {
				fmt.Printf("Running a development build; latest release is %s.\n%s\n", latest, url)
				return nil
			}
			if current == latestClean {
				fmt.Printf("jedisos %s is up to date.\n", Version)
				return nil
			}
			fmt.Printf("Update available: %s → %s\n%s\n", Version, latest, url)
			return nil
		},
	}
}

func latestRelease(ctx context.Context) (tag, url string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseAPI, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("github returned %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", "", err
	}
	if release.TagName == "" {
		return "", "", fmt.Errorf("no releases found")
	}
	return release.TagName, release.HTMLURL, nil
}
