package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/jedisos/internal/memory"
)

func healthCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the gateway and the memory service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			ok := true

			if err := checkGateway(ctx, gatewayURL); err != nil {
				fmt.Printf("gateway   %s  DOWN (%v)\n", gatewayURL, err)
				ok = false
			} else {
				fmt.Printf("gateway   %s  ok\n", gatewayURL)
			}

			mem := memory.NewClient(cfg.Memory.BaseURL)
			if mem.Healthy(ctx) {
				fmt.Printf("memory    %s  ok\n", cfg.Memory.BaseURL)
			} else {
				fmt.Printf("memory    %s  DOWN\n", cfg.Memory.BaseURL)
				ok = false
			}

			if !ok {
				return fmt.Errorf("one or more services are down")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway", "http://127.0.0.1:8710", "gateway base URL")
	return cmd
}

func checkGateway(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("status %q", body.Status)
	}
	return nil
}
