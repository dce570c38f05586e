package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	clichannel "github.com/nextlevelbuilder/jedisos/internal/channels/cli"
	"github.com/nextlevelbuilder/jedisos/internal/runtime"
	"github.com/nextlevelbuilder/jedisos/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		gatewayURL string
		standalone bool
		oneShot    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant",
		Long: "Chat connects to a running gateway over WebSocket. With --standalone " +
			"the engine runs in-process instead (no gateway needed).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if standalone {
				return chatStandalone(cmd.Context(), oneShot)
			}
			return chatRemote(cmd.Context(), gatewayURL, oneShot)
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway", "ws://127.0.0.1:8710/api/chat/ws", "gateway WebSocket URL")
	cmd.Flags().BoolVar(&standalone, "standalone", false, "run the engine in-process")
	cmd.Flags().StringVarP(&oneShot, "message", "m", "", "send one message and exit")
	return cmd
}

func chatStandalone(ctx context.Context, oneShot string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	services, err := runtime.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()
	services.StartBackground(ctx)

	adapter := clichannel.New(services.Engine, os.Stdin, os.Stdout, os.Getenv("USER"))
	if oneShot != "" {
		return adapter.Run(ctx, oneShot)
	}

	fmt.Println("jedisos — standalone chat (/quit to exit)")
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	return adapter.Stop(ctx)
}

func chatRemote(ctx context.Context, url, oneShot string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	conversationID := "cli-" + uuid.NewString()
	userID := os.Getenv("USER")
	if userID == "" {
		userID = "local"
	}

	send := func(content string) error {
		return wsjson.Write(ctx, conn, protocol.ChatSend{
			Content:        content,
			ConversationID: conversationID,
			UserID:         userID,
		})
	}

	// receive drains frames until the terminal one.
	receive := func() error {
		for {
			var frame protocol.ChatFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return fmt.Errorf("gateway connection lost: %w", err)
			}
			switch frame.Type {
			case protocol.FrameStream:
				fmt.Print(frame.Content)
			case protocol.FrameNotification:
				fmt.Printf("\n[notification] %s\n", frame.Message)
			case protocol.FrameDone:
				fmt.Println()
				return nil
			case protocol.FrameError:
				fmt.Printf("\nSorry, I couldn't complete that — %s.\n", frame.Message)
				return nil
			}
		}
	}

	if oneShot != "" {
		if err := send(oneShot); err != nil {
			return err
		}
		return receive()
	}

	fmt.Println("jedisos — connected (/quit to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if line != "" {
			if err := send(line); err != nil {
				return err
			}
			if err := receive(); err != nil {
				return err
			}
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}
