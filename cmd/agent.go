package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"agp/pkg/config"
	"agp/pkg/engine"

	"github.com/spf13/cobra"
)

var promptText string

// agentCmd talks to the engine directly, without channels or the bus.
var agentCmd = &cobra.Command{
	Use:   "agent [prompt]",
	Short: "Send a prompt or start an interactive chat",
	Long:  "Loads agp configuration, connects to the configured engine, and sends one prompt or starts an interactive chat.",
	Run: func(cmd *cobra.Command, args []string) {
		prompt := resolvePrompt(args)

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		client, err := engine.New(cfg)
		if err != nil {
			fmt.Printf("failed to initialize engine: %v\n", err)
			return
		}

		ctx := context.Background()

		if prompt != "" {
			runSinglePrompt(ctx, client, prompt)
			return
		}

		runInteractive(ctx, client)
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func runSinglePrompt(ctx context.Context, client engine.Client, prompt string) {
	response, _, err := client.Prompt(ctx, prompt, "")
	if err != nil {
		fmt.Printf("prompt failed: %v\n", err)
		return
	}

	fmt.Println(response)
}

func runInteractive(ctx context.Context, client engine.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	sessionID := ""

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			return
		}

		response, newSessionID, err := client.Prompt(ctx, prompt, sessionID)
		if err != nil {
			fmt.Printf("prompt failed: %v\n", err)
			continue
		}
		sessionID = newSessionID

		printAssistantMessage(response)
	}
}

func printAssistantMessage(message string) {
	lines := assistantLines(message)
	for _, line := range lines {
		fmt.Printf("  %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Println()
	}
}

func assistantLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
