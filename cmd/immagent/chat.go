package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/immagent/immagent/turn"
)

// chatCmd creates the chat command for interactive conversations
func chatCmd() *cobra.Command {
	var (
		temperature float64
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "chat <agent-id-or-name>",
		Short: "Interactive chat with an agent",
		Long: `Start an interactive chat session. Each exchange derives a new agent from
the previous one; the final agent ID is printed when the session ends, and
every intermediate agent stays addressable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			agent, err := resolveAgent(ctx, s, args[0])
			if err != nil {
				return err
			}

			gateway := openGateway(ctx)
			defer gateway.Close()

			engine := turn.NewEngine(s, llmClient)
			opts := turn.DefaultOptions()
			opts.Gateway = gateway
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			} else if cfg.LLM.Temperature > 0 {
				t := cfg.LLM.Temperature
				opts.Temperature = &t
			}
			if cmd.Flags().Changed("max-tokens") {
				opts.MaxTokens = &maxTokens
			} else if cfg.LLM.MaxTokens > 0 {
				mt := cfg.LLM.MaxTokens
				opts.MaxTokens = &mt
			}

			fmt.Printf("Chatting with %s (%s, %d tools)\n",
				agent.Name, agent.Model, len(gateway.AllTools()))
			fmt.Println("Type your message and press Enter. Type 'exit' or 'quit' to end.")
			fmt.Println(strings.Repeat("-", 80))
			fmt.Println()

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("You: ")
				if !scanner.Scan() {
					break
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					break
				}

				next, err := engine.Advance(ctx, agent, input, opts)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					continue
				}
				agent = next

				messages, err := s.GetMessages(ctx, agent)
				if err != nil {
					return err
				}
				last := messages[len(messages)-1]
				if last.Content != nil {
					fmt.Printf("\n%s: %s\n\n", agent.Name, *last.Content)
				}
			}

			fmt.Printf("\nFinal agent: %s\n", agent.ID)
			return nil
		},
	}

	cmd.Flags().Float64VarP(&temperature, "temperature", "t", 0, "Sampling temperature override")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max completion tokens override")
	return cmd
}
