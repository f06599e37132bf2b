package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// createCmd creates a new root agent
func createCmd() *cobra.Command {
	var (
		prompt string
		model  string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if model == "" {
				model = cfg.LLM.Model
			}
			agent, err := s.CreateAgent(ctx, args[0], prompt, model, nil, nil)
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}

			fmt.Printf("Created agent %s\n", agent.Name)
			fmt.Printf("  ID:    %s\n", agent.ID)
			fmt.Printf("  Model: %s\n", agent.Model)
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "You are a helpful assistant.", "System prompt")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model identifier (default: configured model)")
	return cmd
}

// listCmd lists stored agents
func listCmd() *cobra.Command {
	var (
		name   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			agents, err := s.ListAgents(ctx, name, limit, offset)
			if err != nil {
				return err
			}
			total, err := s.CountAgents(ctx, name)
			if err != nil {
				return err
			}

			if len(agents) == 0 {
				fmt.Println("No agents found.")
				return nil
			}

			for _, a := range agents {
				parent := "root"
				if a.ParentID != nil {
					parent = a.ParentID.String()
				}
				fmt.Printf("%s  %-20s  %-30s  parent=%s\n",
					a.ID, a.Name, a.Model, parent)
			}
			fmt.Printf("\n%d of %d agents\n", len(agents), total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Filter by name substring (case-insensitive)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum agents to show")
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Agents to skip")
	return cmd
}

// showCmd prints one agent and its transcript
func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent-id-or-name>",
		Short: "Show an agent and its conversation",
		Args:  cobra.ExactArgs(1),
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
			prompt, err := s.GetSystemPrompt(ctx, agent.SystemPromptID)
			if err != nil {
				return err
			}
			messages, err := s.GetMessages(ctx, agent)
			if err != nil {
				return err
			}
			usage, err := s.GetTokenUsage(ctx, agent)
			if err != nil {
				return err
			}

			fmt.Printf("Agent %s (%s)\n", agent.Name, agent.ID)
			fmt.Printf("  Model:   %s\n", agent.Model)
			fmt.Printf("  Created: %s\n", agent.CreatedAt.Format("2006-01-02 15:04:05"))
			if agent.ParentID != nil {
				fmt.Printf("  Parent:  %s\n", *agent.ParentID)
			}
			fmt.Printf("  Tokens:  %d in / %d out\n", usage.InputTokens, usage.OutputTokens)
			fmt.Printf("  Prompt:  %s\n", prompt.Content)
			fmt.Println(strings.Repeat("-", 80))

			for _, m := range messages {
				content := ""
				if m.Content != nil {
					content = *m.Content
				}
				switch {
				case len(m.ToolCalls) > 0:
					fmt.Printf("[%s] %s\n", m.Role, content)
					for _, tc := range m.ToolCalls {
						fmt.Printf("  -> %s(%s)\n", tc.Name, tc.Arguments)
					}
				default:
					fmt.Printf("[%s] %s\n", m.Role, content)
				}
			}
			return nil
		},
	}
}

// lineageCmd walks an agent's ancestry root-to-leaf
func lineageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <agent-id-or-name>",
		Short: "Show an agent's ancestry, root first",
		Args:  cobra.ExactArgs(1),
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
			chain, err := s.Lineage(ctx, agent.ID)
			if err != nil {
				return err
			}

			for i, a := range chain {
				fmt.Printf("%s%s  %s  %s\n",
					strings.Repeat("  ", i), a.ID, a.Name,
					a.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

// cloneCmd persists a sibling of an existing agent
func cloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <agent-id-or-name>",
		Short: "Clone an agent as a sibling sharing its conversation",
		Args:  cobra.ExactArgs(1),
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
			sibling, err := s.CloneAgent(ctx, agent)
			if err != nil {
				return err
			}

			fmt.Printf("Cloned %s -> %s\n", agent.ID, sibling.ID)
			return nil
		},
	}
}

// deleteCmd removes one agent row
func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id-or-name>",
		Short: "Delete an agent (descendants become roots)",
		Args:  cobra.ExactArgs(1),
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
			if err := s.DeleteAgent(ctx, agent.ID); err != nil {
				return err
			}

			fmt.Printf("Deleted agent %s (%s)\n", agent.Name, agent.ID)
			fmt.Println("Run 'immagent gc' to collect orphaned assets.")
			return nil
		},
	}
}

// gcCmd sweeps orphaned assets
func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove prompts, conversations, and messages no agent reaches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.GC(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Garbage collected %d system prompts, %d conversations, %d messages\n",
				res.SystemPrompts, res.Conversations, res.Messages)
			return nil
		},
	}
}

// initCmd creates the schema
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.InMemory() {
				fmt.Println("No database configured; nothing to initialize.")
				return nil
			}
			fmt.Println("Schema ready.")
			return nil
		},
	}
}
