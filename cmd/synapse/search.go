package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Harshitk-cp/synapse/internal/engine"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search one agent's memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		return runSearch(cmd, agent, args[0])
	},
}

var searchAllCmd = &cobra.Command{
	Use:   "search-all <query>",
	Short: "Search across every agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd, "", args[0])
	},
}

func runSearch(cmd *cobra.Command, agent, query string) error {
	opts, err := searchOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	resp, err := a.eng.Search(cmd.Context(), agent, query, opts)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(resp)
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for _, r := range resp.Results {
		fmt.Printf("[%.3f] %s\n", r.Score, r.Memory.Text)
		fmt.Printf("        id=%s agent=%s category=%s status=%s\n",
			r.Memory.ID, r.Memory.Agent, r.Memory.Category, r.Memory.Status)
	}
	if resp.Meta != nil {
		fmt.Printf("%d candidates, %d matched, %d returned\n",
			resp.Meta.Candidates, resp.Meta.Matched, resp.Meta.Returned)
		for reason, n := range resp.Meta.Excluded {
			fmt.Printf("  excluded %d: %s\n", n, reason)
		}
	}
	return nil
}

func searchOptionsFromFlags(cmd *cobra.Command) (engine.SearchOptions, error) {
	limit, _ := cmd.Flags().GetInt("limit")
	minSim, _ := cmd.Flags().GetFloat64("min-similarity")
	includeAll, _ := cmd.Flags().GetBool("all")
	includeSuperseded, _ := cmd.Flags().GetBool("include-superseded")
	includeDisputed, _ := cmd.Flags().GetBool("include-disputed")
	includeQuarantined, _ := cmd.Flags().GetBool("include-quarantined")
	sessionID, _ := cmd.Flags().GetString("session-id")
	noRerank, _ := cmd.Flags().GetBool("no-rerank")
	explain, _ := cmd.Flags().GetBool("explain")

	opts := engine.SearchOptions{
		Limit:              limit,
		MinSimilarity:      minSim,
		IncludeAll:         includeAll,
		IncludeSuperseded:  includeSuperseded,
		IncludeDisputed:    includeDisputed,
		IncludeQuarantined: includeQuarantined,
		SessionID:          sessionID,
		Explain:            explain,
	}
	if noRerank {
		off := false
		opts.Rerank = &off
	}

	beforeStr, _ := cmd.Flags().GetString("before")
	before, err := parseTimeArg(beforeStr)
	if err != nil {
		return opts, err
	}
	opts.Before = before

	afterStr, _ := cmd.Flags().GetString("after")
	after, err := parseTimeArg(afterStr)
	if err != nil {
		return opts, err
	}
	opts.After = after
	return opts, nil
}

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Assemble a ready-to-inject memory context block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		maxMemories, _ := cmd.Flags().GetInt("max-memories")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		explain, _ := cmd.Flags().GetBool("explain")

		opts := engine.ContextOptions{
			MaxMemories: maxMemories,
			MaxTokens:   maxTokens,
			Explain:     explain,
		}

		beforeStr, _ := cmd.Flags().GetString("before")
		before, err := parseTimeArg(beforeStr)
		if err != nil {
			return err
		}
		opts.Before = before

		afterStr, _ := cmd.Flags().GetString("after")
		after, err := parseTimeArg(afterStr)
		if err != nil {
			return err
		}
		opts.After = after

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.eng.Context(cmd.Context(), agent, args[0], opts)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(res)
		}
		// The rendered block goes to stdout unadorned so it can be piped
		// straight into a prompt.
		fmt.Print(res.Context)
		return nil
	},
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 0, "Maximum results (0 for default)")
	cmd.Flags().Float64("min-similarity", 0, "Minimum vector similarity")
	cmd.Flags().String("before", "", "Only memories from before this time")
	cmd.Flags().String("after", "", "Only memories from after this time")
	cmd.Flags().Bool("all", false, "Include superseded, disputed and quarantined memories")
	cmd.Flags().Bool("include-superseded", false, "Include superseded memories")
	cmd.Flags().Bool("include-disputed", false, "Include disputed memories")
	cmd.Flags().Bool("include-quarantined", false, "Include quarantined memories")
	cmd.Flags().String("session-id", "", "Boost claims scoped to this session")
	cmd.Flags().Bool("no-rerank", false, "Rank by raw similarity only")
	cmd.Flags().Bool("explain", false, "Show retrieval and ranking detail")
	cmd.Flags().Bool("json", false, "Output as JSON")
}

func init() {
	searchCmd.Flags().String("agent", "default", "Agent to search")
	addSearchFlags(searchCmd)
	addSearchFlags(searchAllCmd)

	contextCmd.Flags().String("agent", "default", "Agent to assemble context for")
	contextCmd.Flags().Int("max-memories", 0, "Maximum memories to include (0 for default)")
	contextCmd.Flags().Int("max-tokens", 0, "Token budget for the rendered block (0 for unlimited)")
	contextCmd.Flags().String("before", "", "Only memories from before this time")
	contextCmd.Flags().String("after", "", "Only memories from after this time")
	contextCmd.Flags().Bool("explain", false, "Include packing detail (with --json)")
	contextCmd.Flags().Bool("json", false, "Output as JSON")
}
