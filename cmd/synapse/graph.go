package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

var linksCmd = &cobra.Command{
	Use:   "links <id>",
	Short: "Show a memory's graph neighborhood",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.eng.Links(args[0])
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(res)
		}

		fmt.Printf("%s (%s, %s)\n", res.Memory, res.Agent, res.Category)
		if len(res.Links) == 0 {
			fmt.Println("No links.")
			return nil
		}
		fmt.Printf("%d links:\n", len(res.Links))
		for _, l := range res.Links {
			fmt.Printf("  [%s %.3f] %s (%s)\n", l.Type, l.Similarity, l.Memory, l.ID)
		}
		return nil
	},
}

var traverseCmd = &cobra.Command{
	Use:   "traverse <id>",
	Short: "Walk the graph breadth-first from a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hops, _ := cmd.Flags().GetInt("hops")
		types, err := linkTypesFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		nodes, err := a.eng.Traverse(args[0], hops, types)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(nodes)
		}
		for _, n := range nodes {
			fmt.Printf("hop %d [%.3f] %s (%s, %s)\n", n.Hop, n.Similarity, n.Memory, n.ID, n.Agent)
		}
		return nil
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Find the shortest link path between two memories",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := linkTypesFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.eng.Path(args[0], args[1], types)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(res)
		}
		if !res.Found {
			fmt.Println("No path found.")
			return nil
		}
		fmt.Printf("Found path (%d hops):\n", res.Hops)
		for i, n := range res.Path {
			fmt.Printf("  %d. %s (%s, %s)\n", i+1, n.Memory, n.ID, n.Agent)
		}
		return nil
	},
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List connected components of the memory graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		minSize, _ := cmd.Flags().GetInt("min-size")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		clusters := a.eng.Clusters(minSize)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(clusters)
		}
		if len(clusters) == 0 {
			fmt.Println("No clusters.")
			return nil
		}
		for i, c := range clusters {
			name := fmt.Sprintf("Cluster %d", i+1)
			if c.Label != "" {
				name = c.Label
			}
			fmt.Printf("%s: %d memories\n", name, c.Size)
			for agent, n := range c.Agents {
				fmt.Printf("  %s: %d\n", agent, n)
			}
			if len(c.TopTags) > 0 {
				tags := make([]string, 0, len(c.TopTags))
				for _, t := range c.TopTags {
					tags = append(tags, fmt.Sprintf("%s(%d)", t.Tag, t.Count))
				}
				fmt.Printf("  tags: %s\n", strings.Join(tags, ", "))
			}
		}
		return nil
	},
}

func linkTypesFromFlags(cmd *cobra.Command) ([]domain.LinkType, error) {
	raw, _ := cmd.Flags().GetStringSlice("types")
	if len(raw) == 0 {
		return nil, nil
	}
	types := make([]domain.LinkType, 0, len(raw))
	for _, s := range raw {
		switch t := domain.LinkType(strings.TrimSpace(s)); t {
		case domain.LinkSimilar, domain.LinkSupersedes, domain.LinkDigestOf, domain.LinkDigestedInto, domain.LinkRelated:
			types = append(types, t)
		default:
			return nil, fmt.Errorf("unknown link type %q", s)
		}
	}
	return types, nil
}

func init() {
	linksCmd.Flags().Bool("json", false, "Output as JSON")

	traverseCmd.Flags().Int("hops", 2, "Maximum hops from the start memory")
	traverseCmd.Flags().StringSlice("types", nil, "Link types to follow (default all)")
	traverseCmd.Flags().Bool("json", false, "Output as JSON")

	pathCmd.Flags().StringSlice("types", nil, "Link types to follow (default all)")
	pathCmd.Flags().Bool("json", false, "Output as JSON")

	clustersCmd.Flags().Int("min-size", 2, "Minimum component size")
	clustersCmd.Flags().Bool("json", false, "Output as JSON")
}
