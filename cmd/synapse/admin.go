package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Harshitk-cp/synapse/internal/engine"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run a decay pass: archive weak memories, delete dead ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.eng.Decay(cmd.Context(), dryRun)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(report)
		}

		verb := "Archived"
		if dryRun {
			fmt.Println("Dry run — nothing was changed.")
			verb = "Would archive"
		}
		fmt.Printf("Scanned %d memories: %d healthy, %d weakening.\n",
			report.Scanned, report.Healthy, len(report.Weakening))
		printDecayBucket(verb, report.Archived)
		if dryRun {
			printDecayBucket("Would delete", report.Deleted)
		} else {
			printDecayBucket("Deleted", report.Deleted)
		}
		return nil
	},
}

func printDecayBucket(verb string, entries []engine.DecayEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Printf("%s %d:\n", verb, len(entries))
	for _, e := range entries {
		fmt.Printf("  [%.3f] %s (%s, %s)\n", e.Strength, e.Memory, e.ID, e.Agent)
	}
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Summarize the state of the memory graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		report := a.eng.Health()

		timelineDays, _ := cmd.Flags().GetInt("timeline")
		var timeline []engine.TimelineDay
		if timelineDays > 0 {
			agent, _ := cmd.Flags().GetString("agent")
			field, _ := cmd.Flags().GetString("time-field")
			timeline, err = a.eng.Timeline(agent, timelineDays, engine.TimeField(field))
			if err != nil {
				return err
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if timeline != nil {
				return printJSON(map[string]any{"health": report, "timeline": timeline})
			}
			return printJSON(report)
		}

		fmt.Printf("%d memories (%d archived, %d orphans)\n",
			report.Total, report.Archive, report.Orphans)
		printCountMap("Status", report.ByStatus)
		printCountMap("Agents", report.ByAgent)
		printCountMap("Categories", report.ByCategory)
		fmt.Printf("Links: %d (%d cross-agent)\n", report.Links, report.CrossAgentLinks)
		fmt.Printf("Strength: avg %.3f — %d strong, %d healthy, %d weakening, %d critical, %d dead\n",
			report.AverageStrength,
			report.Strength.Strong, report.Strength.Healthy, report.Strength.Weakening,
			report.Strength.Critical, report.Strength.Dead)
		fmt.Printf("Age: avg %.1f days, max %.1f days\n", report.AverageAgeDays, report.MaxAgeDays)
		if report.SM2Count > 0 {
			fmt.Printf("Stability: avg %.2f over %d reinforced memories\n",
				report.AverageStability, report.SM2Count)
		}

		for _, day := range timeline {
			fmt.Printf("\n%s\n", day.Date)
			for _, entry := range day.Entries {
				fmt.Printf("  %s [%s/%s] %s\n",
					entry.At.Format("15:04"), entry.Agent, entry.Category, entry.Text)
			}
		}
		return nil
	},
}

func printCountMap(label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:", label)
	for _, k := range keys {
		fmt.Printf(" %s=%d", k, counts[k])
	}
	fmt.Println()
}

func init() {
	decayCmd.Flags().Bool("dry-run", false, "Report buckets without changing anything")
	decayCmd.Flags().Bool("json", false, "Output as JSON")

	healthCmd.Flags().Int("timeline", 0, "Also show a timeline of the last N days")
	healthCmd.Flags().String("agent", "", "Restrict the timeline to one agent")
	healthCmd.Flags().String("time-field", "auto", "Timeline grouping: auto, event or created")
	healthCmd.Flags().Bool("json", false, "Output as JSON")
}
