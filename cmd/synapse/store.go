package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/engine"
)

var storeCmd = &cobra.Command{
	Use:   "store <text>",
	Short: "Store a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := storeRequestFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.eng.Store(cmd.Context(), req)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(res)
		}
		printStoreResult(res)
		return nil
	},
}

var evolveCmd = &cobra.Command{
	Use:   "evolve <text>",
	Short: "Store a memory, retiring anything it contradicts",
	Long:  `Evolve classifies the new text against similar existing memories: contradicted ones are archived, refinements update in place, and novel information is stored as usual.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := storeRequestFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.eng.Evolve(cmd.Context(), req)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(res)
		}
		printEvolveResult(res)
		return nil
	},
}

func storeRequestFromFlags(cmd *cobra.Command, text string) (engine.StoreRequest, error) {
	agent, _ := cmd.Flags().GetString("agent")
	category, _ := cmd.Flags().GetString("category")
	importance, _ := cmd.Flags().GetFloat64("importance")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	source, _ := cmd.Flags().GetString("source")
	sourceID, _ := cmd.Flags().GetString("source-id")
	quarantine, _ := cmd.Flags().GetBool("quarantine")
	onConflict, _ := cmd.Flags().GetString("on-conflict")
	eventAtStr, _ := cmd.Flags().GetString("event-at")

	req := engine.StoreRequest{
		Agent:      agent,
		Text:       text,
		Category:   category,
		Importance: importance,
		Tags:       tags,
		Source:     source,
		SourceID:   sourceID,
		Quarantine: quarantine,
		OnConflict: engine.ConflictMode(onConflict),
	}

	eventAt, err := parseTimeArg(eventAtStr)
	if err != nil {
		return req, err
	}
	req.EventAt = eventAt

	claim, err := claimFromFlags(cmd)
	if err != nil {
		return req, err
	}
	req.Claim = claim
	return req, nil
}

// claimFromFlags builds a claim when any claim flag is set; the engine
// rejects partial triples.
func claimFromFlags(cmd *cobra.Command) (*domain.Claim, error) {
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	value, _ := cmd.Flags().GetString("value")
	if subject == "" && predicate == "" && value == "" {
		return nil, nil
	}

	scope, _ := cmd.Flags().GetString("scope")
	sessionID, _ := cmd.Flags().GetString("session-id")
	claim := &domain.Claim{
		Subject:   subject,
		Predicate: predicate,
		Value:     value,
		Scope:     domain.ClaimScope(scope),
		SessionID: sessionID,
	}

	validFromStr, _ := cmd.Flags().GetString("valid-from")
	validFrom, err := parseTimeArg(validFromStr)
	if err != nil {
		return nil, err
	}
	claim.ValidFrom = validFrom

	validUntilStr, _ := cmd.Flags().GetString("valid-until")
	validUntil, err := parseTimeArg(validUntilStr)
	if err != nil {
		return nil, err
	}
	claim.ValidUntil = validUntil

	if cmd.Flags().Changed("exclusive") {
		exclusive, _ := cmd.Flags().GetBool("exclusive")
		claim.Exclusive = &exclusive
	}
	return claim, nil
}

func printStoreResult(res *engine.StoreResult) {
	if res.Deduplicated {
		fmt.Printf("✅ Stored: %s (corroborated existing memory)\n", res.ID)
	} else {
		fmt.Printf("✅ Stored: %s\n", res.ID)
	}
	if res.Links > 0 {
		fmt.Printf("   linked to %d memories (top: %s)\n", res.Links, res.TopLink)
	}
	if res.Quarantined {
		fmt.Println("   quarantined pending review")
	}
	if res.PendingConflictID != "" {
		fmt.Printf("   pending conflict: %s\n", res.PendingConflictID)
	}
}

func printEvolveResult(res *engine.EvolveResult) {
	switch res.Action {
	case "updated":
		fmt.Printf("✅ Updated: %s\n", res.ID)
	default:
		if res.Deduplicated {
			fmt.Printf("✅ Stored: %s (corroborated existing memory)\n", res.ID)
		} else {
			fmt.Printf("✅ Stored: %s\n", res.ID)
		}
		if res.Links > 0 {
			fmt.Printf("   linked to %d memories\n", res.Links)
		}
		if res.Quarantined {
			fmt.Println("   quarantined pending review")
		}
	}
	for _, id := range res.Archived {
		fmt.Printf("   archived %s (contradicted)\n", id)
	}
	if res.DetectionError != "" {
		fmt.Printf("   classification skipped: %s\n", res.DetectionError)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("agent", "default", "Agent the memory belongs to")
	cmd.Flags().String("category", "", "Category (fact, decision, preference, insight, finding, event, task, ...)")
	cmd.Flags().Float64("importance", 0, "Importance in [0,1]")
	cmd.Flags().StringSlice("tags", nil, "Tags (comma-separated)")
	cmd.Flags().String("source", "", "Provenance source (user_explicit, user_implicit, tool_output, document, inference, system)")
	cmd.Flags().String("source-id", "", "Identifier within the source")
	cmd.Flags().String("event-at", "", "When the remembered event happened")
	cmd.Flags().String("subject", "", "Claim subject")
	cmd.Flags().String("predicate", "", "Claim predicate")
	cmd.Flags().String("value", "", "Claim value")
	cmd.Flags().String("scope", "", "Claim scope (global, session, temporal)")
	cmd.Flags().String("session-id", "", "Session the claim is scoped to")
	cmd.Flags().String("valid-from", "", "Claim validity start")
	cmd.Flags().String("valid-until", "", "Claim validity end")
	cmd.Flags().Bool("exclusive", true, "Claim competes for its subject/predicate key")
	cmd.Flags().Bool("json", false, "Output as JSON")
}

func init() {
	addStoreFlags(storeCmd)
	storeCmd.Flags().Bool("quarantine", false, "Hold the memory for review instead of activating it")
	storeCmd.Flags().String("on-conflict", "", "Conflict handling: quarantine (default) or keep_active")

	addStoreFlags(evolveCmd)
}
