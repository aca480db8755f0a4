package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "write [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin. Writing an existing --id appends a revision.",
		Run:   runWrite,
	}

	cmd.Flags().String("id", "", "Record id (default: generated)")
	cmd.Flags().StringP("summary", "s", "", "One-line summary")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("type", "fact", "Memory type: identity, goal, decision, todo, preference, fact, event, observation")
	cmd.Flags().Float64P("importance", "i", 0, "Importance in [0,1] (default: per-type profile)")
	cmd.Flags().Bool("identity", false, "Exempt from lifecycle maintenance")
	cmd.Flags().String("source", "", "Where the memory came from")
	cmd.Flags().String("relate", "", "Comma-separated outbound edges: target[:kind[:weight]]")

	RootCmd.AddCommand(cmd)
}

func runWrite(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	summary, _ := cmd.Flags().GetString("summary")
	tagsStr, _ := cmd.Flags().GetString("tags")
	memType, _ := cmd.Flags().GetString("type")
	identity, _ := cmd.Flags().GetBool("identity")
	source, _ := cmd.Flags().GetString("source")
	relate, _ := cmd.Flags().GetString("relate")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("write", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	relations, err := parseRelations(relate)
	if err != nil {
		exitErr("write", err)
	}

	p := store.WriteParams{
		ID:         id,
		Content:    content,
		Summary:    summary,
		Tags:       splitTags(tagsStr),
		MemoryType: model.MemoryType(memType),
		IsIdentity: identity,
		Source:     source,
		Relations:  relations,
	}
	if cmd.Flags().Changed("importance") {
		imp, _ := cmd.Flags().GetFloat64("importance")
		p.Importance = &imp
	}

	s := mustOpenStore()
	defer s.Close()

	rec, err := s.Write(cmd.Context(), p)
	if err != nil {
		exitErr("write", err)
	}
	printResult(cmd, rec)
}

// parseRelations reads "target[:kind[:weight]]" entries.
func parseRelations(s string) ([]store.RelationInput, error) {
	var out []store.RelationInput
	for _, entry := range splitTags(s) {
		parts := strings.Split(entry, ":")
		in := store.RelationInput{TargetID: parts[0]}
		if len(parts) > 1 {
			in.Kind = parts[1]
		}
		if len(parts) > 2 {
			w, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("relation %q: invalid weight: %w", entry, err)
			}
			in.Weight = w
		}
		if len(parts) > 3 {
			return nil, fmt.Errorf("relation %q: expected target[:kind[:weight]]", entry)
		}
		out = append(out, in)
	}
	return out, nil
}
