package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"codegraph/internal/graph"
	"codegraph/internal/schema"
	"codegraph/internal/store"
)

func runSymbol(cmd *cobra.Command, args []string) error {
	_, _, _, st, err := setup(cmd, "")
	if err != nil {
		return err
	}
	defer st.Close()

	name := args[0]
	ctx := cmd.Context()
	var nodes []*graph.Node
	kinds := []schema.NodeKind{
		schema.KindFunction, schema.KindMethod, schema.KindClass,
		schema.KindFile, schema.KindImport,
	}
	for _, kind := range kinds {
		node, err := st.FindNode(ctx, graph.Ref{Kind: kind, Key: name})
		if err == nil {
			nodes = append(nodes, node)
			break
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	if len(nodes) == 0 {
		// Fall back to bare-name search over the definable kinds.
		for _, kind := range kinds[:3] {
			found, err := st.FindNodesByName(ctx, kind, name)
			if err != nil {
				return err
			}
			nodes = append(nodes, found...)
		}
	}
	if len(nodes) == 0 {
		return fmt.Errorf("symbol %q not found", name)
	}

	raw, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return nil
}
