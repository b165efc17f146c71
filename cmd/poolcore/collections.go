package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"poolcore/internal/client"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

func parseTarget(args []string) (domain.Kind, string, error) {
	kind, ok := domain.ParseKind(args[0])
	if !ok {
		return "", "", fmt.Errorf("unknown kind %q", args[0])
	}
	parentID := ""
	if len(args) > 1 {
		parentID = args[1]
	}
	if _, hasParent := domain.ParentKind(kind); hasParent && parentID == "" {
		return "", "", fmt.Errorf("%s needs a parent id", kind)
	}
	return kind, parentID, nil
}

func newListCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list <kind> [parent-id]",
		Short: "Print a collection in display order",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, parentID, err := parseTarget(args)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			items, err := client.Collection[domain.Fields](c, kind).Fetch(cmd.Context(), parentID)
			if err != nil {
				return err
			}
			rows := make([]map[string]any, 0, len(items))
			for _, item := range items {
				rows = append(rows, flatten(item))
			}
			return write(cmd.OutOrStdout(), format, rows)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatYAML, "output format: yaml or json")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <kind> [parent-id]",
		Short: "Snapshot a collection and its descendants to blob storage",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, parentID, err := parseTarget(args)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			artifact, err := c.Export(cmd.Context(), kind, parentID)
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), formatJSON, artifact)
		},
	}
}

// flatten renders an item the way the collection endpoints do.
func flatten(item reconcile.Item[domain.Fields]) map[string]any {
	row := item.Fields.Clone().StripReserved()
	if row == nil {
		row = map[string]any{}
	}
	row[domain.FieldID] = item.ID.String()
	row[domain.FieldOrder] = item.Order
	return row
}

func write(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
