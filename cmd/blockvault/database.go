package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/blockvault/internal/app"
	"github.com/vonshlovens/blockvault/internal/database"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Structured databases",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				dbs, err := a.Databases.ListDatabases(ctx)
				if err != nil {
					return err
				}
				for _, m := range dbs {
					fmt.Printf("%s  %s  (%d properties, %d rows)\n", m.ID, m.Title, len(m.Schema.Properties), len(m.RowIndex))
				}
				return nil
			})
		},
	}

	var props []string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a database",
		Long:  `Creates a database. Properties are given as name:type, e.g. --property Status:select.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := parseProperties(props)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				m, err := a.Databases.CreateDatabase(ctx, args[0], defs)
				if err != nil {
					return err
				}
				fmt.Printf("Created database %s\n", m.ID)
				return printJSON(m.Schema)
			})
		},
	}
	create.Flags().StringSliceVar(&props, "property", nil, "property as name:type (repeatable)")

	addRow := &cobra.Command{
		Use:   "add-row <database> <values-json>",
		Short: "Add a row",
		Long:  `Adds a row. Values map property ids to {"type": ..., "value": ...} objects.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var values database.Values
			if err := json.Unmarshal([]byte(args[1]), &values); err != nil {
				return fmt.Errorf("invalid values: %w", err)
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				row, err := a.Databases.CreateRow(ctx, args[0], values)
				if err != nil {
					return err
				}
				return printJSON(row)
			})
		},
	}

	var (
		filterJSON string
		sorts      []string
		groupBy    string
		offset     int
		limit      int
	)
	query := &cobra.Command{
		Use:   "query <database>",
		Short: "Query rows with a filter, sorts and optional grouping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *database.Filter
			if filterJSON != "" {
				filter = &database.Filter{}
				if err := json.Unmarshal([]byte(filterJSON), filter); err != nil {
					return fmt.Errorf("invalid filter: %w", err)
				}
			}
			rules, err := parseSorts(sorts)
			if err != nil {
				return err
			}

			return withApp(func(ctx context.Context, a *app.App) error {
				if groupBy != "" {
					groups, err := a.Databases.GetGroupedRows(ctx, args[0], groupBy, filter, rules...)
					if err != nil {
						return err
					}
					return printJSON(groups)
				}
				res, err := a.Databases.QueryRows(ctx, database.Query{
					DatabaseID: args[0],
					Filter:     filter,
					Sorts:      rules,
					Offset:     offset,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	query.Flags().StringVar(&filterJSON, "filter", "", "filter as JSON")
	query.Flags().StringSliceVar(&sorts, "sort", nil, "sort as property[:asc|desc] (repeatable)")
	query.Flags().StringVar(&groupBy, "group-by", "", "group rows by a select, multi-select or checkbox property")
	query.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	query.Flags().IntVar(&limit, "limit", 0, "maximum rows, 0 for all")

	cmd.AddCommand(list, create, addRow, query)
	return cmd
}

func parseProperties(args []string) ([]database.PropertyDef, error) {
	defs := make([]database.PropertyDef, 0, len(args))
	for _, arg := range args {
		name, typ, ok := strings.Cut(arg, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q, want name:type", arg)
		}
		defs = append(defs, database.PropertyDef{Name: name, Type: database.PropertyType(typ)})
	}
	return defs, nil
}

func parseSorts(args []string) ([]database.SortRule, error) {
	rules := make([]database.SortRule, 0, len(args))
	for _, arg := range args {
		prop, dir, _ := strings.Cut(arg, ":")
		rule := database.SortRule{Property: prop, Direction: database.Ascending}
		switch database.SortDirection(dir) {
		case "", database.Ascending:
		case database.Descending:
			rule.Direction = database.Descending
		default:
			return nil, fmt.Errorf("invalid sort direction %q", dir)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
