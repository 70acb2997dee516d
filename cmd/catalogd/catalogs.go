package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arkilian/catalog/internal/app"
	"github.com/arkilian/catalog/internal/catalog"
)

var catalogsCmd = &cobra.Command{
	Use:   "catalogs",
	Short: "Bootstrap the catalog of this node and print its tree",
	RunE:  runCatalogs,
}

func runCatalogs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	return printTree(ctx, cmd.OutOrStdout(), a.Manager())
}

func printTree(ctx context.Context, w io.Writer, m *catalog.Manager) error {
	catalogNames, err := m.CatalogNames(ctx)
	if err != nil {
		return err
	}
	for _, cn := range catalogNames {
		fmt.Fprintln(w, cn)
		c, err := m.Catalog(ctx, cn)
		if err != nil {
			return err
		}
		if c == nil {
			continue
		}
		schemaNames, err := c.SchemaNames(ctx)
		if err != nil {
			return err
		}
		for _, sn := range schemaNames {
			fmt.Fprintf(w, "  %s\n", sn)
			s, err := c.Schema(ctx, sn)
			if err != nil {
				return err
			}
			if s == nil {
				continue
			}
			tableNames, err := s.TableNames(ctx)
			if err != nil {
				return err
			}
			for _, tn := range tableNames {
				t, err := s.Table(ctx, tn)
				if err != nil {
					return err
				}
				if t == nil {
					fmt.Fprintf(w, "    %s (remote)\n", tn)
					continue
				}
				info := t.Info()
				fmt.Fprintf(w, "    %s id:%d engine:%s\n", tn, info.Ident.TableID, info.Meta.EngineName)
			}
		}
	}
	return nil
}
