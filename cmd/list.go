package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/K4mp47/poetry-cms/internal/config"
	"github.com/K4mp47/poetry-cms/internal/model"
)

var listType string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Prints content items in display order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd.Context(), cmd.OutOrStdout(), appConfig, listType, logger)
	},
}

func runList(ctx context.Context, out io.Writer, cfg config.Config, rawType string, logger *zap.Logger) error {
	var t model.ContentType
	if rawType != "" {
		parsed, err := model.ParseContentType(rawType)
		if err != nil {
			return err
		}
		t = parsed
	}

	repo, closeCache, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tDATE\tTITLE")
	for _, item := range repo.Items(t) {
		title := item.Title
		if title == "" {
			title = model.DeriveExcerpt(item.Body)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, item.Type, item.Date, title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d items (source: %s, mode: %s)\n", len(repo.Items(t)), repo.Source(), repo.Mode())
	return nil
}

func init() {
	listCmd.Flags().StringVarP(&listType, "type", "t", "", "only list one type (story, poetry, quote)")
	rootCmd.AddCommand(listCmd)
}
