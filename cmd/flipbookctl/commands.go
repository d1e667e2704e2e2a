package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"flipbook/pkg/domain"
)

const defaultAPIURL = "http://localhost:8080"

type cli struct {
	out      io.Writer
	errOut   io.Writer
	apiURL   string
	noColor  bool
	client   *apiClient
	interval time.Duration
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "flipbookctl",
		Short:         "Manage flipbooks through the admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.noColor {
				color.NoColor = true
			}
			if strings.TrimSpace(c.apiURL) == "" {
				return errors.New("api url is empty (use --api or FLIPBOOK_API_URL)")
			}
			c.client = newAPIClient(c.apiURL)
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	apiURL := os.Getenv("FLIPBOOK_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	root.PersistentFlags().StringVar(&c.apiURL, "api", apiURL, "flipbook API base URL")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		c.listCmd(),
		c.statusCmd(),
		c.watchCmd(),
		c.reprocessCmd(),
		c.extractTextCmd(),
		c.deleteCmd(),
	)
	return root
}

func (c *cli) listCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flipbooks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				if _, ok := domain.ParseStatus(status); !ok {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			res, err := c.client.list(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSLUG\tSTATUS\tPAGES\tTITLE")
			for _, doc := range res.Documents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", doc.ID, doc.Slug, paintStatus(doc.Status), doc.TotalPages, doc.Title)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d of %d flipbooks\n", len(res.Documents), res.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (processing, published, error, draft)")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default 50)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.client.status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.printStatus(st)
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow processing until the flipbook is published or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.watch(cmd.Context(), args[0])
		},
	}
	cmd.Flags().DurationVar(&c.interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func (c *cli) watch(ctx context.Context, id string) error {
	bar := progressbar.NewOptions64(100,
		progressbar.OptionSetDescription("processing "+id),
		progressbar.OptionSetWriter(c.errOut),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
	)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		st, err := c.client.status(ctx, id)
		if err != nil {
			return err
		}
		_ = bar.Set64(int64(st.Progress))
		switch st.Status {
		case domain.StatusPublished:
			_ = bar.Finish()
			fmt.Fprintln(c.errOut)
			c.printStatus(st)
			return nil
		case domain.StatusError, domain.StatusDraft:
			fmt.Fprintln(c.errOut)
			c.printStatus(st)
			if st.Status == domain.StatusError {
				return fmt.Errorf("processing failed: %s", domain.Deref(st.ErrorMessage))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *cli) reprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Queue a flipbook for processing again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.client.reprocess(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s job %s for %s\n", color.GreenString("queued"), job.ID, args[0])
			return nil
		},
	}
}

func (c *cli) extractTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract-text <id>",
		Short: "Queue per-page text extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.client.extractText(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s text extraction job %s for %s\n", color.GreenString("queued"), job.ID, args[0])
			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a flipbook with its pages and images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s %s\n", color.YellowString("deleted"), args[0])
			return nil
		},
	}
}

func (c *cli) printStatus(st statusView) {
	fmt.Fprintf(c.out, "%s  %s  %d%%  pages=%d\n", st.ID, paintStatus(st.Status), st.Progress, st.TotalPages)
	if msg := domain.Deref(st.ErrorMessage); msg != "" {
		fmt.Fprintf(c.out, "  %s %s\n", color.RedString("error:"), msg)
	}
}

func paintStatus(status domain.DocumentStatus) string {
	switch status {
	case domain.StatusPublished:
		return color.GreenString(string(status))
	case domain.StatusProcessing:
		return color.CyanString(string(status))
	case domain.StatusError:
		return color.RedString(string(status))
	default:
		return color.YellowString(string(status))
	}
}
