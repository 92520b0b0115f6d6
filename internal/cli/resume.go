package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/csvup/internal/resume"
)

// newResumeCmd creates the 'resume' command group.
func newResumeCmd() *cobra.Command {
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Inspect stored resumable uploads",
		Long: `Commands for the records that let interrupted uploads continue.

Commands:
  list   - Show stored upload records
  clear  - Remove stored upload records`,
	}

	resumeCmd.AddCommand(newResumeListCmd())
	resumeCmd.AddCommand(newResumeClearCmd())

	return resumeCmd
}

func openResumeStore() (*resume.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return resume.Open(cfg.ResumeDir, GetLogger())
}

// newResumeListCmd creates the 'resume list' command.
func newResumeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show stored upload records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openResumeStore()
			if err != nil {
				return err
			}
			recs, err := store.List()
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), store.Path(), recs, time.Now())
		},
	}
}

func printRecords(w io.Writer, path string, recs []resume.Record, now time.Time) error {
	if len(recs) == 0 {
		fmt.Fprintf(w, "No stored uploads (%s)\n", path)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGE\tFINGERPRINT\tUPLOAD URL")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", now.Sub(r.CreatedAt).Round(time.Second), r.Fingerprint, r.UploadURL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d record(s) in %s\n", len(recs), path)
	return nil
}

// newResumeClearCmd creates the 'resume clear' command.
func newResumeClearCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove stored upload records",
		Long: `Remove stored upload records. Removed uploads start from zero the next
time the file is uploaded.

Examples:
  # Remove everything
  csvup resume clear

  # Remove records older than a week
  csvup resume clear --older-than 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			store, err := openResumeStore()
			if err != nil {
				return err
			}
			removed, err := store.Prune(olderThan)
			if err != nil {
				return fmt.Errorf("failed to clear resume records: %w", err)
			}

			logger.Info().Int("removed", removed).Msg("Resume records cleared")
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d record(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove records older than this duration")

	return cmd
}
