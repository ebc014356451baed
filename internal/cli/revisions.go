package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) revisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revisions [version]",
		Short: "List stored template revisions, or print one",
		Long: `Without arguments, list the revision history of the configured stack.
With a version, print that revision's template; 0 selects the latest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			svc, closeStore, err := a.service(cmd, cfg, true)
			if err != nil {
				return err
			}
			defer closeStore()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				version, err := strconv.Atoi(args[0])
				if err != nil || version < 0 {
					return fmt.Errorf("invalid version %q", args[0])
				}
				rev, err := svc.Revision(cmd.Context(), version)
				if err != nil {
					return err
				}
				_, err = out.Write(rev.Template)
				return err
			}

			revs, err := svc.Revisions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tDIGEST\tCREATED BY\tCREATED AT")
			for _, r := range revs {
				digest := r.Digest
				if len(digest) > 12 {
					digest = digest[:12]
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Version, digest, r.CreatedBy, r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	return cmd
}
