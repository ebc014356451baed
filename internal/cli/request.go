package cli

import (
	"github.com/spf13/cobra"

	"temporary-access/backend/internal/services"
	"temporary-access/backend/pkg/models"
)

func (a *app) validateCmd() *cobra.Command {
	var req models.AccessRequest
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check workflow parameters and print the schedules an approval would create",
		Long: `Validate StartTime, EndTime, AccountID and UserName against the runbook's
input patterns. Omitted parameters take the document defaults. On success
the approval settings and both CreateSchedule calls are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			svc, closeStore, err := a.service(cmd, cfg, false)
			if err != nil {
				return err
			}
			defer closeStore()

			plan, err := svc.ValidateRequest(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), plan)
		},
	}
	cmd.Flags().StringVar(&req.StartTime, "start", "", "StartTime, e.g. 2024-04-01T09:00:00")
	cmd.Flags().StringVar(&req.EndTime, "end", "", "EndTime, e.g. 2024-04-01T18:00:00")
	cmd.Flags().StringVar(&req.AccountID, "account", "", "Target account ID")
	cmd.Flags().StringVar(&req.UserName, "user", "", "Identity Center user name")
	return cmd
}

func (a *app) payloadCmd() *cobra.Command {
	var (
		accountID    string
		userName     string
		action       string
		schedulerARN string
	)
	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Print the input a schedule delivers to the compute function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := services.RenderPayload(accountID, userName, models.Action(action), schedulerARN)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "Target account ID")
	cmd.Flags().StringVar(&userName, "user", "", "Identity Center user name")
	cmd.Flags().StringVar(&action, "action", string(models.ActionCreate), "create or delete")
	cmd.Flags().StringVar(&schedulerARN, "schedule-arn", "", "Schedule ARN (defaults to the scheduler placeholder)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
