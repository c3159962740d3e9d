package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which modes have a trained profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		status, err := svc.Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, st := range status {
			name := labelStyle.Render(fmt.Sprintf("%-5s", strings.ToUpper(string(st.Mode))))
			switch {
			case st.Error != "":
				fmt.Fprintf(out, "%s  %s  %s\n", name, anomalyStyle.Render("corrupt"), dimStyle.Render(st.Error))
			case !st.Trained:
				fmt.Fprintf(out, "%s  %s\n", name, dimStyle.Render("not trained"))
			default:
				trained := "unknown"
				if st.TrainedAt != nil {
					trained = st.TrainedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "%s  %s  threshold %.5f  %d windows  %s\n",
					name, healthyStyle.Render("trained"), st.Threshold, st.Windows, dimStyle.Render(trained))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
