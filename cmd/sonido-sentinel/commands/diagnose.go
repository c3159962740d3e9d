package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
	"github.com/RyanBlaney/sonido-sentinel/service"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose --mode <idle|slow|fast> <audio-file>",
	Short: "Score a recording against a trained mode",
	Long: `Diagnose a recording against the profile of a trained mode.

Every whole second of audio is scored separately. The machine is reported
HEALTHY when more than the configured share of seconds (90% by default)
reconstruct within the profile threshold.

Example:
  sonido-sentinel diagnose --mode idle today.wav
  sonido-sentinel diagnose --mode fast --json today.wav`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(cmd, anomaly.OpDiagnose)
		if err != nil {
			return err
		}

		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.Diagnose(cmd.Context(), mode, args[0])
		if err != nil {
			return userError(err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Fprintln(cmd.OutOrStdout(), styleReport(service.FormatReport(report), report.Verdict))
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().StringP("mode", "m", "", "operating mode: idle, slow or fast")
	diagnoseCmd.Flags().Bool("json", false, "print the full report as JSON")
	diagnoseCmd.MarkFlagRequired("mode")
	rootCmd.AddCommand(diagnoseCmd)
}
