package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
	"github.com/RyanBlaney/sonido-sentinel/service"
)

var trainCmd = &cobra.Command{
	Use:   "train --mode <idle|slow|fast> <audio-file>",
	Short: "Learn the normal sound of a machine mode",
	Long: `Train a mode profile from a recording of the machine running normally.

The recording must hold at least one full second of audio. A previous profile
for the same mode is replaced once training succeeds.

Example:
  sonido-sentinel train --mode idle healthy_idle.wav`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(cmd, anomaly.OpTrain)
		if err != nil {
			return err
		}

		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			svc.Calibrator().SetProgress(func(m anomaly.Mode, epoch int, loss float64) {
				fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render(fmt.Sprintf("epoch %3d  loss %.6f", epoch, loss)))
			})
		}

		res, err := svc.Train(cmd.Context(), mode, args[0])
		if err != nil {
			return userError(err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), healthyStyle.Render(service.FormatCalibration(res)))
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(fmt.Sprintf("%d windows, max error %.5f, %s", res.Windows, res.MaxError, res.Elapsed.Round(time.Millisecond))))
		return nil
	},
}

func init() {
	trainCmd.Flags().StringP("mode", "m", "", "operating mode: idle, slow or fast")
	trainCmd.Flags().BoolP("quiet", "q", false, "do not print per-epoch progress")
	trainCmd.MarkFlagRequired("mode")
	rootCmd.AddCommand(trainCmd)
}
