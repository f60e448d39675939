package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trend-oracle/internal/app"
	"trend-oracle/internal/pricefeed"
)

var (
	validateCandidate   uint64
	validatePrice       int64
	validateConf        uint64
	validateExpo        int32
	validatePublishTime int64
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Dry-run the acceptance checks for a candidate against a fixed quote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("price") {
			return errors.New("--price is required")
		}

		now := time.Now()
		publish := validatePublishTime
		if publish == 0 {
			publish = now.Unix()
		}

		res, err := getApp().Validate(cmd.Context(), app.ValidateOptions{
			Candidate: validateCandidate,
			Quote: pricefeed.Quote{
				Price:       validatePrice,
				Conf:        validateConf,
				Expo:        validateExpo,
				PublishTime: publish,
			},
			Now: now,
		})
		if err != nil {
			return err
		}
		if !res.Accepted {
			return fmt.Errorf("candidate %d rejected", res.Candidate)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Uint64Var(&validateCandidate, "candidate", 0, "Candidate value at the configured decimals")
	validateCmd.Flags().Int64Var(&validatePrice, "price", 0, "Quote price mantissa")
	validateCmd.Flags().Uint64Var(&validateConf, "conf", 0, "Quote confidence mantissa")
	validateCmd.Flags().Int32Var(&validateExpo, "expo", -8, "Quote exponent")
	validateCmd.Flags().Int64Var(&validatePublishTime, "publish-time", 0, "Quote publish time in unix seconds (defaults to now)")
}
