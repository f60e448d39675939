package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"trend-oracle/internal/domain"
)

var (
	queryFrom string
	queryTo   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the oracle state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().RequirePersistentStorage(); err != nil {
			return err
		}
		return getApp().Init(cmd.Context())
	},
}

var updateTrendCmd = &cobra.Command{
	Use:   "update-trend <candidate>",
	Short: "Validate a candidate value against the price feed and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().RequirePersistentStorage(); err != nil {
			return err
		}
		candidate, err := parseUint("candidate", args[0])
		if err != nil {
			return err
		}
		return getApp().UpdateTrend(cmd.Context(), candidate)
	},
}

var getTrendCmd = &cobra.Command{
	Use:   "get-trend",
	Short: "Print the current trend value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().GetTrend(cmd.Context())
	},
}

var storeDatapointCmd = &cobra.Command{
	Use:   "store-datapoint <derived> <reference> <count>",
	Short: "Append a datapoint to the ledger",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().RequirePersistentStorage(); err != nil {
			return err
		}
		var values [3]uint64
		for i, name := range []string{"derived", "reference", "count"} {
			v, err := parseUint(name, args[i])
			if err != nil {
				return err
			}
			values[i] = v
		}
		return getApp().StoreDatapoint(cmd.Context(), values[0], values[1], values[2])
	},
}

var getDatapointCmd = &cobra.Command{
	Use:   "get-datapoint <id>",
	Short: "Print one datapoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := domain.ParseDatapointID(args[0])
		if err != nil {
			return err
		}
		return getApp().GetDatapoint(cmd.Context(), id)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print datapoints observed within an inclusive time range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseTimestamp("--from", queryFrom)
		if err != nil {
			return err
		}
		end, err := parseTimestamp("--to", queryTo)
		if err != nil {
			return err
		}
		return getApp().Query(cmd.Context(), start, end)
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "Start (unix seconds or RFC3339, inclusive)")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "End (unix seconds or RFC3339, inclusive)")
	_ = queryCmd.MarkFlagRequired("from")
	_ = queryCmd.MarkFlagRequired("to")
}

func parseUint(name, raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

// parseTimestamp accepts epoch seconds or an RFC3339 time.
func parseTimestamp(flag, raw string) (int64, error) {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: expected unix seconds or RFC3339", flag, raw)
	}
	return t.Unix(), nil
}
