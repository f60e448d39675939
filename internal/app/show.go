package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"trend-oracle/internal/domain"
)

// Show prints the current trend value followed by the most recent datapoints.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)

	st, err := rt.svc.GetTrend(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(writer, "Trend\t%s\tupdated %s\n", formatScaled(st.CurrentValue, rt.decimals), formatUnix(st.LastUpdate))
	case isNotInitialized(err):
		fmt.Fprintln(writer, "Trend\tnot initialized")
	default:
		return err
	}
	fmt.Fprintln(writer)

	points, err := rt.svc.RecentDatapoints(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(writer, "no datapoints found")
		return writer.Flush()
	}

	fmt.Fprintln(writer, "ID\tObserved (UTC)\tDerived\tReference\tSamples")
	for _, dp := range points {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\n",
			dp.ID,
			formatUnix(dp.ObservedAt),
			formatScaled(dp.DerivedValue, rt.decimals),
			formatScaled(dp.ReferencePrice, rt.decimals),
			dp.SampleCount,
		)
	}

	return writer.Flush()
}

func scaled(v uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals)
}

func formatScaled(v uint64, decimals int32) string {
	return scaled(v, decimals).StringFixed(decimals)
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func isNotInitialized(err error) bool {
	return errors.Is(err, domain.ErrNotInitialized)
}
