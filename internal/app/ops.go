package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"trend-oracle/internal/authority"
	"trend-oracle/internal/config"
	"trend-oracle/internal/domain"
)

// cliSubject is the grant subject of operator commands. Anyone able to run
// the CLI against the configured storage already holds write access to it.
const cliSubject = "cli"

// Init creates the oracle state.
func (a *App) Init(ctx context.Context) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	st, err := svc.Initialize(ctx, authority.Local(cliSubject))
	if err != nil {
		return err
	}
	return a.printJSON(st)
}

// UpdateTrend submits candidate through the full validation pipeline.
func (a *App) UpdateTrend(ctx context.Context, candidate uint64) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	st, err := svc.UpdateTrend(ctx, authority.Local(cliSubject), candidate)
	if err != nil {
		return err
	}
	return a.printJSON(st)
}

// GetTrend prints the current oracle state.
func (a *App) GetTrend(ctx context.Context) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	st, err := svc.GetTrend(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(st)
}

// StoreDatapoint appends a datapoint stamped with the current time.
func (a *App) StoreDatapoint(ctx context.Context, derived, reference, count uint64) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	id, err := svc.StoreDatapoint(ctx, authority.Local(cliSubject), derived, reference, count)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]domain.DatapointID{"id": id})
}

// GetDatapoint prints a single datapoint.
func (a *App) GetDatapoint(ctx context.Context, id domain.DatapointID) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	dp, err := svc.GetDatapoint(ctx, id)
	if err != nil {
		return err
	}
	return a.printJSON(dp)
}

// Query prints every datapoint observed in [start, end] as a JSON array.
func (a *App) Query(ctx context.Context, start, end int64) error {
	points, err := a.collect(ctx, start, end)
	if err != nil {
		return err
	}
	return a.printJSON(points)
}

func (a *App) collect(ctx context.Context, start, end int64) ([]domain.Datapoint, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := svc.QueryDatapoints(ctx, start, end)
	if err != nil {
		return nil, err
	}
	points := []domain.Datapoint{}
	for dp, err := range seq {
		if err != nil {
			return nil, err
		}
		points = append(points, dp)
	}
	return points, nil
}

func (a *App) printJSON(v any) error {
	if a.Out == nil {
		return errors.New("app output not configured")
	}
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RequirePersistentStorage fails when writes would vanish with this process,
// as they do with the memory driver.
func (a *App) RequirePersistentStorage() error {
	switch a.Config.Storage.Driver {
	case config.DriverPostgres, config.DriverRedis:
		return nil
	}
	return fmt.Errorf("storage.driver %q keeps nothing once this command exits; configure %s or %s",
		a.Config.Storage.Driver, config.DriverPostgres, config.DriverRedis)
}
