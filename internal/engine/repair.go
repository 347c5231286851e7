package engine

import (
	"context"
	"slices"

	"github.com/sirupsen/logrus"

	"launchledger/internal/events"
	"launchledger/internal/metrics"
)

type RepairDetails struct {
	Date        string   `json:"date,omitempty"`
	LaunchApps  []string `json:"launchApps,omitempty"`
	Before      []string `json:"before"`
	After       []string `json:"after"`
	BeforeCount int      `json:"beforeCount"`
	AfterCount  int      `json:"afterCount"`
	Repaired    bool     `json:"repaired"`
}

type RepairResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Details RepairDetails `json:"details"`
}

// RepairActiveLaunchRedis rebuilds the eligibility set from the durable
// active launch. Counters are only created where missing, so live counts
// survive. Running it against a set that already matches is a no-op.
func (e Engine) RepairActiveLaunchRedis(ctx context.Context) RepairResult {
	log := e.log("repair")
	res := e.repair(ctx)
	metrics.RecordRepair(res.Success)
	if res.Details.Repaired || !res.Success {
		var err error
		if !res.Success {
			err = repairError(res.Message)
		}
		e.Audit.Maintenance(ctx, "launch.repair", err, events.Payload{
			"date":   res.Details.Date,
			"before": res.Details.BeforeCount,
			"after":  res.Details.AfterCount,
		})
	}
	log.WithFields(logrus.Fields{
		"success":  res.Success,
		"repaired": res.Details.Repaired,
		"date":     res.Details.Date,
	}).Info(res.Message)
	return res
}

type repairError string

func (e repairError) Error() string { return string(e) }

func (e Engine) repair(ctx context.Context) RepairResult {
	res := RepairResult{Details: RepairDetails{Before: []string{}, After: []string{}}}
	active, err := e.GetActiveLaunch(ctx)
	if err != nil {
		res.Message = "could not read active launch: " + err.Error()
		return res
	}
	if active == nil {
		res.Success = true
		res.Message = "no active launch; nothing to repair"
		return res
	}
	want := sortedCopy(active.Apps)
	res.Details.Date = active.Date
	res.Details.LaunchApps = want

	before, err := e.Counter.EligibleApps(ctx)
	if err != nil {
		res.Message = "could not read eligibility set: " + err.Error()
		return res
	}
	res.Details.Before = before
	res.Details.BeforeCount = len(before)
	if slices.Equal(before, want) {
		res.Success = true
		res.Message = "eligibility set already matches active launch"
		res.Details.After = before
		res.Details.AfterCount = len(before)
		return res
	}

	if err := e.Counter.InitWindow(ctx, active.Apps, e.Options.WindowTTL, true); err != nil {
		res.Message = "could not rebuild eligibility set: " + err.Error()
		return res
	}
	after, err := e.Counter.EligibleApps(ctx)
	if err != nil {
		res.Message = "could not re-read eligibility set: " + err.Error()
		return res
	}
	res.Details.After = after
	res.Details.AfterCount = len(after)
	res.Details.Repaired = true
	if !slices.Equal(after, want) {
		res.Message = "eligibility set still differs after rebuild"
		return res
	}
	res.Success = true
	res.Message = "eligibility set rebuilt from active launch"
	return res
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
