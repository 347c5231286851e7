package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"launchledger/internal/domain"
	"launchledger/internal/metrics"
)

func validateVoter(voterID, appID string) error {
	if strings.TrimSpace(voterID) == "" {
		return domain.ValidationError{Field: "voterId", Reason: "required"}
	}
	return domain.ValidateAppID(appID)
}

// voteCode names an outcome for metrics.
func voteCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoActiveLaunch):
		return "no_active_launch"
	case errors.Is(err, ErrVotingClosed):
		return "voting_closed"
	case errors.Is(err, ErrAppNotEligible):
		return "app_not_eligible"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrNotVoted):
		return "not_voted"
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return "invalid"
	}
	return "error"
}

// Vote records one vote by voterID for appID and returns the new count.
func (e Engine) Vote(ctx context.Context, voterID, appID string) (count int64, err error) {
	log := e.log("vote").WithFields(logrus.Fields{"voter_id": voterID, "app_id": appID})
	defer func() { metrics.RecordVote("vote", voteCode(err)) }()
	if err := validateVoter(voterID, appID); err != nil {
		return 0, err
	}
	if err := e.admit(ctx, log, appID); err != nil {
		return 0, err
	}

	// The marker is claimed first so two concurrent votes by one voter cannot both count.
	marked, err := e.Counter.MarkVoted(ctx, voterID, appID, e.Options.WindowTTL)
	if err != nil {
		return 0, err
	}
	if !marked {
		current, cerr := e.Counter.Count(ctx, appID)
		if cerr != nil {
			return 0, cerr
		}
		return 0, VoteConflictError{Err: ErrAlreadyVoted, Count: current}
	}
	count, err = e.Counter.Incr(ctx, appID, e.Options.WindowTTL)
	if err != nil {
		if _, uerr := e.Counter.Unmark(ctx, voterID, appID); uerr != nil {
			log.WithError(uerr).Error("vote marker rollback failed")
		}
		return 0, err
	}
	log.WithField("count", count).Debug("vote recorded")
	return count, nil
}

// admit runs the admission checks for a vote, self-repairing an empty
// eligibility set while the durable launch is active.
func (e Engine) admit(ctx context.Context, log logrus.FieldLogger, appID string) error {
	status, err := e.GetLaunchStatus(ctx)
	if err != nil {
		return err
	}
	if !status.HasActiveLaunch {
		return ErrNoActiveLaunch
	}
	if status.IsFlushingInProgress {
		return ErrVotingClosed
	}
	eligible, err := e.Counter.IsEligible(ctx, appID)
	if err != nil {
		return err
	}
	if eligible {
		return nil
	}
	members, err := e.Counter.EligibleApps(ctx)
	if err != nil {
		return err
	}
	if len(members) > 0 {
		return ErrAppNotEligible
	}
	log.Warn("eligibility set empty while launch active; repairing")
	res := e.RepairActiveLaunchRedis(ctx)
	if !res.Success {
		log.WithField("message", res.Message).Error("self-repair failed")
		return ErrAppNotEligible
	}
	eligible, err = e.Counter.IsEligible(ctx, appID)
	if err != nil {
		return err
	}
	if !eligible {
		return ErrAppNotEligible
	}
	return nil
}

// Unvote withdraws voterID's vote for appID and returns the new count. The
// counter is clamped at zero.
func (e Engine) Unvote(ctx context.Context, voterID, appID string) (count int64, err error) {
	log := e.log("unvote").WithFields(logrus.Fields{"voter_id": voterID, "app_id": appID})
	defer func() { metrics.RecordVote("unvote", voteCode(err)) }()
	if err := validateVoter(voterID, appID); err != nil {
		return 0, err
	}
	status, err := e.GetLaunchStatus(ctx)
	if err != nil {
		return 0, err
	}
	if status.IsFlushingInProgress {
		return 0, ErrVotingClosed
	}
	removed, err := e.Counter.Unmark(ctx, voterID, appID)
	if err != nil {
		return 0, err
	}
	if !removed {
		current, cerr := e.Counter.Count(ctx, appID)
		if cerr != nil {
			return 0, cerr
		}
		return 0, VoteConflictError{Err: ErrNotVoted, Count: current}
	}
	count, err = e.Counter.DecrFloor(ctx, appID)
	if err != nil {
		return 0, err
	}
	log.WithField("count", count).Debug("vote withdrawn")
	return count, nil
}

// GetCurrentVoteCounts reads every counter in one round trip.
func (e Engine) GetCurrentVoteCounts(ctx context.Context, appIDs []string) (map[string]int64, error) {
	ids, err := domain.NormalizeAppIDs(appIDs)
	if err != nil {
		return nil, err
	}
	return e.Counter.Counts(ctx, ids)
}

// HasVoted returns the apps among appIDs that voterID has voted for.
func (e Engine) HasVoted(ctx context.Context, voterID string, appIDs []string) ([]string, error) {
	if strings.TrimSpace(voterID) == "" {
		return nil, domain.ValidationError{Field: "voterId", Reason: "required"}
	}
	ids, err := domain.NormalizeAppIDs(appIDs)
	if err != nil {
		return nil, err
	}
	return e.Counter.VotedFor(ctx, voterID, ids)
}
