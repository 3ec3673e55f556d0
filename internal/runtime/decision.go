package runtime

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/tools"
	"github.com/branchline/pkg/models"
)

// ResolveResult counts how the chosen option was applied
type ResolveResult struct {
	Retried int `json:"retried"`
	Skipped int `json:"skipped"`
}

// ResolveDecision applies option to the tool runs blocked on a pending
// decision and resumes the owning run. An unknown option leaves the run
// blocked.
func (c *Controller) ResolveDecision(ctx context.Context, branchID, decisionID, option string) (*ResolveResult, error) {
	bs := c.branch(branchID)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	ar := bs.active
	if ar == nil || ar.decision == nil || ar.decision.decision.ID != decisionID {
		return nil, models.NotFound("pending decision", decisionID)
	}
	pd := ar.decision
	d := pd.decision

	opt, ok := d.Option(option)
	if !ok {
		return nil, models.Errorf(models.CodeInvalidOption, "%q is not an option of decision %s", option, decisionID)
	}

	// validate before mutating anything so a bad option changes nothing
	var retryInput []byte
	if opt.Action == models.ActionRetry {
		merged, err := tools.MergeParams(pd.toolRun.Input, opt.Params)
		if err != nil {
			return nil, models.Errorf(models.CodeInvalidOption, "option %q: %v", option, err)
		}
		retryInput = merged
	} else if opt.Action != models.ActionSkip {
		return nil, models.Errorf(models.CodeInvalidOption, "option %q has unknown action %q", option, opt.Action)
	}

	wctx := context.WithoutCancel(ctx)
	res := &ResolveResult{}
	tr := pd.toolRun
	switch opt.Action {
	case models.ActionRetry:
		tr.Input = retryInput
		tr.Status = models.ToolRunning
		tr.Attempts++
		if err := c.store.UpdateToolRun(wctx, tr); err != nil {
			return nil, err
		}
		c.emit(branchID, models.EventToolRetried, map[string]interface{}{
			"toolRunId": tr.ID,
			"runId":     tr.RunID,
			"name":      tr.Name,
			"attempt":   tr.Attempts,
			"input":     tr.Input,
		})
		res.Retried++
	case models.ActionSkip:
		ended := c.now()
		tr.Status = models.ToolSkipped
		tr.EndedAt = &ended
		if err := c.store.UpdateToolRun(wctx, tr); err != nil {
			return nil, err
		}
		delete(ar.inflight, tr.ID)
		c.emit(branchID, models.EventToolSkipped, map[string]interface{}{
			"toolRunId": tr.ID,
			"runId":     tr.RunID,
			"name":      tr.Name,
		})
		res.Skipped++
	}

	now := c.now()
	chosen := opt.Name
	d.Status = models.DecisionResolved
	d.ChosenOption = &chosen
	d.ResolvedAt = &now
	if err := c.store.UpdateDecision(wctx, d); err != nil {
		return nil, err
	}
	c.emit(branchID, models.EventDecisionResolved, map[string]interface{}{
		"decisionId": d.ID,
		"runId":      d.RunID,
		"option":     chosen,
		"retried":    res.Retried,
		"skipped":    res.Skipped,
	})

	ar.decision = nil
	pd.resolved <- opt.Action

	log.Info().
		Str("branch_id", branchID).
		Str("decision_id", decisionID).
		Str("option", chosen).
		Msg("Decision resolved")
	return res, nil
}
