package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
	"recurrent-billing/internal/domain/ports/repository"
	"recurrent-billing/internal/infra/metrics"
)

// DuplicateGroup is a user holding open records in more than one chain for
// the same product. Chains belong together when they share the type they
// started with or the type they bill now, so a chain that renewed into its
// type's successor still matches a fresh chain of the original type.
// SubscriptionTypeID is the starting type of the oldest chain. Records are
// ordered oldest first.
type DuplicateGroup struct {
	UserID             string
	SubscriptionTypeID string
	Records            []*model.RecurrentPayment
}

func (g DuplicateGroup) Key() string { return g.UserID + "/" + g.SubscriptionTypeID }

// DuplicateUseCase finds duplicate chains and resolves them on explicit admin request only.
type DuplicateUseCase struct {
	recurrents repository.RecurrentPaymentRepository
	tm         repository.TransactionManager
	notifier   adapter.Notifier
	log        *zerolog.Logger
}

func NewDuplicateUseCase(recurrents repository.RecurrentPaymentRepository, tm repository.TransactionManager, notifier adapter.Notifier, logger *zerolog.Logger) *DuplicateUseCase {
	l := logger.With().Str("component", "DuplicateUseCase").Logger()
	return &DuplicateUseCase{recurrents: recurrents, tm: tm, notifier: notifier, log: &l}
}

func (uc *DuplicateUseCase) ListDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	recs, err := uc.recurrents.ListDuplicateCandidates(ctx, nil)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	origins, err := uc.originTypes(ctx, recs)
	if err != nil {
		return nil, err
	}
	return groupDuplicates(recs, origins), nil
}

// originTypes maps each chain to the subscription type of its first link.
func (uc *DuplicateUseCase) originTypes(ctx context.Context, recs []*model.RecurrentPayment) (map[string]string, error) {
	out := make(map[string]string, len(recs))
	for _, rp := range recs {
		if _, ok := out[rp.ChainID]; ok {
			continue
		}
		if rp.ID == rp.ChainID {
			out[rp.ChainID] = rp.SubscriptionTypeID
			continue
		}
		root, err := uc.recurrents.FindByID(ctx, nil, rp.ChainID)
		if err != nil {
			return nil, fmt.Errorf("load first link of chain %s: %w", rp.ChainID, err)
		}
		out[rp.ChainID] = root.SubscriptionTypeID
	}
	return out, nil
}

func groupDuplicates(recs []*model.RecurrentPayment, origins map[string]string) []DuplicateGroup {
	parent := make(map[string]string)
	var find func(c string) string
	find = func(c string) string {
		if parent[c] != c {
			parent[c] = find(parent[c])
		}
		return parent[c]
	}
	firstByType := make(map[string]string)
	var open []*model.RecurrentPayment
	for _, rp := range recs {
		if !rp.State.IsOpen() {
			continue
		}
		open = append(open, rp)
		if _, ok := parent[rp.ChainID]; !ok {
			parent[rp.ChainID] = rp.ChainID
		}
		for _, typ := range []string{origins[rp.ChainID], rp.SubscriptionTypeID} {
			if typ == "" {
				continue
			}
			k := rp.UserID + "/" + typ
			if first, ok := firstByType[k]; ok {
				parent[find(rp.ChainID)] = find(first)
			} else {
				firstByType[k] = rp.ChainID
			}
		}
	}

	byRoot := make(map[string]*DuplicateGroup)
	for _, rp := range open {
		r := find(rp.ChainID)
		if byRoot[r] == nil {
			byRoot[r] = &DuplicateGroup{UserID: rp.UserID}
		}
		byRoot[r].Records = append(byRoot[r].Records, rp)
	}

	out := make([]DuplicateGroup, 0, len(byRoot))
	for _, g := range byRoot {
		chains := make(map[string]bool, len(g.Records))
		for _, rp := range g.Records {
			chains[rp.ChainID] = true
		}
		if len(chains) < 2 {
			continue
		}
		sort.SliceStable(g.Records, func(i, j int) bool { return g.Records[i].CreatedAt.Before(g.Records[j].CreatedAt) })
		g.SubscriptionTypeID = origins[g.Records[0].ChainID]
		if g.SubscriptionTypeID == "" {
			g.SubscriptionTypeID = g.Records[0].SubscriptionTypeID
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Resolve admin-stops stopID, which must be a duplicate of keepID. keepID stays untouched.
func (uc *DuplicateUseCase) Resolve(ctx context.Context, keepID, stopID, adminID string) (*model.RecurrentPayment, error) {
	if keepID == "" || stopID == "" || keepID == stopID {
		return nil, domain.ErrInvalidArgument
	}
	keep, err := uc.recurrents.FindByID(ctx, nil, keepID)
	if err != nil {
		return nil, err
	}
	stop, err := uc.recurrents.FindByID(ctx, nil, stopID)
	if err != nil {
		return nil, err
	}
	if keep.UserID != stop.UserID || keep.ChainID == stop.ChainID {
		return nil, fmt.Errorf("%w: %s and %s are not duplicates", domain.ErrInvalidArgument, keepID, stopID)
	}
	if !keep.State.IsOpen() || !stop.State.IsOpen() {
		return nil, fmt.Errorf("%w: both records must be open", domain.ErrNotStoppable)
	}
	origins, err := uc.originTypes(ctx, []*model.RecurrentPayment{keep, stop})
	if err != nil {
		return nil, err
	}
	if len(groupDuplicates([]*model.RecurrentPayment{keep, stop}, origins)) != 1 {
		return nil, fmt.Errorf("%w: %s and %s are not duplicates", domain.ErrInvalidArgument, keepID, stopID)
	}

	note := "duplicate of chain " + keep.ChainID
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := uc.recurrents.Transition(ctx, tx, stop.ID, model.OpenStates, model.RecurrentStateAdminStop, model.StateUpdate{Note: &note})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: record %s left the open states", domain.ErrNotStoppable, stop.ID)
		}
		return uc.recurrents.SaveAudit(ctx, tx, model.NewRecurrentAudit(stop, model.AuditActionResolveDuplicate, model.ActorAdmin, adminID, note))
	})
	if err != nil {
		return nil, err
	}
	stop.State = model.RecurrentStateAdminStop
	stop.Note = note
	metrics.IncRecurrentTransition(string(model.RecurrentStateAdminStop))
	uc.log.Info().Str("kept_chain_id", keep.ChainID).Str("stopped_chain_id", stop.ChainID).
		Str("admin_id", adminID).Msg("duplicate chain resolved")
	return stop, nil
}

// Report publishes the current duplicate count and alerts when there is any.
// It never changes chain state.
func (uc *DuplicateUseCase) Report(ctx context.Context) (int, error) {
	groups, err := uc.ListDuplicates(ctx)
	if err != nil {
		return 0, err
	}
	metrics.SetDuplicateGroups(len(groups))
	if len(groups) == 0 {
		return 0, nil
	}
	uc.log.Warn().Int("groups", len(groups)).Msg("duplicate recurrent chains detected")
	if uc.notifier != nil {
		fields := map[string]string{"groups": fmt.Sprint(len(groups))}
		for i, g := range groups {
			if i == 5 {
				break
			}
			fields[g.Key()] = fmt.Sprintf("%d open records", len(g.Records))
		}
		alert := adapter.Alert{Level: adapter.AlertWarning, Title: "duplicate recurrent chains", Fields: fields}
		if err := uc.notifier.Notify(ctx, alert); err != nil {
			uc.log.Error().Err(err).Msg("duplicate alert delivery failed")
		}
	}
	return len(groups), nil
}
