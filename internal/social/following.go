package social

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/internal/optimistic"
	"github.com/pitabwire/inkline/model"
)

// Following is one subject's view of profiles with follow state.
type Following struct {
	gw        gateway.Gateway
	subjectID string
	list      *optimistic.List[model.ProfileSummary]
}

// NewFollowing creates an empty profile list for subjectID.
func NewFollowing(gw gateway.Gateway, subjectID string, metrics *observability.Metrics, logger *zap.Logger) *Following {
	return &Following{
		gw:        gw,
		subjectID: subjectID,
		list:      optimistic.New[model.ProfileSummary]("following", metrics, logger),
	}
}

// Profiles returns the current list.
func (f *Following) Profiles() []model.ProfileSummary {
	return f.list.Items()
}

// ToggleFollow flips whether the subject follows profileID and reconciles the
// follower count with the server on success.
func (f *Following) ToggleFollow(ctx context.Context, profileID string) (model.ProfileSummary, error) {
	if profileID == f.subjectID {
		return model.ProfileSummary{}, model.NewBadRequestError("cannot follow yourself")
	}
	if err := f.ensure(ctx, profileID); err != nil {
		return model.ProfileSummary{}, err
	}
	current, _ := f.list.Get(profileID)
	follow := !current.IsFollowing
	edge := gateway.Filter{"follower_id": f.subjectID, "following_id": profileID}

	_, err := f.list.Mutate(ctx, profileID,
		func(items []model.ProfileSummary) []model.ProfileSummary {
			for i := range items {
				if items[i].ID == profileID {
					items[i].IsFollowing = follow
					items[i].FollowerCount = max(items[i].FollowerCount+delta(follow), 0)
				}
			}
			return items
		},
		func(ctx context.Context) (optimistic.Reconcile[model.ProfileSummary], error) {
			if follow {
				if _, err := f.gw.Insert(ctx, "follows", []gateway.Row{{"follower_id": f.subjectID, "following_id": profileID}}); err != nil {
					return nil, err
				}
			} else if _, err := f.gw.Delete(ctx, "follows", edge); err != nil {
				return nil, err
			}
			n, err := count(ctx, f.gw, "follows", gateway.Filter{"following_id": profileID})
			if err != nil {
				return nil, nil
			}
			return func(items []model.ProfileSummary) []model.ProfileSummary {
				for i := range items {
					if items[i].ID == profileID {
						items[i].FollowerCount = n
					}
				}
				return items
			}, nil
		},
	)
	if err != nil {
		return model.ProfileSummary{}, err
	}
	p, _ := f.list.Get(profileID)
	return p, nil
}

func (f *Following) ensure(ctx context.Context, profileID string) error {
	if _, ok := f.list.Get(profileID); ok {
		return nil
	}
	rows, err := f.gw.Select(ctx, "profiles", gateway.Query{Filter: gateway.Filter{"id": profileID}, Limit: 1})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return model.NewNotFoundError(fmt.Sprintf("profile %q not found", profileID))
	}
	p := profileFromRow(rows[0])
	following, err := count(ctx, f.gw, "follows", gateway.Filter{"follower_id": f.subjectID, "following_id": profileID})
	if err != nil {
		return err
	}
	p.IsFollowing = following > 0
	followers, err := count(ctx, f.gw, "follows", gateway.Filter{"following_id": profileID})
	if err != nil {
		return err
	}
	p.FollowerCount = followers
	f.list.Upsert(p)
	return nil
}
