package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/kferrors"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/internal/killfeed/statusreport"
	"github.com/evekillfeed/killfeed/internal/killfeed/webhook"
)

// Service bundles the components the REST surface reads from. It
// holds no business logic of its own, only request/response
// translation, the way the teacher's routes packages stay thin over a
// services.Service.
type Service struct {
	cache       *cache.Cache
	store       *eventstore.Store
	webhooks    *webhook.Dispatcher
	broadcaster *broadcast.Broadcaster
	reporter    *statusreport.Reporter
}

// NewService creates an api.Service bound to the running components.
func NewService(c *cache.Cache, store *eventstore.Store, webhooks *webhook.Dispatcher, b *broadcast.Broadcaster, reporter *statusreport.Reporter) *Service {
	return &Service{cache: c, store: store, webhooks: webhooks, broadcaster: b, reporter: reporter}
}

// RegisterRoutes registers the killfeed REST API under basePath.
func RegisterRoutes(api huma.API, basePath string, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "getHealth",
		Method:        http.MethodGet,
		Path:          "/health",
		Summary:       "Liveness check",
		Description:   "Returns healthy as long as the process is up; does not reflect stream state.",
		Tags:          []string{"Module Status"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthResponse{Status: "healthy"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getStatus",
		Method:        http.MethodGet,
		Path:          "/status",
		Summary:       "Service status and metrics",
		Description:   "Returns stream state, pipeline counters, and subscription index sizes.",
		Tags:          []string{"Module Status"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *struct{}) (*StatusOutput, error) {
		return &StatusOutput{Body: *svc.reporter.Build()}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID:   "getSystemKills",
		Method:        http.MethodGet,
		Path:          basePath + "/kills/system/{system_id}",
		Summary:       "Get recent kills for a system",
		Description:   "Returns the most recent retained killmails for a solar system, newest last.",
		Tags:          []string{"Killmails"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *SystemKillsInput) (*KillmailListOutput, error) {
		recs := svc.store.FetchRecent(input.SystemID, input.Limit)
		kills := make([]model.Killmail, len(recs))
		for i, r := range recs {
			kills[i] = r.Killmail
		}
		return &KillmailListOutput{Body: KillmailListResponse{Kills: kills, Count: len(kills)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getSystemsBatchKills",
		Method:        http.MethodPost,
		Path:          basePath + "/kills/systems",
		Summary:       "Get recent kills for several systems",
		Description:   "Returns recent killmails across a batch of solar systems in one call.",
		Tags:          []string{"Killmails"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *SystemsBatchInput) (*KillmailListOutput, error) {
		var kills []model.Killmail
		for _, sid := range input.Body.SystemIDs {
			for _, r := range svc.store.FetchRecent(sid, input.Body.Limit) {
				kills = append(kills, r.Killmail)
			}
		}
		return &KillmailListOutput{Body: KillmailListResponse{Kills: kills, Count: len(kills)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getCachedSystemKills",
		Method:        http.MethodGet,
		Path:          basePath + "/kills/cached/{system_id}",
		Summary:       "Get cached kills for a system",
		Description:   "Returns the same recent kills as getSystemKills, sourced from the event log rather than re-querying upstream.",
		Tags:          []string{"Killmails"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *SystemKillsInput) (*KillmailListOutput, error) {
		recs := svc.store.FetchRecent(input.SystemID, input.Limit)
		kills := make([]model.Killmail, len(recs))
		for i, r := range recs {
			kills[i] = r.Killmail
		}
		return &KillmailListOutput{Body: KillmailListResponse{Kills: kills, Count: len(kills)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getKillmailByID",
		Method:        http.MethodGet,
		Path:          basePath + "/killmail/{killmail_id}",
		Summary:       "Get a single killmail by id",
		Description:   "Returns a single killmail from the cache if it is still within its retention TTL.",
		Tags:          []string{"Killmails"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *KillmailByIDInput) (*KillmailOutput, error) {
		raw, ok := svc.cache.Get(ctx, cache.NamespaceKillmails, strconv.FormatInt(input.KillmailID, 10))
		if !ok {
			return nil, NewAPIError(kferrors.NewNotFoundError("killmail", strconv.FormatInt(input.KillmailID, 10)))
		}
		var km model.Killmail
		if err := json.Unmarshal(raw, &km); err != nil {
			return nil, NewAPIError(kferrors.NewCacheError(string(cache.NamespaceKillmails), "failed to decode cached killmail"))
		}
		return &KillmailOutput{Body: km}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getSystemKillCount",
		Method:        http.MethodGet,
		Path:          basePath + "/kills/count/{system_id}",
		Summary:       "Get retained event count for a system",
		Description:   "Returns how many killmails the event log currently retains for a system.",
		Tags:          []string{"Killmails"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *SystemCountInput) (*SystemCountOutput, error) {
		return &SystemCountOutput{Body: SystemCountResponse{SystemID: input.SystemID, Count: svc.store.Count(input.SystemID)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "createSubscription",
		Method:        http.MethodPost,
		Path:          basePath + "/subscriptions",
		Summary:       "Register a webhook subscription",
		Description:   "Registers (or replaces) a webhook that receives killmail_update payloads for the given systems and characters.",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateSubscriptionInput) (*SubscriptionOutput, error) {
		if u, err := url.Parse(input.Body.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, huma.Error422UnprocessableEntity("url must be an absolute http or https URL")
		}
		sub := webhook.Subscription{
			SubscriberID: input.Body.SubscriberID,
			URL:          input.Body.URL,
			SystemIDs:    input.Body.SystemIDs,
			CharacterIDs: input.Body.CharacterIDs,
		}
		if err := svc.webhooks.Register(sub); err != nil {
			return nil, NewAPIError(err)
		}
		stored, _ := svc.webhooks.Get(sub.SubscriberID)
		return &SubscriptionOutput{Body: SubscriptionResponse{
			SubscriberID: stored.SubscriberID,
			URL:          stored.URL,
			SystemIDs:    stored.SystemIDs,
			CharacterIDs: stored.CharacterIDs,
			CreatedAt:    stored.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "listSubscriptions",
		Method:        http.MethodGet,
		Path:          basePath + "/subscriptions",
		Summary:       "List webhook subscriptions",
		Description:   "Returns every currently registered webhook subscription.",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *struct{}) (*SubscriptionListOutput, error) {
		subs := svc.webhooks.List()
		out := &SubscriptionListOutput{}
		for _, s := range subs {
			out.Body.Subscriptions = append(out.Body.Subscriptions, SubscriptionResponse{
				SubscriberID: s.SubscriberID,
				URL:          s.URL,
				SystemIDs:    s.SystemIDs,
				CharacterIDs: s.CharacterIDs,
				CreatedAt:    s.CreatedAt,
			})
		}
		out.Body.Count = len(out.Body.Subscriptions)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSubscription",
		Method:        http.MethodDelete,
		Path:          basePath + "/subscriptions/{subscriber_id}",
		Summary:       "Remove a webhook subscription",
		Description:   "Removes a previously registered webhook subscription by its subscriber id.",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *DeleteSubscriptionInput) (*DeleteSubscriptionOutput, error) {
		_, existed := svc.webhooks.Get(input.SubscriberID)
		svc.webhooks.Unregister(input.SubscriberID)
		out := &DeleteSubscriptionOutput{}
		out.Body.Removed = existed
		return out, nil
	})
}
