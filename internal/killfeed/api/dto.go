// Package api exposes killfeed's REST surface over huma v2, the way
// the teacher's per-module routes packages wrap a thin service with
// typed input/output structs.
package api

import (
	"time"

	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/internal/killfeed/statusreport"
)

// HealthResponse is the liveness check body.
type HealthResponse struct {
	Status string `json:"status" doc:"Always \"healthy\" once the process accepts requests"`
}

// HealthOutput wraps HealthResponse for huma v2.
type HealthOutput struct {
	Body HealthResponse
}

// StatusOutput wraps a full statusreport.Report for huma v2.
type StatusOutput struct {
	Body statusreport.Report
}

// SystemKillsInput fetches the cached or live tail of a system's feed.
type SystemKillsInput struct {
	SystemID int32 `path:"system_id" validate:"required" minimum:"30000000" doc:"Solar system ID"`
	Limit    int   `query:"limit" validate:"min:1,max:200" minimum:"1" maximum:"200" default:"50" doc:"Maximum number of killmails to return (1-200, default 50)"`
}

// SystemsBatchBody lists several systems in one request.
type SystemsBatchBody struct {
	SystemIDs []int32 `json:"system_ids" validate:"required,min=1,max=50" doc:"Solar system IDs to fetch recent kills for"`
	Limit     int     `json:"limit" doc:"Maximum number of killmails to return per system"`
}

// SystemsBatchInput wraps SystemsBatchBody for huma v2.
type SystemsBatchInput struct {
	Body SystemsBatchBody
}

// KillmailByIDInput fetches a single cached killmail by id.
type KillmailByIDInput struct {
	KillmailID int64 `path:"killmail_id" validate:"required" minimum:"1" doc:"Killmail ID"`
}

// SystemCountInput reports how many retained events a system holds.
type SystemCountInput struct {
	SystemID int32 `path:"system_id" validate:"required" minimum:"30000000" doc:"Solar system ID"`
}

// CreateSubscriptionBody registers a webhook subscription.
type CreateSubscriptionBody struct {
	SubscriberID string  `json:"subscriber_id" validate:"required" doc:"Caller-chosen unique subscriber identifier"`
	URL          string  `json:"url" validate:"required,url" doc:"Webhook delivery URL"`
	SystemIDs    []int32 `json:"system_ids,omitempty" doc:"Solar system IDs to receive kills for"`
	CharacterIDs []int64 `json:"character_ids,omitempty" doc:"Character IDs to receive kills for"`
}

// CreateSubscriptionInput wraps CreateSubscriptionBody for huma v2.
type CreateSubscriptionInput struct {
	Body CreateSubscriptionBody
}

// DeleteSubscriptionInput removes a webhook subscription.
type DeleteSubscriptionInput struct {
	SubscriberID string `path:"subscriber_id" validate:"required" doc:"Subscriber identifier to remove"`
}

// KillmailOutput wraps a single killmail for huma v2.
type KillmailOutput struct {
	Body model.Killmail
}

// KillmailListResponse is the list envelope every multi-kill endpoint
// returns.
type KillmailListResponse struct {
	Kills []model.Killmail `json:"kills" doc:"Killmails returned"`
	Count int               `json:"count" doc:"Number of killmails returned"`
}

// KillmailListOutput wraps KillmailListResponse for huma v2.
type KillmailListOutput struct {
	Body KillmailListResponse
}

// SystemCountResponse reports retained event counts.
type SystemCountResponse struct {
	SystemID int32 `json:"system_id"`
	Count    int   `json:"count"`
}

// SystemCountOutput wraps SystemCountResponse for huma v2.
type SystemCountOutput struct {
	Body SystemCountResponse
}

// SubscriptionResponse echoes a registered webhook subscription back.
type SubscriptionResponse struct {
	SubscriberID string    `json:"subscriber_id"`
	URL          string    `json:"url"`
	SystemIDs    []int32   `json:"system_ids,omitempty"`
	CharacterIDs []int64   `json:"character_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionOutput wraps SubscriptionResponse for huma v2.
type SubscriptionOutput struct {
	Body SubscriptionResponse
}

// SubscriptionListOutput wraps a list of webhook subscriptions.
type SubscriptionListOutput struct {
	Body struct {
		Subscriptions []SubscriptionResponse `json:"subscriptions"`
		Count         int                    `json:"count"`
	}
}

// DeleteSubscriptionOutput reports a successful removal.
type DeleteSubscriptionOutput struct {
	Body struct {
		Removed bool `json:"removed"`
	}
}
