package server

import (
	"launchledger/internal/domain"
	"launchledger/internal/engine"
)

// Request payloads

type CreateLaunchRequest struct {
	Date      string         `json:"date" format:"date"`
	AppIDs    []string       `json:"appIds" minItems:"1"`
	Name      string         `json:"name,omitempty"`
	CreatedBy string         `json:"createdBy,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type SetLaunchDateRequest struct {
	// LaunchDate is the day the app enters the daily cycle; empty clears it.
	LaunchDate string `json:"launchDate"`
}

// Response payloads

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type LaunchResponse struct {
	Launch domain.Launch `json:"launch"`
}

type ActiveLaunchResponse struct {
	Launch *domain.Launch `json:"launch,omitempty"`
}

type LaunchListResponse struct {
	Items []domain.Launch `json:"items"`
}

type FlushResponse struct {
	Message    string           `json:"message"`
	VoteCounts map[string]int64 `json:"voteCounts"`
	Launch     *domain.Launch   `json:"launch,omitempty"`
}

type VoteResponse struct {
	Count int64 `json:"count"`
}

type CycleResponse struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message"`
	Results   engine.CycleResult `json:"results"`
	NextCycle string             `json:"nextCycle"`
}

type AuditListResponse struct {
	Items []domain.AuditLog `json:"items"`
}

type AppLaunchDateResponse struct {
	ID         string `json:"id"`
	LaunchDate string `json:"launchDate"`
}

func cycleResponse(res engine.CycleResult) CycleResponse {
	msg := "daily cycle complete"
	if !res.CycleComplete {
		msg = "daily cycle incomplete"
	}
	return CycleResponse{
		Success:   res.CycleComplete,
		Message:   msg,
		Results:   res,
		NextCycle: res.NextCycle,
	}
}
