// Package notifications provides Notifier implementations. The only
// implementation for now logs each event; a real delivery channel (email,
// message queue) can be slotted in behind the same interface.
package notifications

import (
	"context"
	"log/slog"

	"grouphub/internal/domain"
)

// SlogNotifier writes notification events to a structured logger.
type SlogNotifier struct {
	logger *slog.Logger
}

var _ domain.Notifier = (*SlogNotifier)(nil)

// NewSlogNotifier returns a notifier logging to the given logger.
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

// Notify logs a new-request event for each target.
func (n *SlogNotifier) Notify(
	_ context.Context,
	targets []string,
	g *domain.Group,
	r *domain.GroupRequest,
) error {
	n.logger.Info("new request",
		"targets", targets,
		"group", g.ID,
		"request", r.ID,
		"type", r.Type,
		"requester", r.Requester,
		"expires", r.ExpiresAt,
	)
	return nil
}

// Cancel logs a cancellation event.
func (n *SlogNotifier) Cancel(_ context.Context, requestID string) error {
	n.logger.Info("request canceled", "request", requestID)
	return nil
}

// Accept logs an acceptance event.
func (n *SlogNotifier) Accept(
	_ context.Context,
	targets []string,
	r *domain.GroupRequest,
) error {
	n.logger.Info("request accepted",
		"targets", targets,
		"request", r.ID,
		"closedby", r.Status.ClosedBy,
	)
	return nil
}

// Deny logs a denial event.
func (n *SlogNotifier) Deny(
	_ context.Context,
	targets []string,
	r *domain.GroupRequest,
) error {
	n.logger.Info("request denied",
		"targets", targets,
		"request", r.ID,
		"closedby", r.Status.ClosedBy,
		"reason", r.Status.ClosedReason,
	)
	return nil
}

// AddResource logs a resource-addition event.
func (n *SlogNotifier) AddResource(
	_ context.Context,
	targets []string,
	groupID string,
	rtype domain.ResourceType,
	resourceID string,
) error {
	n.logger.Info("resource added",
		"targets", targets,
		"group", groupID,
		"restype", rtype,
		"resource", resourceID,
	)
	return nil
}
