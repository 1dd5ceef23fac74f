// Package ports defines consumer-driven interfaces for external dependencies.
// These interfaces are defined in the dialogs domain based on what it needs,
// rather than what the CRM, chat and model clients choose to offer.
package ports

import (
	"context"
	"strings"
	"time"
)

// Deal is the minimal deal data the dialogs domain needs.
type Deal struct {
	ID           int64
	Title        string
	StageID      string
	CategoryID   string
	ContactID    *int64
	AssignedByID *int64
}

// Contact is the client behind a deal.
type Contact struct {
	ID       int64
	Name     string
	LastName string
	Phone    string
}

// User is a CRM user, typically the deal's manager.
type User struct {
	ID       int64
	Name     string
	LastName string
}

// FullName joins the first and last name, skipping blanks.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.Name) + " " + strings.TrimSpace(u.LastName))
}

// Activity is the most recent CRM activity attached to a deal.
type Activity struct {
	ID          int64
	Subject     string
	Description string
	Created     time.Time
}

// TaskParams describes a task assigned to a manager.
type TaskParams struct {
	DealID        int64
	ResponsibleID int64
	Title         string
	Description   string
	Deadline      time.Time
}

// CRMReader loads the records that route and personalize a CRM event.
// Missing records are reported as apperr.KindNotFound.
type CRMReader interface {
	GetDeal(ctx context.Context, dealID int64) (Deal, error)
	GetContact(ctx context.Context, contactID int64) (Contact, error)
	GetUser(ctx context.Context, userID int64) (User, error)
	// GetLatestActivity returns nil when the deal has no activities.
	GetLatestActivity(ctx context.Context, dealID int64) (*Activity, error)
}

// CRMWriter performs the side effects requested by oracle decisions.
type CRMWriter interface {
	AddComment(ctx context.Context, dealID int64, text string) error
	CreateTask(ctx context.Context, params TaskParams) (int64, error)
	NotifyUser(ctx context.Context, userID int64, message string) error
}

// CRM combines read and write access.
type CRM interface {
	CRMReader
	CRMWriter
}
