package adapters

import (
	"context"

	"crm_dialog_relay/internal/bitrix"
	"crm_dialog_relay/internal/dialogs/ports"
	"crm_dialog_relay/internal/wazzup"
)

// BitrixAPI is the subset of the Bitrix client the dialogs domain relies on.
type BitrixAPI interface {
	GetDeal(ctx context.Context, dealID int64) (bitrix.Deal, error)
	GetContact(ctx context.Context, contactID int64) (bitrix.Contact, error)
	GetUser(ctx context.Context, userID int64) (bitrix.User, error)
	GetLatestActivity(ctx context.Context, dealID int64) (*bitrix.Activity, error)
	AddTimelineComment(ctx context.Context, dealID int64, text string) error
	AddTask(ctx context.Context, fields bitrix.TaskFields) (int64, error)
	NotifySystem(ctx context.Context, userID int64, message string) error
}

// BitrixCRM adapts the Bitrix REST client to ports.CRM.
type BitrixCRM struct {
	api BitrixAPI
}

func NewBitrixCRM(api BitrixAPI) *BitrixCRM {
	return &BitrixCRM{api: api}
}

func (a *BitrixCRM) GetDeal(ctx context.Context, dealID int64) (ports.Deal, error) {
	deal, err := a.api.GetDeal(ctx, dealID)
	if err != nil {
		return ports.Deal{}, err
	}
	id := dealID
	if parsed := deal.ID.Int64(); parsed != nil {
		id = *parsed
	}
	return ports.Deal{
		ID:           id,
		Title:        deal.Title,
		StageID:      deal.StageID,
		CategoryID:   deal.CategoryID.String(),
		ContactID:    deal.ContactID.Int64(),
		AssignedByID: deal.AssignedByID.Int64(),
	}, nil
}

func (a *BitrixCRM) GetContact(ctx context.Context, contactID int64) (ports.Contact, error) {
	contact, err := a.api.GetContact(ctx, contactID)
	if err != nil {
		return ports.Contact{}, err
	}
	return ports.Contact{
		ID:       contactID,
		Name:     contact.Name,
		LastName: contact.LastName,
		Phone:    contact.PrimaryPhone(),
	}, nil
}

func (a *BitrixCRM) GetUser(ctx context.Context, userID int64) (ports.User, error) {
	user, err := a.api.GetUser(ctx, userID)
	if err != nil {
		return ports.User{}, err
	}
	return ports.User{ID: userID, Name: user.Name, LastName: user.LastName}, nil
}

func (a *BitrixCRM) GetLatestActivity(ctx context.Context, dealID int64) (*ports.Activity, error) {
	activity, err := a.api.GetLatestActivity(ctx, dealID)
	if err != nil || activity == nil {
		return nil, err
	}
	out := &ports.Activity{
		Subject:     activity.Subject,
		Description: activity.Description,
		Created:     activity.CreatedAt(),
	}
	if id := activity.ID.Int64(); id != nil {
		out.ID = *id
	}
	return out, nil
}

func (a *BitrixCRM) AddComment(ctx context.Context, dealID int64, text string) error {
	return a.api.AddTimelineComment(ctx, dealID, text)
}

func (a *BitrixCRM) CreateTask(ctx context.Context, params ports.TaskParams) (int64, error) {
	return a.api.AddTask(ctx, bitrix.TaskFields{
		Title:         params.Title,
		Description:   params.Description,
		ResponsibleID: params.ResponsibleID,
		DealID:        params.DealID,
		Deadline:      params.Deadline,
	})
}

func (a *BitrixCRM) NotifyUser(ctx context.Context, userID int64, message string) error {
	return a.api.NotifySystem(ctx, userID, message)
}

// Compile-time checks.
var (
	_ ports.CRM        = (*BitrixCRM)(nil)
	_ BitrixAPI        = (*bitrix.Client)(nil)
	_ ports.ChatSender = (*wazzup.Client)(nil)
)
