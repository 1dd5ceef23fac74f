package bitrix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm_dialog_relay/platform/apperr"
)

// ownerTypeDeal is the CRM entity type id of deals.
const ownerTypeDeal = 2

type Deal struct {
	ID           FlexString `json:"ID"`
	Title        string     `json:"TITLE"`
	StageID      string     `json:"STAGE_ID"`
	CategoryID   FlexString `json:"CATEGORY_ID"`
	ContactID    FlexString `json:"CONTACT_ID"`
	AssignedByID FlexString `json:"ASSIGNED_BY_ID"`
}

type Multifield struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

type Contact struct {
	ID       FlexString   `json:"ID"`
	Name     string       `json:"NAME"`
	LastName string       `json:"LAST_NAME"`
	Phones   []Multifield `json:"PHONE"`
}

// PrimaryPhone returns the first non-empty phone, preferring mobile numbers.
func (c Contact) PrimaryPhone() string {
	first := ""
	for _, p := range c.Phones {
		value := strings.TrimSpace(p.Value)
		if value == "" {
			continue
		}
		if strings.EqualFold(p.ValueType, "MOBILE") {
			return value
		}
		if first == "" {
			first = value
		}
	}
	return first
}

type User struct {
	ID       FlexString `json:"ID"`
	Name     string     `json:"NAME"`
	LastName string     `json:"LAST_NAME"`
}

type Activity struct {
	ID          FlexString `json:"ID"`
	Subject     string     `json:"SUBJECT"`
	Description string     `json:"DESCRIPTION"`
	Created     string     `json:"CREATED"`
}

// CreatedAt parses the activity timestamp; zero when absent or malformed.
func (a Activity) CreatedAt() time.Time {
	t, err := time.Parse(time.RFC3339, a.Created)
	if err != nil {
		return time.Time{}
	}
	return t
}

type Stage struct {
	StatusID string     `json:"STATUS_ID"`
	Name     string     `json:"NAME"`
	Sort     FlexString `json:"SORT"`
}

type TaskFields struct {
	Title         string
	Description   string
	ResponsibleID int64
	DealID        int64
	Deadline      time.Time
}

func (c *Client) GetDeal(ctx context.Context, dealID int64) (Deal, error) {
	var deal Deal
	err := c.call(ctx, "crm.deal.get", map[string]any{"id": dealID}, &deal)
	return deal, err
}

func (c *Client) GetContact(ctx context.Context, contactID int64) (Contact, error) {
	var contact Contact
	err := c.call(ctx, "crm.contact.get", map[string]any{"id": contactID}, &contact)
	return contact, err
}

// GetUser wraps user.get, which returns an array even for a single id.
func (c *Client) GetUser(ctx context.Context, userID int64) (User, error) {
	var users []User
	if err := c.call(ctx, "user.get", map[string]any{"ID": userID}, &users); err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, apperr.NotFound(fmt.Sprintf("bitrix user %d not found", userID))
	}
	return users[0], nil
}

// GetLatestActivity returns the newest activity of a deal, or nil when there is none.
func (c *Client) GetLatestActivity(ctx context.Context, dealID int64) (*Activity, error) {
	var activities []Activity
	err := c.call(ctx, "crm.activity.list", map[string]any{
		"order":  map[string]string{"ID": "DESC"},
		"filter": map[string]any{"OWNER_TYPE_ID": ownerTypeDeal, "OWNER_ID": dealID},
		"select": []string{"ID", "SUBJECT", "DESCRIPTION", "CREATED"},
	}, &activities)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(activities) == 0 {
		return nil, nil
	}
	return &activities[0], nil
}

func (c *Client) AddTimelineComment(ctx context.Context, dealID int64, text string) error {
	var id FlexString
	return c.call(ctx, "crm.timeline.comment.add", map[string]any{
		"fields": map[string]any{
			"ENTITY_ID":   dealID,
			"ENTITY_TYPE": "deal",
			"COMMENT":     text,
		},
	}, &id)
}

func (c *Client) AddTask(ctx context.Context, fields TaskFields) (int64, error) {
	params := map[string]any{
		"TITLE":          fields.Title,
		"DESCRIPTION":    fields.Description,
		"RESPONSIBLE_ID": fields.ResponsibleID,
		"UF_CRM_TASK":    []string{fmt.Sprintf("D_%d", fields.DealID)},
	}
	if !fields.Deadline.IsZero() {
		params["DEADLINE"] = fields.Deadline.Format(time.RFC3339)
	}

	var result struct {
		Task struct {
			ID FlexString `json:"id"`
		} `json:"task"`
	}
	if err := c.call(ctx, "tasks.task.add", map[string]any{"fields": params}, &result); err != nil {
		return 0, err
	}
	if id := result.Task.ID.Int64(); id != nil {
		return *id, nil
	}
	return 0, nil
}

func (c *Client) NotifySystem(ctx context.Context, userID int64, message string) error {
	var id FlexString
	return c.call(ctx, "im.notify.system.add", map[string]any{
		"USER_ID": userID,
		"MESSAGE": message,
	}, &id)
}

// ListStages lists the stages of a deal funnel (category).
func (c *Client) ListStages(ctx context.Context, categoryID int64) ([]Stage, error) {
	var stages []Stage
	err := c.call(ctx, "crm.dealcategory.stage.list", map[string]any{"id": categoryID}, &stages)
	return stages, err
}
