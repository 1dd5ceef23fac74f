package adapters

import (
	"context"
	"testing"
	"time"

	"crm_dialog_relay/internal/bitrix"
	"crm_dialog_relay/internal/dialogs/ports"
)

type stubBitrix struct {
	BitrixAPI
	deal    bitrix.Deal
	contact bitrix.Contact
	task    bitrix.TaskFields
}

func (s *stubBitrix) GetDeal(context.Context, int64) (bitrix.Deal, error) { return s.deal, nil }

func (s *stubBitrix) GetContact(context.Context, int64) (bitrix.Contact, error) {
	return s.contact, nil
}

func (s *stubBitrix) AddTask(_ context.Context, fields bitrix.TaskFields) (int64, error) {
	s.task = fields
	return 42, nil
}

func TestBitrixCRMMapsDealAndContact(t *testing.T) {
	api := &stubBitrix{
		deal: bitrix.Deal{ID: "501", Title: "Лот", StageID: "C3:NEW", CategoryID: "3", ContactID: "77", AssignedByID: "0"},
		contact: bitrix.Contact{Name: "Иван", Phones: []bitrix.Multifield{
			{Value: "+7 999 123-45-67", ValueType: "WORK"},
		}},
	}
	crm := NewBitrixCRM(api)

	deal, err := crm.GetDeal(context.Background(), 501)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if deal.ID != 501 || deal.CategoryID != "3" || deal.ContactID == nil || *deal.ContactID != 77 {
		t.Fatalf("unexpected deal %+v", deal)
	}
	if deal.AssignedByID != nil {
		t.Fatalf("expected zero manager id to map to nil")
	}

	contact, err := crm.GetContact(context.Background(), 77)
	if err != nil || contact.Phone != "+7 999 123-45-67" || contact.ID != 77 {
		t.Fatalf("unexpected contact %+v err %v", contact, err)
	}
}

func TestBitrixCRMCreateTask(t *testing.T) {
	api := &stubBitrix{}
	crm := NewBitrixCRM(api)
	deadline := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	id, err := crm.CreateTask(context.Background(), ports.TaskParams{
		DealID: 501, ResponsibleID: 9, Title: "Call", Description: "Call back", Deadline: deadline,
	})
	if err != nil || id != 42 {
		t.Fatalf("unexpected result %d %v", id, err)
	}
	if api.task.DealID != 501 || api.task.ResponsibleID != 9 || !api.task.Deadline.Equal(deadline) {
		t.Fatalf("unexpected task fields %+v", api.task)
	}
}
