// Package appointments wraps the appointment booking endpoints. Queue
// positions, slot availability and all other business rules are computed
// server-side; this package only shapes requests and responses.
package appointments

import (
	"context"
	"fmt"
	"net/url"

	"github.com/medisched/medisched-client/apiclient"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusBooked    Status = "BOOKED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

type Appointment struct {
	ID            string `json:"id"`
	DoctorID      string `json:"doctorId"`
	DoctorName    string `json:"doctorName"`
	PatientID     string `json:"patientId"`
	Date          string `json:"date"` // YYYY-MM-DD
	Slot          string `json:"slot"` // HH:MM
	Status        Status `json:"status"`
	QueuePosition *int   `json:"queuePosition,omitempty"`
}

type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// AfterSuccessHook runs after a booking mutation succeeds. The calendar
// sync prompt hangs off this; hook failures are logged, never propagated,
// because the appointment itself already went through.
type AfterSuccessHook func(ctx context.Context) error

type Service struct {
	api *apiclient.Client
	log zerolog.Logger
}

func NewService(api *apiclient.Client, log zerolog.Logger) *Service {
	return &Service{
		api: api,
		log: log.With().Str("component", "appointments").Logger(),
	}
}

func (s *Service) List(ctx context.Context) ([]Appointment, error) {
	var appointments []Appointment
	if err := s.api.Get(ctx, "/api/appointments", &appointments); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.List]")
	}
	return appointments, nil
}

func (s *Service) Slots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	path := fmt.Sprintf("/api/appointments/slots?doctorId=%s&date=%s",
		url.QueryEscape(doctorID), url.QueryEscape(date))
	var slots []Slot
	if err := s.api.Get(ctx, path, &slots); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.Slots]")
	}
	return slots, nil
}

type BookRequest struct {
	DoctorID string  `json:"doctorId"`
	Date     string  `json:"date"`
	Slot     string  `json:"slot"`
	Notes    *string `json:"notes,omitempty"`
}

func (s *Service) Book(ctx context.Context, req BookRequest, hooks ...AfterSuccessHook) (*Appointment, error) {
	var appointment Appointment
	if err := s.api.Post(ctx, "/api/appointments", req, &appointment); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.Book]")
	}
	s.runHooks(ctx, "book", hooks)
	return &appointment, nil
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Slot string `json:"slot"`
}

func (s *Service) Reschedule(ctx context.Context, id string, req RescheduleRequest, hooks ...AfterSuccessHook) (*Appointment, error) {
	var appointment Appointment
	path := fmt.Sprintf("/api/appointments/%s/reschedule", url.PathEscape(id))
	if err := s.api.Patch(ctx, path, req, &appointment); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.Reschedule]")
	}
	s.runHooks(ctx, "reschedule", hooks)
	return &appointment, nil
}

func (s *Service) Cancel(ctx context.Context, id string, hooks ...AfterSuccessHook) error {
	path := fmt.Sprintf("/api/appointments/%s/cancel", url.PathEscape(id))
	if err := s.api.Post(ctx, path, nil, nil); err != nil {
		return apperrors.Wrapf(err, "[Service.Cancel]")
	}
	s.runHooks(ctx, "cancel", hooks)
	return nil
}

func (s *Service) runHooks(ctx context.Context, action string, hooks []AfterSuccessHook) {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx); err != nil {
			s.log.Warn().Str("action", action).Err(err).Msg("post-success hook failed")
		}
	}
}
