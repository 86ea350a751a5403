// Package accounts covers registration and profile operations.
package accounts

import (
	"context"

	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/credstore"
	apperrors "github.com/medisched/medisched-client/internal/errors"
	"github.com/rs/zerolog"
)

type Service struct {
	api   *apiclient.Client
	store credstore.Store
	log   zerolog.Logger
}

func NewService(api *apiclient.Client, store credstore.Store, log zerolog.Logger) *Service {
	return &Service{
		api:   api,
		store: store,
		log:   log.With().Str("component", "accounts").Logger(),
	}
}

type RegisterPatientRequest struct {
	Mobile      string  `json:"mobile"`
	FullName    string  `json:"fullName"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Gender      *string `json:"gender,omitempty"`
}

type RegisterDoctorRequest struct {
	Mobile         string  `json:"mobile"`
	FullName       string  `json:"fullName"`
	Speciality     string  `json:"speciality"`
	RegistrationNo string  `json:"registrationNo"`
	ClinicName     *string `json:"clinicName,omitempty"`
}

type registrationResponse struct {
	Token    string `json:"token"`
	Role     string `json:"role"`
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
}

// RegisterPatient creates a patient account. The returned session is
// persisted and the auth header synced before returning.
func (s *Service) RegisterPatient(ctx context.Context, req RegisterPatientRequest) (*credstore.Session, error) {
	return s.register(ctx, "/api/auth/register/patient", req.Mobile, req)
}

// RegisterDoctor creates a doctor account; same session handling as
// RegisterPatient.
func (s *Service) RegisterDoctor(ctx context.Context, req RegisterDoctorRequest) (*credstore.Session, error) {
	return s.register(ctx, "/api/auth/register/doctor", req.Mobile, req)
}

func (s *Service) register(ctx context.Context, path, mobile string, req any) (*credstore.Session, error) {
	var resp registrationResponse
	if err := s.api.Post(ctx, path, req, &resp); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.register] %s", path)
	}

	session := &credstore.Session{
		AccessToken: resp.Token,
		Role:        credstore.Role(resp.Role),
		UserID:      resp.UserID,
		FullName:    resp.FullName,
		Mobile:      mobile,
	}
	if err := credstore.SaveSession(s.store, session); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.register] persist session")
	}
	if err := s.api.SyncAuthHeader(); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.register] sync auth header")
	}
	s.log.Info().Str("role", resp.Role).Msg("registration complete")
	return session, nil
}

type Profile struct {
	UserID      string         `json:"userId"`
	FullName    string         `json:"fullName"`
	Mobile      string         `json:"mobile"`
	Role        credstore.Role `json:"role"`
	Email       *string        `json:"email,omitempty"`
	DateOfBirth *string        `json:"dateOfBirth,omitempty"`
	Gender      *string        `json:"gender,omitempty"`
	Speciality  *string        `json:"speciality,omitempty"`
}

// UpdateProfileRequest carries only the fields being changed; nil fields
// are left untouched server-side.
type UpdateProfileRequest struct {
	FullName    *string `json:"fullName,omitempty"`
	Email       *string `json:"email,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Gender      *string `json:"gender,omitempty"`
}

func (s *Service) GetProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := s.api.Get(ctx, "/api/profile", &profile); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.GetProfile]")
	}
	return &profile, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*Profile, error) {
	var profile Profile
	if err := s.api.Put(ctx, "/api/profile", req, &profile); err != nil {
		return nil, apperrors.Wrapf(err, "[Service.UpdateProfile]")
	}
	return &profile, nil
}

// Logout discards the session locally and removes the bearer default.
// There is no server-side session to revoke; the token simply ages out.
func (s *Service) Logout(ctx context.Context) error {
	if err := credstore.ClearSession(s.store); err != nil {
		return apperrors.Wrapf(err, "[Service.Logout] clear session")
	}
	if err := s.api.SyncAuthHeader(); err != nil {
		return apperrors.Wrapf(err, "[Service.Logout] sync auth header")
	}
	s.log.Info().Msg("logged out")
	return nil
}
