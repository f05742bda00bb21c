package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

// Store keeps everything in process memory. Entities are copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*model.User
	patients      map[uuid.UUID]*model.Patient
	consultations map[uuid.UUID]*model.Consultation
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]*model.User),
		patients:      make(map[uuid.UUID]*model.Patient),
		consultations: make(map[uuid.UUID]*model.Consultation),
		now:           time.Now,
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Users() repository.UserRepository                 { return userRepository{s} }
func (s *Store) Patients() repository.PatientRepository           { return patientRepository{s} }
func (s *Store) Consultations() repository.ConsultationRepository { return consultationRepository{s} }
func (s *Store) Ping(context.Context) error                       { return nil }
func (s *Store) Close() error                                     { return nil }

type userRepository struct{ s *Store }

func (r userRepository) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Username, user.Username) {
			return repository.ErrConflict
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.s.now().UTC()
	}
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r userRepository) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r userRepository) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

type patientRepository struct{ s *Store }

func copyPatient(p *model.Patient) *model.Patient {
	cp := *p
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		cp.DateOfBirth = &dob
	}
	return &cp
}

func (r patientRepository) Create(_ context.Context, patient *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.patients {
		if p.PatientID == patient.PatientID {
			return repository.ErrConflict
		}
	}
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = r.s.now().UTC()
	}
	r.s.patients[patient.ID] = copyPatient(patient)
	return nil
}

func (r patientRepository) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPatient(p), nil
}

func (r patientRepository) GetByPatientID(_ context.Context, patientID string) (*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.patients {
		if p.PatientID == patientID {
			return copyPatient(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r patientRepository) Update(_ context.Context, id uuid.UUID, update *model.PatientUpdate) (*model.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	repository.ApplyPatientUpdate(p, update)
	return copyPatient(p), nil
}

func (r patientRepository) List(_ context.Context) ([]*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Patient, 0, len(r.s.patients))
	for _, p := range r.s.patients {
		out = append(out, copyPatient(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

type consultationRepository struct{ s *Store }

func copyConsultation(c *model.Consultation) *model.Consultation {
	cp := *c
	if c.Duration != nil {
		d := *c.Duration
		cp.Duration = &d
	}
	if c.AudioURL != nil {
		u := *c.AudioURL
		cp.AudioURL = &u
	}
	if c.Error != nil {
		e := *c.Error
		cp.Error = &e
	}
	if c.Transcription != nil {
		cp.Transcription = append(model.RawJSON(nil), c.Transcription...)
	}
	return &cp
}

func (r consultationRepository) Create(_ context.Context, c *model.Consultation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.patients[c.PatientID]; !ok {
		return repository.ErrNotFound
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := r.s.now().UTC()
	if c.Date.IsZero() {
		c.Date = now
	}
	c.UpdatedAt = now
	r.s.consultations[c.ID] = copyConsultation(c)
	return nil
}

func (r consultationRepository) Get(_ context.Context, id uuid.UUID) (*model.Consultation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.consultations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyConsultation(c), nil
}

func (r consultationRepository) Update(_ context.Context, id uuid.UUID, expected model.ConsultationStatus, update *model.ConsultationUpdate) (*model.Consultation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.consultations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if expected != "" && c.Status != expected {
		return nil, repository.ErrConflict
	}
	repository.ApplyConsultationUpdate(c, update, r.s.now().UTC())
	return copyConsultation(c), nil
}

func (r consultationRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*model.Consultation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Consultation, 0)
	for _, c := range r.s.consultations {
		if c.DoctorID == doctorID {
			out = append(out, copyConsultation(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}
