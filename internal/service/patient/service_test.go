package patient

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/validation"
	"github.com/jwalitptl/consult-api/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	return NewService(store.Patients(), validation.New(), nil), store
}

func TestCreateRoundTrip(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	doctor := uuid.New()

	created, err := s.Create(ctx, doctor, &model.CreatePatientRequest{
		FirstName: " Ada ",
		LastName:  "Lovelace",
		Age:       ptr(36),
		Gender:    model.GenderFemale,
	})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^P-[0-9A-F]{8}$`), created.PatientID)
	assert.Equal(t, "Ada", created.FirstName)
	assert.Equal(t, doctor, created.CreatedBy)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.PatientID, got.PatientID)
	assert.Equal(t, 36, got.Age)
	assert.Equal(t, model.GenderFemale, got.Gender)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateDerivesAgeFromDateOfBirth(t *testing.T) {
	s, _ := newTestService()

	created, err := s.Create(context.Background(), uuid.New(), &model.CreatePatientRequest{
		FirstName:   "Alan",
		LastName:    "Turing",
		DateOfBirth: ptr("1980-06-23"),
		Gender:      model.GenderMale,
	})
	require.NoError(t, err)

	dob, _ := time.Parse(model.DateLayout, "1980-06-23")
	assert.Equal(t, model.AgeOn(dob, time.Now()), created.Age)
	require.NotNil(t, created.DateOfBirth)
	assert.Equal(t, "1980-06-23", *created.DateOfBirth)
}

func TestCreateRejectsInvalidInputWithoutPersisting(t *testing.T) {
	s, store := newTestService()
	ctx := context.Background()

	cases := map[string]*model.CreatePatientRequest{
		"negative age":   {FirstName: "A", LastName: "B", Age: ptr(-1), Gender: model.GenderOther},
		"age above 150":  {FirstName: "A", LastName: "B", Age: ptr(151), Gender: model.GenderOther},
		"blank first":    {FirstName: "   ", LastName: "B", Age: ptr(30), Gender: model.GenderOther},
		"empty last":     {FirstName: "A", LastName: "", Age: ptr(30), Gender: model.GenderOther},
		"missing age":    {FirstName: "A", LastName: "B", Gender: model.GenderOther},
		"unknown gender": {FirstName: "A", LastName: "B", Age: ptr(30), Gender: "robot"},
		"future dob":     {FirstName: "A", LastName: "B", DateOfBirth: ptr(time.Now().AddDate(1, 0, 0).Format(model.DateLayout)), Gender: model.GenderOther},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create(ctx, uuid.New(), req)
			assert.True(t, errors.HasCode(err, errors.ErrBadRequest), "got %v", err)
		})
	}

	list, err := store.Patients().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateDuplicatePatientID(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	req := func() *model.CreatePatientRequest {
		return &model.CreatePatientRequest{PatientID: "MRN-1", FirstName: "A", LastName: "B", Age: ptr(1), Gender: model.GenderOther}
	}

	_, err := s.Create(ctx, uuid.New(), req())
	require.NoError(t, err)
	_, err = s.Create(ctx, uuid.New(), req())
	assert.True(t, errors.HasCode(err, errors.ErrConflict))
}

func TestCreateRetriesGeneratedIDCollisions(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	ids := []string{"P-00000001", "P-00000001", "P-00000002"}
	s.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	req := func() *model.CreatePatientRequest {
		return &model.CreatePatientRequest{FirstName: "A", LastName: "B", Age: ptr(1), Gender: model.GenderOther}
	}

	_, err := s.Create(ctx, uuid.New(), req())
	require.NoError(t, err)
	second, err := s.Create(ctx, uuid.New(), req())
	require.NoError(t, err)
	assert.Equal(t, "P-00000002", second.PatientID)
}

func TestUpdate(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	created, err := s.Create(ctx, uuid.New(), &model.CreatePatientRequest{FirstName: "Grace", LastName: "Hopper", Age: ptr(40), Gender: model.GenderFemale})
	require.NoError(t, err)

	updated, err := s.Update(ctx, created.ID, &model.PatientUpdate{LastName: ptr("Murray Hopper")})
	require.NoError(t, err)
	assert.Equal(t, "Murray Hopper", updated.LastName)
	assert.Equal(t, "Grace", updated.FirstName)
	assert.Equal(t, 40, updated.Age)

	updated, err = s.Update(ctx, created.ID, &model.PatientUpdate{DateOfBirth: ptr("2000-01-01")})
	require.NoError(t, err)
	dob, _ := time.Parse(model.DateLayout, "2000-01-01")
	assert.Equal(t, model.AgeOn(dob, time.Now()), updated.Age)

	_, err = s.Update(ctx, created.ID, &model.PatientUpdate{})
	assert.True(t, errors.HasCode(err, errors.ErrBadRequest))

	_, err = s.Update(ctx, created.ID, &model.PatientUpdate{Age: ptr(200)})
	assert.True(t, errors.HasCode(err, errors.ErrBadRequest))

	_, err = s.Update(ctx, uuid.New(), &model.PatientUpdate{Age: ptr(20)})
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}
