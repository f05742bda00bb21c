package baas

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type userRepository struct {
	client *resty.Client
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(fromUser(user)).
		Post("/users")
	return checkResponse(resp, err, "create user")
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, "id", id.String())
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, "username", username)
}

func (r *userRepository) getOne(ctx context.Context, column, value string) (*model.User, error) {
	var rows []userRow
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam(column, eq(value)).
		SetQueryParam("select", "*").
		SetResult(&rows).
		Get("/users")
	if err := checkResponse(resp, err, "get user"); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return rows[0].model(), nil
}
