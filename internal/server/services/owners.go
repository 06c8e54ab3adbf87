package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/auth"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/keys"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
)

// OwnerView is what callers get back about an owner. The session secret
// never leaves the service.
type OwnerView struct {
	ID        string    `json:"id"`
	UserName  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	Token     string    `json:"token,omitempty"`
}

// Owners provisions owner rows and issues admin tokens for them.
type Owners struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	serverKey     []byte
	jwtSecret     []byte
	tokenValidity time.Duration
	logger        logging.Logger
}

func NewOwners(db *sql.DB, m repomanager.RepositoryManager, serverKey []byte, logger logging.Logger, cfg *config.Config) *Owners {
	return &Owners{
		db:            db,
		repomanager:   m,
		serverKey:     serverKey,
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.AccessTokenValidity,
		logger:        logger,
	}
}

// Provision creates an owner with a fresh session secret, sealed with the
// server key, and returns a token for it.
func (o *Owners) Provision(ctx context.Context, userName string) (*OwnerView, error) {
	if err := validate.Var(userName, "required,min=3,max=64,alphanum"); err != nil {
		return nil, formatValidationError(err)
	}

	repo := o.repomanager.Users(o.db)
	_, err := repo.GetByUserName(ctx, userName)
	switch {
	case err == nil:
		return nil, common.ErrorAlreadyExists
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	raw, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, err
	}
	sealed, err := keys.SealSessionSecret(raw, o.serverKey)
	if err != nil {
		return nil, err
	}

	user, err := repo.Create(ctx, &models.User{UserName: userName, SessionSecret: sealed})
	if err != nil {
		return nil, err
	}

	token, err := auth.GenerateToken(user.ID, o.jwtSecret, o.tokenValidity)
	if err != nil {
		return nil, err
	}

	o.logger.Info(ctx, "owner provisioned", "owner_id", user.ID)
	return &OwnerView{ID: user.ID, UserName: user.UserName, CreatedAt: user.CreatedAt, Token: token}, nil
}

// IssueToken signs a new token for an existing owner.
func (o *Owners) IssueToken(ctx context.Context, ownerID string) (string, error) {
	if err := validateID(ownerID); err != nil {
		return "", err
	}
	if _, err := o.repomanager.Users(o.db).GetByID(ctx, ownerID); err != nil {
		return "", err
	}
	return auth.GenerateToken(ownerID, o.jwtSecret, o.tokenValidity)
}

// OwnerFromToken returns the owner id carried by a token this service signed.
func (o *Owners) OwnerFromToken(token string) (string, error) {
	return auth.GetOwnerIDFromToken(token, o.jwtSecret)
}
