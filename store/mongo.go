// Package store implements the engine's AccountProvider on MongoDB. The
// account aggregate — identity, credentials, sessions, and the security
// event log — lives in one document; every write replaces the whole
// aggregate under an optimistic version check.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brightdent/clinicauth"
)

const accountsCollection = "accounts"

// AccountStore is a MongoDB-backed [clinicauth.AccountProvider].
type AccountStore struct {
	accounts *mongo.Collection
}

// NewAccountStore binds to db's accounts collection and ensures the
// unique indexes on email and phone that back duplicate-identity checks.
func NewAccountStore(ctx context.Context, db *mongo.Database) (*AccountStore, error) {
	coll := db.Collection(accountsCollection)

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create account indexes: %w", err)
	}

	return &AccountStore{accounts: coll}, nil
}

// FindByEmail loads the account whose normalized email matches.
func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*clinicauth.Account, error) {
	return s.findOne(ctx, bson.M{"email": clinicauth.NormalizeEmail(email)})
}

// FindByID loads the account by its hex object ID.
func (s *AccountStore) FindByID(ctx context.Context, id string) (*clinicauth.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, clinicauth.ErrAccountNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *AccountStore) findOne(ctx context.Context, filter bson.M) (*clinicauth.Account, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, clinicauth.ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", clinicauth.ErrStoreUnavailable, err)
	}
	return doc.toAccount(), nil
}

// Create inserts a new account. Email uniqueness (and phone) is enforced
// by the unique indexes; violations surface as ErrDuplicateIdentity.
func (s *AccountStore) Create(ctx context.Context, account *clinicauth.Account) (*clinicauth.Account, error) {
	doc := fromAccount(account)
	doc.ID = primitive.NewObjectID()
	doc.Email = clinicauth.NormalizeEmail(doc.Email)
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Version = 1

	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, clinicauth.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("%w: %v", clinicauth.ErrStoreUnavailable, err)
	}
	return doc.toAccount(), nil
}

// Update replaces the whole aggregate, guarded by a compare-and-swap on
// the version field. A missed swap means another writer got there first.
func (s *AccountStore) Update(ctx context.Context, account *clinicauth.Account) error {
	oid, err := primitive.ObjectIDFromHex(account.ID)
	if err != nil {
		return clinicauth.ErrAccountNotFound
	}

	doc := fromAccount(account)
	doc.ID = oid
	doc.Email = clinicauth.NormalizeEmail(doc.Email)
	doc.UpdatedAt = time.Now().UTC()
	doc.Version = account.Version + 1

	res, err := s.accounts.ReplaceOne(ctx,
		bson.M{"_id": oid, "version": account.Version},
		doc,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", clinicauth.ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		// Distinguish a vanished record from a lost CAS race.
		count, err := s.accounts.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return fmt.Errorf("%w: %v", clinicauth.ErrStoreUnavailable, err)
		}
		if count == 0 {
			return clinicauth.ErrAccountNotFound
		}
		return clinicauth.ErrVersionConflict
	}

	account.Version = doc.Version
	account.UpdatedAt = doc.UpdatedAt
	return nil
}

// accountDoc mirrors clinicauth.Account with a native ObjectID so the
// driver owns _id generation.
type accountDoc struct {
	ID    primitive.ObjectID `bson:"_id,omitempty"`
	Email string             `bson:"email"`
	Phone string             `bson:"phone"`
	Name  string             `bson:"name"`
	Role  clinicauth.Role    `bson:"role"`

	PasswordHash    string   `bson:"passwordHash"`
	PasswordHistory []string `bson:"passwordHistory,omitempty"`

	TwoFactorEnabled bool                    `bson:"twoFactorEnabled"`
	TwoFactorSecret  []byte                  `bson:"twoFactorSecret,omitempty"`
	BackupCodes      []clinicauth.BackupCode `bson:"backupCodes,omitempty"`

	LoginAttempts int       `bson:"loginAttempts"`
	LockUntil     time.Time `bson:"lockUntil,omitempty"`

	Active          bool `bson:"isActive"`
	IsEmailVerified bool `bson:"isEmailVerified"`

	VerifyTokenHash  string    `bson:"verifyTokenHash,omitempty"`
	VerifyTokenUntil time.Time `bson:"verifyTokenUntil,omitempty"`
	ResetTokenHash   string    `bson:"resetTokenHash,omitempty"`
	ResetTokenUntil  time.Time `bson:"resetTokenUntil,omitempty"`

	MaxSessions    int                        `bson:"maxSessions"`
	Sessions       []clinicauth.Session       `bson:"activeSessions,omitempty"`
	SecurityEvents []clinicauth.SecurityEvent `bson:"securityEvents,omitempty"`

	LastLogin time.Time `bson:"lastLogin,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`

	Version uint32 `bson:"version"`
}

func fromAccount(a *clinicauth.Account) *accountDoc {
	return &accountDoc{
		Email:            a.Email,
		Phone:            a.Phone,
		Name:             a.Name,
		Role:             a.Role,
		PasswordHash:     a.PasswordHash,
		PasswordHistory:  a.PasswordHistory,
		TwoFactorEnabled: a.TwoFactorEnabled,
		TwoFactorSecret:  a.TwoFactorSecret,
		BackupCodes:      a.BackupCodes,
		LoginAttempts:    a.LoginAttempts,
		LockUntil:        a.LockUntil,
		Active:           a.Active,
		IsEmailVerified:  a.IsEmailVerified,
		VerifyTokenHash:  a.VerifyTokenHash,
		VerifyTokenUntil: a.VerifyTokenUntil,
		ResetTokenHash:   a.ResetTokenHash,
		ResetTokenUntil:  a.ResetTokenUntil,
		MaxSessions:      a.MaxSessions,
		Sessions:         a.Sessions,
		SecurityEvents:   a.SecurityEvents,
		LastLogin:        a.LastLogin,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
		Version:          a.Version,
	}
}

func (d *accountDoc) toAccount() *clinicauth.Account {
	return &clinicauth.Account{
		ID:               d.ID.Hex(),
		Email:            d.Email,
		Phone:            d.Phone,
		Name:             d.Name,
		Role:             d.Role,
		PasswordHash:     d.PasswordHash,
		PasswordHistory:  d.PasswordHistory,
		TwoFactorEnabled: d.TwoFactorEnabled,
		TwoFactorSecret:  d.TwoFactorSecret,
		BackupCodes:      d.BackupCodes,
		LoginAttempts:    d.LoginAttempts,
		LockUntil:        d.LockUntil,
		Active:           d.Active,
		IsEmailVerified:  d.IsEmailVerified,
		VerifyTokenHash:  d.VerifyTokenHash,
		VerifyTokenUntil: d.VerifyTokenUntil,
		ResetTokenHash:   d.ResetTokenHash,
		ResetTokenUntil:  d.ResetTokenUntil,
		MaxSessions:      d.MaxSessions,
		Sessions:         d.Sessions,
		SecurityEvents:   d.SecurityEvents,
		LastLogin:        d.LastLogin,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		Version:          d.Version,
	}
}
