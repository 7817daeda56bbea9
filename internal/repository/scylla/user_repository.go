package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-auth-service/internal/encryption"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/util"
)

type fieldEncryptor interface {
	EncryptField(ctx context.Context, plaintext string) (*encryption.EncryptedData, error)
	DecryptField(ctx context.Context, data *encryption.EncryptedData) (string, error)
}

type userBucketer interface {
	UserBucket(userID string) int
}

// UserRepository is the ScyllaDB-backed user directory. A user row lives in
// a murmur3 bucket derived from its ID; the phone credential row, keyed by
// phone hash, is claimed with a lightweight transaction so concurrent first
// sign-ins for one number resolve to a single user.
type UserRepository struct {
	client    *ScyllaClient
	encryptor fieldEncryptor
	buckets   userBucketer
	logger    *zap.Logger
	now       func() time.Time
}

func NewUserRepository(client *ScyllaClient, encryptor fieldEncryptor, buckets userBucketer, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		encryptor: encryptor,
		buckets:   buckets,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FindOrCreateByPhone returns the user owning num, creating one on first
// sign-in, and records the login time.
func (r *UserRepository) FindOrCreateByPhone(ctx context.Context, num phone.Number, hints models.ProfileHints) (*models.User, error) {
	phoneHash := hashing.PhoneHash(num.String())

	cred, err := r.getCredential(ctx, phoneHash)
	switch {
	case err == nil:
		user, err := r.FindByID(ctx, cred.UserID)
		if err != nil {
			return nil, err
		}
		r.touchLastLogin(ctx, user)
		return user, nil
	case !errors.Is(err, models.ErrUserNotFound):
		return nil, err
	}

	user, err := r.newUser(ctx, num, phoneHash, hints)
	if err != nil {
		return nil, err
	}
	if err := r.insertUser(ctx, user); err != nil {
		return nil, err
	}

	winner, applied, err := r.claimCredential(ctx, phoneHash, user)
	if err != nil {
		// The LWT may have committed even though the reply was lost.
		cred, readErr := r.getCredential(ctx, phoneHash)
		switch resolveFailedClaim(user.UserID, cred, readErr) {
		case claimLanded:
			applied = true
		case claimLost:
			winner = cred.UserID
		case claimAbsent:
			r.deleteUser(ctx, user)
			return nil, err
		default:
			r.logger.Warn("Phone credential claim outcome unknown, keeping user row",
				zap.String("user_id", user.UserID), zap.Error(readErr))
			return nil, err
		}
	}
	if !applied {
		// Lost the race to a concurrent first sign-in.
		r.deleteUser(ctx, user)
		existing, err := r.FindByID(ctx, winner)
		if err != nil {
			return nil, err
		}
		r.touchLastLogin(ctx, existing)
		return existing, nil
	}

	r.logger.Info("User created",
		zap.String("user_id", user.UserID),
		util.Phone("phone", num.String()))
	return user, nil
}

// UpsertPhoneCredential binds num to userID. It is a no-op beyond refreshing
// updated_at when the binding already exists, and fails with
// models.ErrCredentialConflict when the number belongs to someone else.
func (r *UserRepository) UpsertPhoneCredential(ctx context.Context, userID string, num phone.Number) error {
	phoneHash := hashing.PhoneHash(num.String())
	now := r.now()

	current := map[string]any{}
	applied, err := r.client.Query(ctx, stmtTouchCredential, now, phoneHash, userID).MapScanCAS(current)
	if err != nil {
		return fmt.Errorf("failed to update phone credential: %w", err)
	}
	if applied {
		return nil
	}
	if owner, ok := current["user_id"].(string); ok && owner != "" && owner != userID {
		return models.ErrCredentialConflict
	}

	user := &models.User{UserID: userID, UserBucket: r.buckets.UserBucket(userID)}
	winner, applied, err := r.claimCredential(ctx, phoneHash, user)
	if err != nil {
		return err
	}
	if !applied && winner != userID {
		return models.ErrCredentialConflict
	}
	return nil
}

func (r *UserRepository) FindByPhone(ctx context.Context, num phone.Number) (*models.User, error) {
	cred, err := r.getCredential(ctx, hashing.PhoneHash(num.String()))
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, cred.UserID)
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	query := r.client.Query(ctx, stmtGetUser, r.buckets.UserBucket(userID), userID)

	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.PhoneHash, &user.PhoneEncrypted, &user.PhoneKeyID,
		&user.DeviceFingerprint, &user.IsBlocked, &user.CreatedAt, &user.LastLogin, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, models.ErrUserNotFound
		}
		r.logger.Error("Failed to get user by ID", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	plain, err := openPhone(ctx, r.encryptor, user.PhoneEncrypted)
	if err != nil {
		return nil, err
	}
	user.Phone = plain
	return user, nil
}

func (r *UserRepository) newUser(ctx context.Context, num phone.Number, phoneHash string, hints models.ProfileHints) (*models.User, error) {
	sealed, keyID, err := sealPhone(ctx, r.encryptor, num.String())
	if err != nil {
		return nil, err
	}

	now := r.now()
	userID := uuid.NewString()
	return &models.User{
		UserBucket:        r.buckets.UserBucket(userID),
		UserID:            userID,
		PhoneHash:         phoneHash,
		PhoneEncrypted:    sealed,
		PhoneKeyID:        keyID,
		DeviceFingerprint: hints.DeviceFingerprint,
		CreatedAt:         now,
		LastLogin:         &now,
		UpdatedAt:         &now,
		Phone:             num.String(),
	}, nil
}

func (r *UserRepository) insertUser(ctx context.Context, u *models.User) error {
	err := r.client.Query(ctx, stmtInsertUser,
		u.UserBucket, u.UserID, u.PhoneHash, u.PhoneEncrypted, u.PhoneKeyID,
		u.DeviceFingerprint, u.IsBlocked, u.CreatedAt, u.LastLogin, u.UpdatedAt).Exec()
	if err != nil {
		r.logger.Error("Failed to create user", zap.String("user_id", u.UserID), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) deleteUser(ctx context.Context, u *models.User) {
	if err := r.client.Query(ctx, stmtDeleteUser, u.UserBucket, u.UserID).Exec(); err != nil {
		r.logger.Warn("Failed to remove orphaned user row", zap.String("user_id", u.UserID), zap.Error(err))
	}
}

func (r *UserRepository) touchLastLogin(ctx context.Context, u *models.User) {
	now := r.now()
	if err := r.client.Query(ctx, stmtUpdateLastLogin, now, now, u.UserBucket, u.UserID).Exec(); err != nil {
		r.logger.Warn("Failed to update last login", zap.String("user_id", u.UserID), zap.Error(err))
		return
	}
	u.LastLogin = &now
	u.UpdatedAt = &now
}

// claimCredential inserts the credential row if absent. When another row
// already exists it reports the owning user ID and applied=false.
func (r *UserRepository) claimCredential(ctx context.Context, phoneHash string, u *models.User) (string, bool, error) {
	now := r.now()
	existing := map[string]any{}
	applied, err := r.client.Query(ctx, stmtInsertCredential,
		phoneHash, u.UserBucket, u.UserID, models.ProviderPhone, now, now).MapScanCAS(existing)
	if err != nil {
		return "", false, fmt.Errorf("failed to claim phone credential: %w", err)
	}
	if applied {
		return u.UserID, true, nil
	}
	owner, _ := existing["user_id"].(string)
	return owner, false, nil
}

type claimOutcome int

const (
	claimUnknown claimOutcome = iota
	claimLanded
	claimLost
	claimAbsent
)

// resolveFailedClaim decides what a claim that returned an error actually
// did, from a follow-up read of the credential row.
func resolveFailedClaim(userID string, cred *models.PhoneCredential, readErr error) claimOutcome {
	switch {
	case errors.Is(readErr, models.ErrUserNotFound):
		return claimAbsent
	case readErr != nil || cred == nil:
		return claimUnknown
	case cred.UserID == userID:
		return claimLanded
	default:
		return claimLost
	}
}

func (r *UserRepository) getCredential(ctx context.Context, phoneHash string) (*models.PhoneCredential, error) {
	cred := &models.PhoneCredential{}
	query := r.client.Query(ctx, stmtGetCredential, phoneHash)

	err := r.client.ScanWithRetry(query,
		&cred.PhoneHash, &cred.UserBucket, &cred.UserID, &cred.Provider, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get phone credential: %w", err)
	}
	return cred, nil
}

// sealPhone encrypts a phone number into the blob stored in
// users.phone_encrypted.
func sealPhone(ctx context.Context, enc fieldEncryptor, number string) ([]byte, string, error) {
	data, err := enc.EncryptField(ctx, number)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encrypt phone: %w", err)
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode encrypted phone: %w", err)
	}
	return blob, data.KeyID, nil
}

func openPhone(ctx context.Context, enc fieldEncryptor, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	var data encryption.EncryptedData
	if err := json.Unmarshal(blob, &data); err != nil {
		return "", fmt.Errorf("failed to decode encrypted phone: %w", err)
	}
	plain, err := enc.DecryptField(ctx, &data)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt phone: %w", err)
	}
	return plain, nil
}
