// Package access implements credential verification for door devices:
// RFID tags, fingerprint ids and single-use temporary codes.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/best-technologies/embedded-door-lock/internal/model"
)

// NormalizeTag upper-cases an RFID tag and strips one leading "0X" prefix so
// scans from different reader firmwares compare equal. Normalization is
// idempotent: NormalizeTag(NormalizeTag(t)) == NormalizeTag(t).
func NormalizeTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	tag = strings.TrimPrefix(tag, "0X")
	return tag
}

// Decision is the outcome of one verification call. Denials are ordinary
// values, not errors: the door controller branches on Authorized and shows
// Reason to the operator.
type Decision struct {
	Authorized bool               `json:"authorized"`
	User       *model.UserProfile `json:"user"`
	Reason     string             `json:"reason,omitempty"`
}

func deny(reason string) Decision {
	return Decision{Authorized: false, Reason: reason}
}

// UserDirectory is the slice of the store the verifier needs.
type UserDirectory interface {
	GetUserByNormalizedTag(ctx context.Context, normalized string) (model.User, error)
	GetUserByFingerprintID(ctx context.Context, fingerprintID int) (model.User, error)
	GetUserByUserID(ctx context.Context, userID string) (model.User, error)
	ListRFIDTagsByUser(ctx context.Context, userID string) ([]string, error)
	ListFingerprintIDsByUser(ctx context.Context, userID string) ([]int, error)
}

// Codes is the temporary-code store as seen by the verifier. Consume must be
// atomic with respect to concurrent verification of the same code.
type Codes interface {
	Get(ctx context.Context, code string) (model.TemporaryCode, bool, error)
	Consume(ctx context.Context, code string) (model.TemporaryCode, bool, error)
	Delete(ctx context.Context, code string) error
}

type Verifier struct {
	users UserDirectory
	codes Codes
	now   func() time.Time
}

func NewVerifier(users UserDirectory, codes Codes) *Verifier {
	return &Verifier{users: users, codes: codes, now: time.Now}
}

func (v *Verifier) VerifyRFID(ctx context.Context, tag string) (Decision, error) {
	user, err := v.users.GetUserByNormalizedTag(ctx, NormalizeTag(tag))
	if errors.Is(err, pgx.ErrNoRows) {
		return deny("RFID tag not registered"), nil
	}
	if err != nil {
		return Decision{}, err
	}
	return v.authorize(ctx, user, model.AccessMethodRFID)
}

func (v *Verifier) VerifyFingerprint(ctx context.Context, fingerprintID int) (Decision, error) {
	user, err := v.users.GetUserByFingerprintID(ctx, fingerprintID)
	if errors.Is(err, pgx.ErrNoRows) {
		return deny("Fingerprint ID not registered"), nil
	}
	if err != nil {
		return Decision{}, err
	}
	return v.authorize(ctx, user, model.AccessMethodFingerprint)
}

// VerifyTemporaryCode checks the code without consuming it, then consumes it
// only once every check has passed. A racing caller that loses the consume
// is denied as if the code never existed.
func (v *Verifier) VerifyTemporaryCode(ctx context.Context, code string) (Decision, error) {
	record, found, err := v.codes.Get(ctx, code)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return deny("Invalid access code"), nil
	}
	if record.Used {
		return deny("Access code has already been used"), nil
	}
	if v.now().UTC().Unix() > record.ExpiresAt {
		if err := v.codes.Delete(ctx, code); err != nil {
			return Decision{}, err
		}
		return deny("Access code has expired"), nil
	}

	user, err := v.users.GetUserByUserID(ctx, record.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return deny("Invalid access code"), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if user.Status != model.UserStatusActive {
		return deny(fmt.Sprintf("User account is %s", user.Status)), nil
	}

	if _, consumed, err := v.codes.Consume(ctx, code); err != nil {
		return Decision{}, err
	} else if !consumed {
		return deny("Invalid access code"), nil
	}

	profile, err := v.profile(ctx, user)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Authorized: true, User: profile}, nil
}

func (v *Verifier) authorize(ctx context.Context, user model.User, method model.AccessMethod) (Decision, error) {
	if user.Status != model.UserStatusActive {
		return deny(fmt.Sprintf("User account is %s", user.Status)), nil
	}
	if !methodEnabled(user.AllowedAccessMethods, method) {
		label := "RFID"
		if method == model.AccessMethodFingerprint {
			label = "Fingerprint"
		}
		return deny(fmt.Sprintf("%s access method not enabled for this user", label)), nil
	}
	profile, err := v.profile(ctx, user)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Authorized: true, User: profile}, nil
}

func methodEnabled(allowed []string, method model.AccessMethod) bool {
	for _, m := range allowed {
		if strings.EqualFold(m, string(method)) {
			return true
		}
	}
	return false
}

func (v *Verifier) profile(ctx context.Context, user model.User) (*model.UserProfile, error) {
	tags, err := v.users.ListRFIDTagsByUser(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	fingerprints, err := v.users.ListFingerprintIDsByUser(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	return &model.UserProfile{
		UserID:               user.UserID,
		FirstName:            user.FirstName,
		LastName:             user.LastName,
		Email:                user.Email,
		Status:               string(user.Status),
		Role:                 string(user.Role),
		Department:           user.Department,
		AllowedAccessMethods: user.AllowedAccessMethods,
		RFIDTags:             tags,
		FingerprintIDs:       fingerprints,
	}, nil
}
