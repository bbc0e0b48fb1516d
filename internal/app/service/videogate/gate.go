// Package videogate issues short-lived playback tokens and opens origin
// streams for them. Tokens are verified locally before the origin is touched.
package videogate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/platform/objectstore"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

var (
	ErrNotConfigured      = errors.New("video token secret is not configured")
	ErrInvalidEpisode     = errors.New("invalid episode id")
	ErrInvalidQuality     = errors.New("invalid quality")
	ErrQualityNotEntitled = errors.New("quality exceeds the account's entitlement")
	ErrEpisodeMismatch    = errors.New("token was issued for another episode")

	// ErrTokenInvalid is wrapped by every token verification failure.
	ErrTokenInvalid   = errors.New("video token is invalid")
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrTokenInvalid)
	ErrTokenSignature = fmt.Errorf("%w: signature mismatch", ErrTokenInvalid)
	ErrTokenAlgorithm = fmt.Errorf("%w: signing algorithm not accepted", ErrTokenInvalid)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrTokenInvalid)
)

// Claims is the signed token payload.
type Claims struct {
	EpisodeID string            `json:"eid"`
	Quality   types.QualityTier `json:"q"`
	AccountID string            `json:"aid"`
	jwt.StandardClaims
}

type Accounts interface {
	Get(ctx context.Context, id string) (*models.Account, error)
}

type Origin interface {
	Get(ctx context.Context, key, rangeHeader string) (*objectstore.Object, error)
}

type Gate struct {
	secret   []byte
	ttl      time.Duration
	prefix   string
	accounts Accounts
	origin   Origin
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewGate(cfg config.VideoConfig, accounts Accounts, origin Origin, log *zap.SugaredLogger) *Gate {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Gate{
		secret:   []byte(cfg.TokenSecret),
		ttl:      ttl,
		prefix:   strings.Trim(cfg.KeyPrefix, "/"),
		accounts: accounts,
		origin:   origin,
		log:      log,
		now:      time.Now,
	}
}

func (g *Gate) SetClock(now func() time.Time) { g.now = now }

type Token struct {
	Token     string            `json:"token"`
	EpisodeID string            `json:"episode_id"`
	Quality   types.QualityTier `json:"quality"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Issue signs a token when the cached snapshot allows quality.
func (g *Gate) Issue(ctx context.Context, accountID, episodeID string, quality types.QualityTier) (*Token, error) {
	if len(g.secret) == 0 {
		return nil, ErrNotConfigured
	}
	if err := validEpisode(episodeID); err != nil {
		return nil, err
	}
	if !quality.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuality, quality)
	}
	acc, err := g.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !quality.AtMost(acc.Entitlement.QualityTier) {
		return nil, fmt.Errorf("%w: %s above %s", ErrQualityNotEntitled, quality, acc.Entitlement.QualityTier)
	}

	now := g.now()
	exp := now.Add(g.ttl)
	claims := &Claims{
		EpisodeID: episodeID,
		Quality:   quality,
		AccountID: acc.ID,
		StandardClaims: jwt.StandardClaims{
			Id:        tool.GenerateULID(now),
			IssuedAt:  now.Unix(),
			ExpiresAt: exp.Unix(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign video token: %w", err)
	}
	return &Token{Token: signed, EpisodeID: episodeID, Quality: quality, ExpiresAt: time.Unix(exp.Unix(), 0).UTC()}, nil
}

// Verify checks signature, algorithm and expiry without any network call.
func (g *Gate) Verify(token string) (*Claims, error) {
	if len(g.secret) == 0 {
		return nil, ErrNotConfigured
	}
	claims := &Claims{}
	parser := &jwt.Parser{SkipClaimsValidation: true}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: %v", ErrTokenAlgorithm, t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !claims.VerifyExpiresAt(g.now().Unix(), true) {
		return nil, ErrTokenExpired
	}
	if claims.EpisodeID == "" || claims.AccountID == "" || !claims.Quality.Valid() {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// Stream is an open origin response for one representation.
type Stream struct {
	*objectstore.Object
	Key string
}

// Open verifies token for episodeID, re-reads the snapshot and fetches the
// representation, forwarding rangeHeader to the origin.
func (g *Gate) Open(ctx context.Context, token, episodeID, rangeHeader string) (*Stream, error) {
	claims, err := g.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.EpisodeID != episodeID {
		return nil, ErrEpisodeMismatch
	}
	acc, err := g.accounts.Get(ctx, claims.AccountID)
	if err != nil {
		return nil, err
	}
	snap := acc.Entitlement
	// the plan may have lapsed since the token was issued
	if !claims.Quality.AtMost(snap.QualityTier) {
		return nil, ErrQualityNotEntitled
	}

	key := g.key(episodeID, claims.Quality, snap.AdFree)
	obj, err := g.origin.Get(ctx, key, rangeHeader)
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, g.log).Debugw("video stream opened", "account_id", acc.ID, "episode_id", episodeID,
		"key", key, "range", rangeHeader, "jti", claims.Id)
	return &Stream{Object: obj, Key: key}, nil
}

// key is <prefix>/<episode>/<quality>.mp4, with an -ads suffix for the
// ad-supported cut.
func (g *Gate) key(episodeID string, quality types.QualityTier, adFree bool) string {
	name := string(quality)
	if !adFree {
		name += "-ads"
	}
	key := episodeID + "/" + name + ".mp4"
	if g.prefix != "" {
		key = g.prefix + "/" + key
	}
	return key
}

func validEpisode(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidEpisode, id)
	}
	return nil
}

func classify(err error) error {
	var ve *jwt.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	switch {
	case errors.Is(ve.Inner, ErrTokenAlgorithm):
		return ErrTokenAlgorithm
	case ve.Errors&jwt.ValidationErrorMalformed != 0:
		return ErrTokenMalformed
	case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
		return ErrTokenSignature
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

func provideGate(cfg *config.Config, accounts *account.Service, store *objectstore.Store, log *zap.SugaredLogger) *Gate {
	if cfg.Video.TokenSecret == "" {
		log.Warnw("video token secret is empty, playback tokens disabled")
	}
	return NewGate(cfg.Video, accounts, store, log)
}

var Module = fx.Options(
	fx.Provide(provideGate),
)
