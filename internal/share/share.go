// Package share creates capability delegations that grant another identity
// access to a note, and resolves the share links that point at them.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vonshlovens/blockvault/internal/cas"
)

// LinkScheme prefixes every share link
const LinkScheme = "blockvault://"

var (
	// ErrInvalidRequest is returned when a delegation request fails validation
	ErrInvalidRequest = errors.New("invalid delegation request")

	// ErrNotReady is returned when the local identity is not available
	ErrNotReady = errors.New("identity is not ready")

	// ErrInvalidLink is returned for links that are not share links
	ErrInvalidLink = errors.New("invalid share link")

	// ErrExpired is returned when resolving an expired delegation
	ErrExpired = errors.New("delegation has expired")
)

var didPattern = regexp.MustCompile(`^did:[a-z0-9]+:[A-Za-z0-9._:%-]+$`)

// ValidDID reports whether s is a syntactically valid DID
func ValidDID(s string) bool {
	return didPattern.MatchString(s)
}

// Ability is a capability granted by a delegation
type Ability string

const (
	AbilityRead    Ability = "note/read"
	AbilityComment Ability = "note/comment"
	AbilityWrite   Ability = "note/write"
)

// Abilities lists every grantable ability
var Abilities = []Ability{AbilityRead, AbilityComment, AbilityWrite}

// Principal supplies the local identity
type Principal interface {
	Ready() bool
	DID() string
}

// StaticPrincipal is a Principal with a fixed DID. It is ready when the
// DID is set.
type StaticPrincipal string

func (p StaticPrincipal) Ready() bool { return string(p) != "" }
func (p StaticPrincipal) DID() string { return string(p) }

// CreateRequest asks for a delegation. ExpiresIn of zero never expires.
type CreateRequest struct {
	NoteID    string        `validate:"required"`
	Audience  string        `validate:"required,did"`
	Abilities []Ability     `validate:"required,min=1,dive,ability"`
	ExpiresIn time.Duration `validate:"gte=0"`
}

// Delegation is the stored capability document
type Delegation struct {
	Issuer    string     `json:"iss"`
	Audience  string     `json:"aud"`
	NoteID    string     `json:"noteId"`
	Abilities []Ability  `json:"can"`
	IssuedAt  time.Time  `json:"iat"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
	Nonce     string     `json:"nonce"`
}

// Expired reports whether d has expired at now
func (d *Delegation) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// Link is a created share link
type Link struct {
	URL        string
	ContentID  string
	Delegation Delegation
}

// Options configures a Service
type Options struct {
	Principal Principal
	// Store receives new delegations
	Store cas.Store
	// Lookup answers link verification. Defaults to Store.
	Lookup cas.Store
	// OnCreated is called with the content id of every new delegation
	OnCreated func(noteID, contentID string)
	Logger    *slog.Logger
}

// Service creates and verifies delegations
type Service struct {
	principal Principal
	store     cas.Store
	lookup    cas.Store
	onCreated func(string, string)
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a sharing service
func NewService(opts Options) *Service {
	if opts.Lookup == nil {
		opts.Lookup = opts.Store
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	validate := validator.New()
	if err := validate.RegisterValidation("did", func(fl validator.FieldLevel) bool {
		return ValidDID(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("share: registering did validation: %v", err))
	}
	if err := validate.RegisterValidation("ability", func(fl validator.FieldLevel) bool {
		return slices.Contains(Abilities, Ability(fl.Field().String()))
	}); err != nil {
		panic(fmt.Sprintf("share: registering ability validation: %v", err))
	}

	return &Service{
		principal: opts.Principal,
		store:     opts.Store,
		lookup:    opts.Lookup,
		onCreated: opts.OnCreated,
		validate:  validate,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// CreateDelegation validates req, stores a delegation from the local
// identity and returns its share link
func (s *Service) CreateDelegation(ctx context.Context, req CreateRequest) (*Link, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if s.principal == nil || !s.principal.Ready() {
		return nil, ErrNotReady
	}
	if req.Audience == s.principal.DID() {
		return nil, fmt.Errorf("%w: audience is the issuer", ErrInvalidRequest)
	}

	now := s.now().UTC()
	d := Delegation{
		Issuer:    s.principal.DID(),
		Audience:  req.Audience,
		NoteID:    req.NoteID,
		Abilities: slices.Clone(req.Abilities),
		IssuedAt:  now,
		Nonce:     uuid.New().String(),
	}
	if req.ExpiresIn > 0 {
		exp := now.Add(req.ExpiresIn)
		d.ExpiresAt = &exp
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delegation: %w", err)
	}
	id, err := s.store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store delegation: %w", err)
	}

	s.logger.Info("delegation created", "note", req.NoteID, "audience", req.Audience, "content_id", id)
	if s.onCreated != nil {
		s.onCreated(req.NoteID, id)
	}
	return &Link{URL: LinkScheme + id, ContentID: id, Delegation: d}, nil
}

// ParseLink returns the content id a share link points at
func ParseLink(link string) (string, error) {
	id, ok := strings.CutPrefix(link, LinkScheme)
	if !ok || len(id) != 64 || strings.Trim(id, "0123456789abcdef") != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidLink, link)
	}
	return id, nil
}

// VerifyShareLink reports whether the delegation behind link exists
func (s *Service) VerifyShareLink(ctx context.Context, link string) (bool, error) {
	id, err := ParseLink(link)
	if err != nil {
		return false, err
	}
	ok, err := s.lookup.Head(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to verify share link: %w", err)
	}
	return ok, nil
}

// Resolve fetches the delegation behind link and checks its expiry
func (s *Service) Resolve(ctx context.Context, link string) (*Delegation, error) {
	id, err := ParseLink(link)
	if err != nil {
		return nil, err
	}
	data, err := s.lookup.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve share link: %w", err)
	}

	var d Delegation
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: malformed delegation", ErrInvalidLink)
	}
	if d.Expired(s.now()) {
		return &d, ErrExpired
	}
	return &d, nil
}
