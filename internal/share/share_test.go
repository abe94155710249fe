package share

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/blockvault/internal/cas"
)

const (
	alice = "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"
	bob   = "did:key:z6MkjchhfUsD6mmvni8mCdXHw216Xrm9bQe2mBH1P5RDjVJG"
)

func TestCreateDelegation(t *testing.T) {
	ctx := context.Background()
	store := cas.NewMemoryStore()

	var created []string
	s := NewService(Options{
		Principal: StaticPrincipal(alice),
		Store:     store,
		OnCreated: func(noteID, contentID string) { created = append(created, noteID+"@"+contentID) },
	})

	link, err := s.CreateDelegation(ctx, CreateRequest{
		NoteID:    "n1",
		Audience:  bob,
		Abilities: []Ability{AbilityRead},
		ExpiresIn: time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, LinkScheme))
	assert.Equal(t, alice, link.Delegation.Issuer)
	assert.NotNil(t, link.Delegation.ExpiresAt)
	assert.Equal(t, []string{"n1@" + link.ContentID}, created)

	ok, err := s.VerifyShareLink(ctx, link.URL)
	require.NoError(t, err)
	assert.True(t, ok)

	d, err := s.Resolve(ctx, link.URL)
	require.NoError(t, err)
	assert.Equal(t, bob, d.Audience)
	assert.Equal(t, []Ability{AbilityRead}, d.Abilities)
}

func TestCreateDelegation_Validation(t *testing.T) {
	store := cas.NewMemoryStore()
	s := NewService(Options{Principal: StaticPrincipal(alice), Store: store})

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing note", CreateRequest{Audience: bob, Abilities: []Ability{AbilityRead}}},
		{"bad did", CreateRequest{NoteID: "n1", Audience: "bob@example.com", Abilities: []Ability{AbilityRead}}},
		{"did without method", CreateRequest{NoteID: "n1", Audience: "did::abc", Abilities: []Ability{AbilityRead}}},
		{"no abilities", CreateRequest{NoteID: "n1", Audience: bob}},
		{"unknown ability", CreateRequest{NoteID: "n1", Audience: bob, Abilities: []Ability{"note/delete"}}},
		{"negative expiry", CreateRequest{NoteID: "n1", Audience: bob, Abilities: []Ability{AbilityRead}, ExpiresIn: -time.Second}},
		{"self delegation", CreateRequest{NoteID: "n1", Audience: alice, Abilities: []Ability{AbilityRead}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateDelegation(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, store.Len(), "invalid requests store nothing")
}

func TestNewService_ValidationTags(t *testing.T) {
	var s *Service
	require.NotPanics(t, func() {
		s = NewService(Options{Principal: StaticPrincipal(alice), Store: cas.NewMemoryStore()})
	})

	ok := CreateRequest{NoteID: "n1", Audience: bob, Abilities: []Ability{AbilityRead, AbilityWrite}}
	assert.NoError(t, s.validate.Struct(ok))

	bad := CreateRequest{NoteID: "n1", Audience: "bob", Abilities: []Ability{"note/delete"}}
	assert.Error(t, s.validate.Struct(bad))
}

func TestCreateDelegation_NotReady(t *testing.T) {
	s := NewService(Options{Principal: StaticPrincipal(""), Store: cas.NewMemoryStore()})
	_, err := s.CreateDelegation(context.Background(), CreateRequest{NoteID: "n1", Audience: bob, Abilities: []Ability{AbilityWrite}})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestVerifyShareLink(t *testing.T) {
	ctx := context.Background()
	s := NewService(Options{Principal: StaticPrincipal(alice), Store: cas.NewMemoryStore()})

	ok, err := s.VerifyShareLink(ctx, LinkScheme+cas.HashString("unknown"))
	require.NoError(t, err)
	assert.False(t, ok)

	for _, link := range []string{"https://example.com", LinkScheme + "short", LinkScheme + strings.Repeat("Z", 64)} {
		_, err := s.VerifyShareLink(ctx, link)
		assert.ErrorIs(t, err, ErrInvalidLink, link)
	}
}

func TestResolveExpired(t *testing.T) {
	ctx := context.Background()
	s := NewService(Options{Principal: StaticPrincipal(alice), Store: cas.NewMemoryStore()})

	link, err := s.CreateDelegation(ctx, CreateRequest{NoteID: "n1", Audience: bob, Abilities: []Ability{AbilityRead}, ExpiresIn: time.Minute})
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.Resolve(ctx, link.URL)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidDID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{alice, true},
		{"did:web:example.com", true},
		{"did:web:example.com%3A8443:users:alice", true},
		{"did:KEY:abc", false},
		{"did:key:", false},
		{"key:abc", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidDID(tt.in), tt.in)
	}
}
