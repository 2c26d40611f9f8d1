package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/records"
	"fintrack/internal/remote"
	"fintrack/internal/session"
)

type fakeAuth struct {
	accounts map[string]string // email -> password
	signUps  []remote.SignUpRequest
}

func (f *fakeAuth) SignIn(_ context.Context, email, password string) (core.Account, error) {
	if pw, ok := f.accounts[email]; !ok || pw != password {
		return core.Account{}, remote.ErrInvalidCredentials
	}
	return core.Account{ID: "7", FullName: "Ada Lovelace", Email: email}, nil
}

func (f *fakeAuth) SignUp(_ context.Context, req remote.SignUpRequest) (core.Account, error) {
	if _, ok := f.accounts[req.Email]; ok {
		return core.Account{}, remote.ErrEmailTaken
	}
	f.signUps = append(f.signUps, req)
	return core.Account{ID: "8", FullName: req.FullName, Username: req.Username, Email: req.Email}, nil
}

func newAccounts() (*AccountService, *fakeAuth) {
	auth := &fakeAuth{accounts: map[string]string{"ada@example.com": "secret1"}}
	return NewAccountService(auth, nil), auth
}

func TestSignIn_StartsFreshSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAccounts()
	sess := session.New(session.NewMemoryStore())

	// leftovers of a previous user
	require.NoError(t, sess.SetUserID(ctx, "99"))
	require.NoError(t, sess.SaveRecords(ctx, []records.Raw{{ID: "old"}}))

	acc, err := svc.SignIn(ctx, sess, " ada@example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "7", acc.ID)

	id, err := sess.UserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	raws, _, err := sess.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, raws)

	p, err := svc.Profile(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.FullName)
}

func TestSignIn_Rejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAccounts()
	sess := session.New(session.NewMemoryStore())

	_, err := svc.SignIn(ctx, sess, "ada@example.com", "nope")
	assert.ErrorIs(t, err, remote.ErrInvalidCredentials)
	_, err = sess.UserID(ctx)
	assert.ErrorIs(t, err, session.ErrNotSignedIn)

	_, err = svc.SignIn(ctx, sess, "", "secret1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSignUp_Validation(t *testing.T) {
	valid := SignUpInput{FullName: "Grace Hopper", Username: "grace", Email: "grace@navy.mil", Password: "cobol60", ConfirmPassword: "cobol60"}
	tests := []struct {
		name   string
		mutate func(*SignUpInput)
		field  string
	}{
		{"missing full name", func(in *SignUpInput) { in.FullName = " " }, "form"},
		{"missing username", func(in *SignUpInput) { in.Username = "" }, "form"},
		{"mismatched confirmation", func(in *SignUpInput) { in.ConfirmPassword = "cobol61" }, "confirm_password"},
		{"short password", func(in *SignUpInput) { in.Password, in.ConfirmPassword = "abc", "abc" }, "password"},
		{"long password", func(in *SignUpInput) {
			in.Password = "abcdefghijklmnopqrstu"
			in.ConfirmPassword = in.Password
		}, "password"},
		{"email without domain", func(in *SignUpInput) { in.Email = "grace@" }, "email"},
		{"email with long tld", func(in *SignUpInput) { in.Email = "grace@navy.militaryy" }, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, auth := newAccounts()
			in := valid
			tt.mutate(&in)
			_, err := svc.SignUp(context.Background(), session.New(session.NewMemoryStore()), in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, auth.signUps)
		})
	}
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	svc, auth := newAccounts()
	sess := session.New(session.NewMemoryStore())

	acc, err := svc.SignUp(ctx, sess, SignUpInput{FullName: " Grace Hopper ", Username: "grace", Email: "grace@navy.mil", Password: "cobol60"})
	require.NoError(t, err)
	assert.Equal(t, "8", acc.ID)
	require.Len(t, auth.signUps, 1)
	assert.Equal(t, "Grace Hopper", auth.signUps[0].FullName)

	p, err := sess.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "grace", p.Username)

	_, err = svc.SignUp(ctx, sess, SignUpInput{FullName: "Ada", Username: "ada", Email: "ada@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, remote.ErrEmailTaken)
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAccounts()
	sess := session.New(session.NewMemoryStore())
	_, err := svc.SignIn(ctx, sess, "ada@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, sess))
	_, err = svc.Profile(ctx, sess)
	assert.ErrorIs(t, err, session.ErrNotSignedIn)

	// signing out twice is harmless
	assert.NoError(t, svc.SignOut(ctx, sess))
}
