package validate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/cache"
	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/internal/validate"
)

type fakeMX struct {
	has   bool
	err   error
	calls int
}

func (f *fakeMX) HasMX(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.has, f.err
}

type fakeVerifier struct {
	res   provider.Verification
	err   error
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (provider.Verification, error) {
	f.calls++
	return f.res, f.err
}

func newCache() *cache.ContactCache {
	return cache.NewContactCache(cache.NewMemoryStore())
}

func TestValidateEmail_NoMX(t *testing.T) {
	mx := &fakeMX{has: false}
	ver := &fakeVerifier{res: provider.Verification{Status: contact.StatusValid, Score: 95}}
	v := validate.New(mx, validate.WithVerifier(ver, 1))

	got := v.ValidateEmail(context.Background(), "jane@nomx.example", true)
	assert.Equal(t, contact.StatusInvalid, got.Status)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, 0, got.APICostCents)
	assert.False(t, got.Deliverable)
	assert.Equal(t, validate.MethodMX, got.Method)
	assert.Equal(t, 0, ver.calls, "paid verifier must not run without MX")
}

func TestValidateEmail_BadSyntaxSkipsDNS(t *testing.T) {
	mx := &fakeMX{has: true}
	v := validate.New(mx)

	got := v.ValidateEmail(context.Background(), "not-an-email", false)
	assert.Equal(t, contact.StatusInvalid, got.Status)
	assert.Equal(t, validate.MethodSyntax, got.Method)
	assert.Equal(t, 0, mx.calls)
}

func TestValidateEmail_PaidSuccessIsCached(t *testing.T) {
	ctx := context.Background()
	mx := &fakeMX{has: true}
	ver := &fakeVerifier{res: provider.Verification{Status: contact.StatusValid, Score: 95, Raw: "deliverable"}}
	c := newCache()
	v := validate.New(mx, validate.WithVerifier(ver, 1), validate.WithCache(c))

	got := v.ValidateEmail(ctx, "Jane@Acme.com", true)
	assert.Equal(t, "jane@acme.com", got.Email)
	assert.Equal(t, contact.StatusValid, got.Status)
	assert.Equal(t, 95, got.Score)
	assert.Equal(t, 1, got.APICostCents)
	assert.True(t, got.Deliverable)
	assert.Equal(t, validate.MethodPaid, got.Method)

	rec, ok, err := c.GetVerification(ctx, "jane@acme.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, contact.StatusValid, rec.Status)
	assert.Equal(t, "deliverable", rec.Metadata["provider_status"])

	again := v.ValidateEmail(ctx, "jane@acme.com", true)
	assert.Equal(t, validate.MethodCache, again.Method)
	assert.Equal(t, 0, again.APICostCents)
	assert.Equal(t, 95, again.Score)
	assert.Equal(t, 1, ver.calls)
	assert.Equal(t, 1, mx.calls)
}

func TestValidateEmail_PaidNotAllowed(t *testing.T) {
	ver := &fakeVerifier{res: provider.Verification{Status: contact.StatusValid, Score: 95}}
	v := validate.New(&fakeMX{has: true}, validate.WithVerifier(ver, 1))

	got := v.ValidateEmail(context.Background(), "jane@acme.com", false)
	assert.Equal(t, validate.MethodDNS, got.Method)
	assert.Equal(t, contact.StatusUnknown, got.Status)
	assert.Equal(t, 50, got.Score)
	assert.Equal(t, 0, ver.calls)
}

func TestValidateEmail_PaidFailureFallsBackToDNS(t *testing.T) {
	for name, err := range map[string]error{
		"provider error": errors.New("boom"),
		"disabled":       provider.ErrDisabled,
	} {
		t.Run(name, func(t *testing.T) {
			ver := &fakeVerifier{err: err}
			v := validate.New(&fakeMX{has: true}, validate.WithVerifier(ver, 1))

			got := v.ValidateEmail(context.Background(), "jane@acme.com", true)
			assert.Equal(t, validate.MethodDNS, got.Method)
			assert.Equal(t, 0, got.APICostCents)
			assert.Equal(t, 50, got.Score)
			assert.Equal(t, 1, ver.calls)
		})
	}
}

func TestValidateEmail_DNSOnlyAdjustments(t *testing.T) {
	v := validate.New(&fakeMX{has: true})
	ctx := context.Background()

	role := v.ValidateEmail(ctx, "info@acme.com", false)
	assert.Equal(t, contact.StatusRisky, role.Status)
	assert.Equal(t, 30, role.Score)
	assert.True(t, role.Deliverable)

	free := v.ValidateEmail(ctx, "jane.doe@gmail.com", false)
	assert.Equal(t, contact.StatusUnknown, free.Status)
	assert.Equal(t, 40, free.Score)
}

func TestValidateEmail_DNSErrorNotCached(t *testing.T) {
	ctx := context.Background()
	mx := &fakeMX{err: errors.New("i/o timeout")}
	c := newCache()
	v := validate.New(mx, validate.WithCache(c))

	got := v.ValidateEmail(ctx, "jane@acme.com", false)
	assert.Equal(t, contact.StatusUnknown, got.Status)
	assert.Equal(t, 30, got.Score)
	assert.Equal(t, validate.MethodDNSError, got.Method)

	_, ok, err := c.GetVerification(ctx, "jane@acme.com")
	require.NoError(t, err)
	assert.False(t, ok)

	mx.err = nil
	mx.has = true
	retry := v.ValidateEmail(ctx, "jane@acme.com", false)
	assert.Equal(t, validate.MethodDNS, retry.Method)
	assert.Equal(t, 2, mx.calls)
}

func TestValidator_Accessors(t *testing.T) {
	v := validate.New(&fakeMX{})
	assert.False(t, v.CanVerify())
	assert.Equal(t, 0, v.VerifyCostCents())

	v = validate.New(&fakeMX{}, validate.WithVerifier(&fakeVerifier{}, 2))
	assert.True(t, v.CanVerify())
	assert.Equal(t, 2, v.VerifyCostCents())
}
