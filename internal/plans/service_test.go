package plans

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursepass/coursepass-backend/pkg/enums"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

func newPlanService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(ServiceParams{Repo: NewRepository(setupPlansTestDB(t))})
	require.NoError(t, err)
	return svc
}

func TestPlanServiceCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newPlanService(t)

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"missing name", CreateInput{PriceAmount: decimal.RequireFromString("10"), Currency: enums.CurrencyUSD, DurationDays: 30}},
		{"negative price", CreateInput{Name: "Plan", PriceAmount: decimal.RequireFromString("-1"), Currency: enums.CurrencyUSD, DurationDays: 30}},
		{"negative duration", CreateInput{Name: "Plan", PriceAmount: decimal.RequireFromString("10"), Currency: enums.CurrencyUSD, DurationDays: -1}},
		{"bad currency", CreateInput{Name: "Plan", PriceAmount: decimal.RequireFromString("10"), Currency: enums.Currency("XYZ"), DurationDays: 30}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.input)
			require.Error(t, err)
			appErr := apperrors.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, apperrors.CodeValidation, appErr.Code())
		})
	}
}

func TestPlanServiceCreateUnlimitedDuration(t *testing.T) {
	ctx := context.Background()
	svc := newPlanService(t)

	// zero days is the open-ended lifetime plan, not a validation error
	plan, err := svc.Create(ctx, CreateInput{
		Name:        "Lifetime Access",
		PriceAmount: decimal.RequireFromString("199.00"),
		Currency:    enums.CurrencyUSD,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, plan.DurationDays)
}

func TestPlanServiceCreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newPlanService(t)

	plan, err := svc.Create(ctx, CreateInput{
		Name:         "Monthly Access",
		PriceAmount:  decimal.RequireFromString("29.99"),
		Currency:     enums.CurrencyUSD,
		DurationDays: 30,
		Features:     []string{"all-courses"},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PlanStatusActive, plan.Status)

	got, err := svc.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
}

func TestPlanServiceUpdatePriceClearsProviderRefs(t *testing.T) {
	ctx := context.Background()
	db := setupPlansTestDB(t)
	repo := NewRepository(db)
	svc, err := NewService(ServiceParams{Repo: repo})
	require.NoError(t, err)

	plan, err := svc.Create(ctx, CreateInput{
		Name:         "Monthly",
		PriceAmount:  decimal.RequireFromString("29.99"),
		Currency:     enums.CurrencyUSD,
		DurationDays: 30,
	})
	require.NoError(t, err)
	require.NoError(t, repo.SetStripePriceID(ctx, plan.ID, "price_old"))
	require.NoError(t, repo.SetPayPalPlanID(ctx, plan.ID, "P-old"))

	newPrice := decimal.RequireFromString("39.99")
	updated, err := svc.Update(ctx, plan.ID, UpdateInput{PriceAmount: &newPrice})
	require.NoError(t, err)
	assert.Nil(t, updated.StripePriceID)
	assert.Nil(t, updated.PayPalPlanID)

	stored, err := repo.FindByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.StripePriceID)
	assert.Nil(t, stored.PayPalPlanID)
}

func TestPlanServiceUpdateWithoutPriceKeepsRefs(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupPlansTestDB(t))
	svc, err := NewService(ServiceParams{Repo: repo})
	require.NoError(t, err)

	plan, err := svc.Create(ctx, CreateInput{
		Name:         "Monthly",
		PriceAmount:  decimal.RequireFromString("29.99"),
		Currency:     enums.CurrencyUSD,
		DurationDays: 30,
	})
	require.NoError(t, err)
	require.NoError(t, repo.SetStripePriceID(ctx, plan.ID, "price_live"))

	name := "Monthly Plus"
	_, err = svc.Update(ctx, plan.ID, UpdateInput{Name: &name})
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StripePriceID)
	assert.Equal(t, "price_live", *stored.StripePriceID)
	assert.Equal(t, "Monthly Plus", stored.Name)
}
