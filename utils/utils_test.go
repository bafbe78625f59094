package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-sync/models"
)

func TestFormatRupiah(t *testing.T) {
	assert.Equal(t, "Rp 0", FormatRupiah(0))
	assert.Equal(t, "Rp 500", FormatRupiah(models.NewMoney(500, 0)))
	assert.Equal(t, "Rp 15.000", FormatRupiah(models.NewMoney(15000, 0)))
	assert.Equal(t, "Rp 15.000,50", FormatRupiah(models.NewMoney(15000, 50)))
	assert.Equal(t, "Rp 1.250.000", FormatRupiah(models.NewMoney(1250000, 0)))
	assert.Equal(t, "-Rp 2.000", FormatRupiah(-models.NewMoney(2000, 0)))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(models.ErrTableNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(fmt.Errorf("%w: Ana", models.ErrAlreadyPaid)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(models.ErrOrderClosed))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(models.Transient(errors.New("db down"))))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))

	assert.Equal(t, "conflict", ErrorCode(models.ErrRoundActive))
	assert.Equal(t, "internal", ErrorCode(errors.New("boom")))
}

func TestGenerateAndParseToken(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateToken(7, 3, RoleStaff, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, uint(3), claims.RestaurantID)
	assert.Equal(t, RoleStaff, claims.Role)

	expired, err := GenerateToken(7, 3, RoleStaff, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired)
	assert.Error(t, err)

	_, err = ParseToken(token + "x")
	assert.Error(t, err)
}
