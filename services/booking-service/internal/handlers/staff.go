package handlers

import (
	"fmt"
	"net/http"

	"github.com/md-rashed-zaman/tenantbook/libs/auth"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

// requireStaff admits bearer tokens issued to an owner or staff member of
// th. Administrative capability stays outside the booking core.
func (h *BookingHandler) requireStaff(r *http.Request, th tenancy.Handle) error {
	if h.jwtSecret == "" {
		return fmt.Errorf("%w: staff access is not configured", auth.ErrInvalidToken)
	}
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return fmt.Errorf("%w: missing bearer token", auth.ErrInvalidToken)
	}
	claims, err := auth.ParseAndVerifyHS256(token, h.jwtSecret)
	if err != nil {
		return err
	}
	if claims.Tenant != th.Slug() {
		return fmt.Errorf("%w: token issued for another tenant", errForbidden)
	}
	if !claims.HasRole(auth.RoleOwner, auth.RoleStaff) {
		return fmt.Errorf("%w: role %q cannot manage bookings", errForbidden, claims.Role)
	}
	return nil
}
