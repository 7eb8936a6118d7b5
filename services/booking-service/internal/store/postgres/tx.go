package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

var errReadOnly = errors.New("write attempted in a read-only unit of work")

type pgTx struct {
	tx       pgx.Tx
	tenant   tenancy.Handle
	writable bool
}

var _ store.Tx = (*pgTx)(nil)

func notFound(err error, kind, id string) error {
	if db.IsNoRows(err) {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, kind, id)
	}
	return err
}

func (t *pgTx) GetEventType(ctx context.Context, id string) (model.EventType, error) {
	var et model.EventType
	err := t.tx.QueryRow(ctx, `
		SELECT e.id, e.tenant_id, e.name, e.duration_minutes, COALESCE(e.template_id, ''),
			e.requires_provider_assignment, e.min_notice_minutes,
			e.buffer_before_minutes, e.buffer_after_minutes, e.max_advance_days, e.active,
			COALESCE(array_agg(p.provider_id ORDER BY p.provider_id) FILTER (WHERE p.provider_id IS NOT NULL), '{}')
		FROM event_types e
		LEFT JOIN event_type_providers p ON p.event_type_id = e.id
		WHERE e.id = $1
		GROUP BY e.id
	`, id).Scan(
		&et.ID,
		&et.TenantID,
		&et.Name,
		&et.DurationMinutes,
		&et.TemplateID,
		&et.RequiresProviderAssignment,
		&et.MinNoticeMinutes,
		&et.BufferBeforeMinutes,
		&et.BufferAfterMinutes,
		&et.MaxAdvanceDays,
		&et.Active,
		&et.ProviderIDs,
	)
	if err != nil {
		return model.EventType{}, notFound(err, "event type", id)
	}
	return et, nil
}

func (t *pgTx) GetTemplate(ctx context.Context, id string) (model.AvailabilityTemplate, error) {
	var tpl model.AvailabilityTemplate
	err := t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, name FROM availability_templates WHERE id = $1
	`, id).Scan(&tpl.ID, &tpl.TenantID, &tpl.Name)
	if err != nil {
		return model.AvailabilityTemplate{}, notFound(err, "template", id)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT day_of_week, start_minute, end_minute, timezone
		FROM availability_windows
		WHERE template_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return model.AvailabilityTemplate{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var w model.Window
		var dow int
		if err := rows.Scan(&dow, &w.StartMinute, &w.EndMinute, &w.Timezone); err != nil {
			return model.AvailabilityTemplate{}, err
		}
		w.DayOfWeek = time.Weekday(dow)
		tpl.Windows = append(tpl.Windows, w)
	}
	return tpl, rows.Err()
}

func (t *pgTx) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, name, active, COALESCE(template_id, '') FROM providers WHERE id = $1
	`, id).Scan(&p.ID, &p.TenantID, &p.Name, &p.Active, &p.TemplateID)
	if err != nil {
		return model.Provider{}, notFound(err, "provider", id)
	}
	return p, nil
}

func (t *pgTx) ListDateOverrides(ctx context.Context, providerIDs []string, from, to model.Date) ([]model.DateOverride, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT provider_id, date, unavailable, start_minute, end_minute
		FROM date_overrides
		WHERE provider_id = ANY($1) AND date BETWEEN $2 AND $3
		ORDER BY date, provider_id, id
	`, providerIDs, dateArg(from), dateArg(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DateOverride
	for rows.Next() {
		var o model.DateOverride
		var day time.Time
		if err := rows.Scan(&o.ProviderID, &day, &o.Unavailable, &o.StartMinute, &o.EndMinute); err != nil {
			return nil, err
		}
		o.Date = model.DateOf(day)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) ListHolidays(ctx context.Context) ([]model.Holiday, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, date, name, source, active, recurring FROM holidays ORDER BY date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Holiday
	for rows.Next() {
		var h model.Holiday
		var day time.Time
		var source string
		if err := rows.Scan(&h.ID, &day, &h.Name, &source, &h.Active, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date = model.DateOf(day)
		h.Source = model.HolidaySource(source)
		out = append(out, h)
	}
	return out, rows.Err()
}

const insertHolidaySQL = `
	INSERT INTO holidays (id, date, name, source, active, recurring)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (date) DO NOTHING
`

func (t *pgTx) InsertHoliday(ctx context.Context, h model.Holiday) (bool, error) {
	if !t.writable {
		return false, errReadOnly
	}
	tag, err := t.tx.Exec(ctx, insertHolidaySQL, holidayID(h), dateArg(h.Date), h.Name, string(h.Source), h.Active, h.Recurring)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const appointmentColumns = `
	id, tenant_id, event_type_id, COALESCE(provider_id, ''), start_time, end_time, reference, status,
	guest_name, guest_email, guest_phone, responses, holiday_override, COALESCE(rescheduled_from, ''),
	cancelled_at, cancel_reason, created_at, updated_at
`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.EventTypeID,
		&a.ProviderID,
		&a.Start,
		&a.End,
		&a.Reference,
		&status,
		&a.Guest.Name,
		&a.Guest.Email,
		&a.Guest.Phone,
		&a.Responses,
		&a.HolidayOverride,
		&a.RescheduledFrom,
		&a.CancelledAt,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	a.Status = model.Status(status)
	return a, err
}

func (t *pgTx) ListActiveAppointments(ctx context.Context, providerIDs []string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = ANY($1)
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time, id
	`, providerIDs, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *pgTx) CountActiveOnDay(ctx context.Context, providerID string, from, to time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM appointments
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time >= $2
			AND start_time < $3
	`, providerID, from, to).Scan(&n)
	return n, err
}

func (t *pgTx) LockProviderDay(ctx context.Context, providerID string, day model.Date) error {
	if !t.writable {
		return errReadOnly
	}
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(t.tenant.Namespace(), providerID, day))
	return err
}

// lockKey is namespaced so equal provider ids in two tenants never contend.
func lockKey(namespace, providerID string, day model.Date) string {
	return namespace + "|" + providerID + "|" + day.String()
}

func (t *pgTx) ClaimReference(ctx context.Context, reference string) error {
	if !t.writable {
		return errReadOnly
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO public.booking_references (reference, namespace)
		VALUES ($1, $2)
		ON CONFLICT (reference) DO NOTHING
	`, reference, t.tenant.Namespace())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrReferenceTaken
	}
	return nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	if !t.writable {
		return model.Appointment{}, errReadOnly
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	responses := a.Responses
	if responses == nil {
		responses = map[string]string{}
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, tenant_id, event_type_id, provider_id, start_time, end_time, reference, status,
			 guest_name, guest_email, guest_phone, responses, holiday_override, rescheduled_from,
			 cancelled_at, cancel_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+appointmentColumns,
		a.ID, a.TenantID, a.EventTypeID, nullable(a.ProviderID), a.Start, a.End, a.Reference, string(a.Status),
		a.Guest.Name, a.Guest.Email, a.Guest.Phone, responses, a.HolidayOverride, nullable(a.RescheduledFrom),
		a.CancelledAt, a.CancelReason,
	)
	out, err := scanAppointment(row)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return model.Appointment{}, fmt.Errorf("%w: provider %s already booked", model.ErrSlotUnavailable, a.ProviderID)
		}
		return model.Appointment{}, err
	}
	return out, nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	if !t.writable {
		return errReadOnly
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET provider_id = $2,
			start_time = $3,
			end_time = $4,
			status = $5,
			guest_name = $6,
			guest_email = $7,
			guest_phone = $8,
			holiday_override = $9,
			cancelled_at = $10,
			cancel_reason = $11,
			updated_at = now()
		WHERE id = $1
	`, a.ID, nullable(a.ProviderID), a.Start, a.End, string(a.Status), a.Guest.Name, a.Guest.Email, a.Guest.Phone,
		a.HolidayOverride, a.CancelledAt, a.CancelReason)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return fmt.Errorf("%w: provider %s already booked", model.ErrSlotUnavailable, a.ProviderID)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", model.ErrNotFound, a.ID)
	}
	return nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if t.writable {
		query += ` FOR UPDATE`
	}
	a, err := scanAppointment(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment", id)
	}
	return a, nil
}

func (t *pgTx) GetByReference(ctx context.Context, reference string) (model.Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE reference = $1
		ORDER BY status IN ('pending', 'confirmed') DESC, updated_at DESC
		LIMIT 1
	`, reference))
	if err != nil {
		return model.Appointment{}, notFound(err, "booking", reference)
	}
	return a, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	if !t.writable {
		return errReadOnly
	}
	return outbox.Insert(ctx, t.tx, evt)
}

// nullable maps "" to SQL NULL for optional foreign keys.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateArg(d model.Date) time.Time {
	return d.In(time.UTC)
}

func holidayID(h model.Holiday) string {
	if h.ID != "" {
		return h.ID
	}
	return uuid.NewString()
}
