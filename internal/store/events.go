package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	appLog "calingest/internal/log"
	"calingest/internal/model"
)

// StoredEvent is a persisted occurrence with its row id.
type StoredEvent struct {
	RowID int64
	model.CalendarEvent
}

type eventDTO struct {
	ID               int64  `db:"id"`
	ExternalEventID  string `db:"external_event_id"`
	StartUTC         int64  `db:"start_utc"`
	EndUTC           int64  `db:"end_utc"`
	IsAllDay         bool   `db:"is_all_day"`
	Title            string `db:"title"`
	OrganizerDisplay string `db:"organizer_display"`
	WithDisplay      string `db:"with_display"`
	SanitizedBody    string `db:"sanitized_body"`
	BodyPreview      string `db:"body_preview"`
	ContentHash      string `db:"content_hash"`
}

func mapToEvent(dto *eventDTO) StoredEvent {
	var with []string
	if dto.WithDisplay != "" {
		if err := json.Unmarshal([]byte(dto.WithDisplay), &with); err != nil {
			appLog.Warn("corrupt with_display column", "row", dto.ID, "event", dto.ExternalEventID, "error", err.Error())
			with = nil
		}
	}
	if len(with) == 0 {
		with = nil
	}
	return StoredEvent{
		RowID: dto.ID,
		CalendarEvent: model.CalendarEvent{
			ExternalEventID:  dto.ExternalEventID,
			StartUTC:         time.Unix(dto.StartUTC, 0).UTC(),
			EndUTC:           time.Unix(dto.EndUTC, 0).UTC(),
			IsAllDay:         dto.IsAllDay,
			Title:            dto.Title,
			OrganizerDisplay: dto.OrganizerDisplay,
			WithDisplay:      with,
			SanitizedBody:    dto.SanitizedBody,
			BodyPreview:      dto.BodyPreview,
			ContentHash:      dto.ContentHash,
		},
	}
}

var baseQuery = SQ.
	Select("id",
		"external_event_id",
		"start_utc",
		"end_utc",
		"is_all_day",
		"title",
		"organizer_display",
		"with_display",
		"sanitized_body",
		"body_preview",
		"content_hash",
	).
	From(eventsTable)

// EventStore is the row store keyed by (user, source, external id, start).
type EventStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenEventStore opens the SQLite database at path.
func OpenEventStore(path string) (*EventStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &EventStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// Upsert writes events for user/source, replacing rows with the same
// external id and start. All rows go in one transaction.
func (s *EventStore) Upsert(ctx context.Context, user, source string, events []model.CalendarEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Unix()
	for _, ev := range events {
		with, err := json.Marshal(nonNil(ev.WithDisplay))
		if err != nil {
			return fmt.Errorf("encode participants: %w", err)
		}
		qb := SQ.
			Insert(eventsTable).
			Columns(
				"user_id",
				"source",
				"external_event_id",
				"start_utc",
				"end_utc",
				"is_all_day",
				"title",
				"organizer_display",
				"with_display",
				"sanitized_body",
				"body_preview",
				"content_hash",
				"updated_at",
			).
			Values(
				user,
				source,
				ev.ExternalEventID,
				ev.StartUTC.UTC().Unix(),
				ev.EndUTC.UTC().Unix(),
				ev.IsAllDay,
				ev.Title,
				ev.OrganizerDisplay,
				string(with),
				ev.SanitizedBody,
				ev.BodyPreview,
				ev.ContentHash,
				now,
			).
			Suffix(`ON CONFLICT (user_id, source, external_event_id, start_utc) DO UPDATE SET
				end_utc = excluded.end_utc,
				is_all_day = excluded.is_all_day,
				title = excluded.title,
				organizer_display = excluded.organizer_display,
				with_display = excluded.with_display,
				sanitized_body = excluded.sanitized_body,
				body_preview = excluded.body_preview,
				content_hash = excluded.content_hash,
				updated_at = excluded.updated_at`)

		if _, err := execFn(ctx, tx, qb); err != nil {
			return fmt.Errorf("SQL request: %w", err)
		}
	}
	return tx.Commit()
}

// Range returns the rows of user/source overlapping [from, to), ordered by
// start then id. Zero-length rows count when they start inside the range.
func (s *EventStore) Range(ctx context.Context, user, source string, from, to time.Time) ([]StoredEvent, error) {
	f, t := from.UTC().Unix(), to.UTC().Unix()
	qb := baseQuery.
		Where(sq.Eq{"user_id": user, "source": source}).
		Where(sq.Lt{"start_utc": t}).
		Where(sq.Or{
			sq.Gt{"end_utc": f},
			sq.And{sq.Expr("end_utc <= start_utc"), sq.GtOrEq{"start_utc": f}},
		}).
		OrderBy("start_utc", "external_event_id")

	var dtos []*eventDTO
	if err := selectFn(ctx, s.db, &dtos, qb); err != nil {
		return nil, fmt.Errorf("SQL request: %w", err)
	}

	res := make([]StoredEvent, len(dtos))
	for i, d := range dtos {
		res[i] = mapToEvent(d)
	}
	return res, nil
}

// DeleteByIDs removes rows by row id.
func (s *EventStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	qb := SQ.
		Delete(eventsTable).
		Where(sq.Eq{"id": ids})
	return affected(execFn(ctx, s.db, qb))
}

// DeleteEndingBefore removes rows of every user that ended before cutoff.
func (s *EventStore) DeleteEndingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	qb := SQ.
		Delete(eventsTable).
		Where(sq.Lt{"end_utc": cutoff.UTC().Unix()})
	return affected(execFn(ctx, s.db, qb))
}

// DeleteStartingAfter removes rows of every user starting at or after horizon.
func (s *EventStore) DeleteStartingAfter(ctx context.Context, horizon time.Time) (int64, error) {
	qb := SQ.
		Delete(eventsTable).
		Where(sq.GtOrEq{"start_utc": horizon.UTC().Unix()})
	return affected(execFn(ctx, s.db, qb))
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("SQL request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RowsAffected: %w", err)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
