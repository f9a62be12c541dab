// Package lock implements the distributed seat-lock store. Each event
// owns one Redis hash; a field is one seat (or one non-seated
// inventory item) and its value is the id of the transaction holding
// it. Mutual exclusion is optimistic: a losing contender fails
// immediately with a typed error and never queues.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
)

// lockScript performs the whole acquisition server-side so the
// capacity check and the conditional writes cannot interleave with a
// concurrent caller. Without this, two callers can both pass the
// count check before either writes, oversubscribing the event.
//
// ARGV: holder, expiry (unix seconds), maximum (0 = unbounded),
// then one field per offer. Returns 1 on success, 0 when a field was
// already held (nothing remains set by this call), -1 when the
// capacity bound would be exceeded.
var lockScript = redis.NewScript(`
    local key = KEYS[1]
    local holder = ARGV[1]
    local expires_at = tonumber(ARGV[2])
    local maximum = tonumber(ARGV[3])
    local nfields = #ARGV - 3

    if maximum > 0 then
        local held = redis.call('HLEN', key)
        if held + nfields >= maximum then
            return -1
        end
    end

    local set = {}
    for i = 4, #ARGV do
        if redis.call('HSETNX', key, ARGV[i], holder) == 1 then
            table.insert(set, ARGV[i])
        else
            for _, f in ipairs(set) do
                redis.call('HDEL', key, f)
            end
            return 0
        end
    end

    redis.call('EXPIREAT', key, expires_at)
    return 1
`)

// SeatStore grants per-event exclusive holds on seats and inventory
// units. A nil-safe Redis client must be injected; the store never
// reaches for a global connection.
type SeatStore struct {
	client *redis.Client
	prefix string
}

// NewSeatStore returns a SeatStore writing under the given key
// prefix. The full key shape is
// "<prefix>:itemAvailability:screeningEvent:<eventId>" and must not
// change while interoperating with an existing deployment.
func NewSeatStore(client *redis.Client, prefix string) *SeatStore {
	return &SeatStore{client: client, prefix: prefix}
}

func (s *SeatStore) key(eventID string) string {
	return fmt.Sprintf("%s:itemAvailability:screeningEvent:%s", s.prefix, eventID)
}

// field derives the hash field for an offer item: the item id for
// non-seated inventory, otherwise "seatSection:seatNumber".
func field(item model.OfferItem) (string, error) {
	if item.ItemID != "" {
		return item.ItemID, nil
	}
	if item.Seat == nil || item.Seat.SeatNumber == "" {
		return "", errs.NewArgumentNull("offer.seat")
	}
	return item.Seat.SeatSection + ":" + item.Seat.SeatNumber, nil
}

// decodeField is the inverse of field. A field containing a colon is
// a seat reference; anything else is a non-seated item id.
func decodeField(f string) model.OfferItem {
	if i := strings.Index(f, ":"); i >= 0 {
		return model.OfferItem{Seat: &model.SeatSpec{
			SeatSection: f[:i],
			SeatNumber:  f[i+1:],
		}}
	}
	return model.OfferItem{ItemID: f}
}

// Lock attempts to hold every item for holder until expires. The call
// is all-or-nothing: when any item is already held the items this
// call did set are rolled back before errs.ErrAlreadyInUse is
// returned, so a rejected request leaves no residue.
func (s *SeatStore) Lock(ctx context.Context, eventID string, items []model.OfferItem, holder string, expires time.Time) error {
	return s.lock(ctx, eventID, items, holder, expires, 0)
}

// LockIfNotLimitExceeded behaves as Lock but first enforces the
// event's capacity bound: when heldCount+len(items) >= maximum the
// call fails with an argument error and locks nothing. The check and
// the writes run as one server-side script.
func (s *SeatStore) LockIfNotLimitExceeded(ctx context.Context, eventID string, items []model.OfferItem, holder string, expires time.Time, maximum int) error {
	if maximum <= 0 {
		return errs.NewArgument("maximum", "must be positive")
	}
	return s.lock(ctx, eventID, items, holder, expires, maximum)
}

func (s *SeatStore) lock(ctx context.Context, eventID string, items []model.OfferItem, holder string, expires time.Time, maximum int) error {
	if eventID == "" {
		return errs.NewArgumentNull("eventId")
	}
	if holder == "" {
		return errs.NewArgumentNull("holder")
	}
	if len(items) == 0 {
		return errs.NewArgumentNull("offers")
	}

	args := make([]interface{}, 0, len(items)+3)
	args = append(args, holder, expires.Unix(), maximum)
	for _, item := range items {
		f, err := field(item)
		if err != nil {
			return err
		}
		args = append(args, f)
	}

	res, err := lockScript.Run(ctx, s.client, []string{s.key(eventID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("seat lock script: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return errs.ErrAlreadyInUse
	case -1:
		return errs.NewArgument("offers", "capacity exceeded")
	default:
		return fmt.Errorf("seat lock script: unexpected result %d", res)
	}
}

// Unlock releases one item. Unlocking an item with no current holder
// is a no-op, so compensation paths may call it blindly.
func (s *SeatStore) Unlock(ctx context.Context, eventID string, item model.OfferItem) error {
	f, err := field(item)
	if err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.key(eventID), f).Err(); err != nil {
		return fmt.Errorf("seat unlock: %w", err)
	}
	return nil
}

// Holder returns the current holder of an item, or ok=false when the
// item is not held.
func (s *SeatStore) Holder(ctx context.Context, eventID string, item model.OfferItem) (string, bool, error) {
	f, err := field(item)
	if err != nil {
		return "", false, err
	}
	holder, err := s.client.HGet(ctx, s.key(eventID), f).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("seat holder: %w", err)
	}
	return holder, true, nil
}

// CountUnavailableOffers returns how many items are currently held
// for the event.
func (s *SeatStore) CountUnavailableOffers(ctx context.Context, eventID string) (int64, error) {
	n, err := s.client.HLen(ctx, s.key(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("seat count: %w", err)
	}
	return n, nil
}

// UnavailableOffers enumerates every held item for the event, decoded
// back into structured offer items.
func (s *SeatStore) UnavailableOffers(ctx context.Context, eventID string) ([]model.OfferItem, error) {
	fields, err := s.client.HKeys(ctx, s.key(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("seat enumerate: %w", err)
	}
	items := make([]model.OfferItem, 0, len(fields))
	for _, f := range fields {
		items = append(items, decodeField(f))
	}
	return items, nil
}
