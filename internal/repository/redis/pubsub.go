package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/redis/go-redis/v9"
)

type SeatsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewSeatsPubSub(rdb *redis.Client) *SeatsPubSub {
	if rdb == nil {
		return nil
	}

	return &SeatsPubSub{
		rdb:     rdb,
		channel: ChannelSeatsChanged(),
	}
}

type SeatChange struct {
	VehicleID int64  `json:"vehicle_id"`
	SeatID    int64  `json:"seat_id"`
	Date      string `json:"date"`
}

type seatsChangedMsg struct {
	Type   string       `json:"type"`
	Seats  []SeatChange `json:"seats"`
	TsUnix int64        `json:"ts_unix"`
}

func (p *SeatsPubSub) PublishSeatsChanged(ctx context.Context, keys []domain.LegKey) error {
	if p == nil || len(keys) == 0 {
		return nil
	}

	msg := seatsChangedMsg{
		Type:   "seats_changed",
		TsUnix: time.Now().Unix(),
	}
	for _, k := range keys {
		msg.Seats = append(msg.Seats, SeatChange{
			VehicleID: k.VehicleID,
			SeatID:    k.SeatID,
			Date:      k.Date.Format(domain.DateLayout),
		})
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe delivers seat changes until ctx is done.
func (p *SeatsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, seats []SeatChange)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev seatsChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				len(ev.Seats) > 0 {
				handler(ctx, ev.Seats)
			}
		}
	}
}
