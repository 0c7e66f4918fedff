package bus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"eldorado/internal/model"
)

func update(tsOffset int) Update {
	m := &model.Market{ID: uuid.New(), Exchange: "gdax", Symbol: "BTC-USD", Timeframe: model.TF15}
	return Update{
		Market: m,
		Candle: model.Candle{
			MarketID: m.ID,
			Datetime: time.Unix(1700000000, 0).UTC().Add(time.Duration(tsOffset) * 15 * time.Minute),
			Open:     decimal.New(100, 0),
			Close:    decimal.New(101, 0),
		},
	}
}

func TestFanOut_Broadcast(t *testing.T) {
	fan := New(10)
	a := fan.Subscribe()
	b := fan.Subscribe()

	in := make(chan Update, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fan.Run(ctx, in)
		close(done)
	}()

	in <- update(0)
	in <- update(1)

	for i := 0; i < 2; i++ {
		select {
		case <-a:
		case <-time.After(time.Second):
			t.Fatal("subscriber a did not receive update")
		}
		select {
		case <-b:
		case <-time.After(time.Second):
			t.Fatal("subscriber b did not receive update")
		}
	}

	cancel()
	<-done
}

func TestFanOut_SlowConsumerDrops(t *testing.T) {
	fan := New(1)
	slow := fan.Subscribe()
	_ = slow // never read

	dropped := 0
	fan.OnDrop = func(idx int) { dropped++ }

	in := make(chan Update, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fan.Run(ctx, in)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		in <- update(i)
	}
	close(in)
	<-done
	cancel()

	if dropped == 0 {
		t.Error("full subscriber channel must register drops")
	}

	stats := fan.ChannelStats()
	if len(stats) != 1 || stats[0].Cap != 1 {
		t.Errorf("unexpected channel stats %+v", stats)
	}
}
