package main

import (
	"context"
	"math/rand/v2"

	"shardmatch/config"
	"shardmatch/domain/orderbook"
	"shardmatch/service"
)

type acceptedOrder struct {
	instrument orderbook.Instrument
	id         orderbook.OrderID
}

// generateLoad submits cfg.Orders commands spread over instruments. Buys
// sit below the mid and sells above it with overlapping tails, so a share
// of the flow crosses. Cancels and modifies target ids the engine has
// already acknowledged.
func generateLoad(ctx context.Context, p *service.Producer, instruments []orderbook.Instrument, cfg config.LoadConfig, accepted <-chan acceptedOrder) (int, error) {
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15))
	span := max(cfg.PriceRange, 1)
	half := float64(span) / 2

	sent := 0
	for i := 0; i < cfg.Orders; i++ {
		if i%1024 == 0 && ctx.Err() != nil {
			return sent, ctx.Err()
		}

		cmd := service.AddCommand(randomOrder(rng, instruments[i%len(instruments)], cfg, span, half))
		if roll := rng.IntN(100); roll < cfg.CancelPct+cfg.ModifyPct {
			select {
			case a := <-accepted:
				if roll < cfg.CancelPct {
					cmd = service.CancelCommand(a.instrument, a.id)
				} else {
					o := randomOrder(rng, a.instrument, cfg, span, half)
					cmd = service.ModifyCommand(a.instrument, a.id, o.Price, o.Quantity)
				}
			default:
			}
		}

		if err := p.SubmitWait(ctx, cmd.WithTag(uint64(i))); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func randomOrder(rng *rand.Rand, inst orderbook.Instrument, cfg config.LoadConfig, span int, half float64) orderbook.Order {
	side := orderbook.Buy
	offset := -float64(rng.IntN(span)) + half*0.2
	if rng.IntN(2) == 1 {
		side = orderbook.Sell
		offset = float64(rng.IntN(span)) - half*0.2
	}
	price := max(cfg.BasePrice+offset, 0.01)
	qty := orderbook.Quantity(rng.Uint64N(cfg.MaxQty) + 1)
	return orderbook.NewOrder(inst, side, orderbook.Price(price), qty)
}
