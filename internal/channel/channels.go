package channel

import (
	"context"
	"sync"

	"perpwatch/logger"
	"perpwatch/models"
)

type ChannelStats struct {
	DivergenceSent     int64
	DivergenceDropped  int64
	NextFundingSent    int64
	NextFundingDropped int64
}

// Channels carries qualifying divergence results from the scanner to the
// alert dispatcher. Sends never block: when the dispatcher falls behind, the
// candidate is dropped and counted — the next scan recomputes everything
// from scratch anyway.
type Channels struct {
	Divergence  chan models.Divergence
	NextFunding chan models.NextFundingDivergence

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Divergence:  make(chan models.Divergence, bufferSize),
		NextFunding: make(chan models.NextFundingDivergence, bufferSize),
		log:         log,
	}

	log.WithComponent("alert_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("alert channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Divergence)
	close(c.NextFunding)
	c.log.WithComponent("alert_channels").Info("alert channels closed")
}

func (c *Channels) SendDivergence(ctx context.Context, res models.Divergence) bool {
	select {
	case c.Divergence <- res:
		c.statsMutex.Lock()
		c.stats.DivergenceSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.DivergenceDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) SendNextFunding(ctx context.Context, res models.NextFundingDivergence) bool {
	select {
	case c.NextFunding <- res:
		c.statsMutex.Lock()
		c.stats.NextFundingSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.NextFundingDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
