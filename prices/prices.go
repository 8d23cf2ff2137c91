package prices

import (
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/config"
)

// Updater polls the configured price endpoint and pushes fresh conversion
// rates into the fan-out layer. The latest successful fetch is retained for
// snapshot seeding.
type Updater struct {
	mtx    sync.RWMutex
	latest *common.Prices

	client   *resty.Client
	url      string
	interval time.Duration
}

func NewUpdater(cfg *config.PricesCfg) *Updater {
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Updater{
		client:   resty.New().SetTimeout(10 * time.Second),
		url:      cfg.URL,
		interval: interval,
	}
}

func (u *Updater) GetLatestPrices() *common.Prices {
	u.mtx.RLock()
	defer u.mtx.RUnlock()
	if u.latest == nil {
		return &common.Prices{Time: time.Now().Unix(), USD: -1}
	}
	return u.latest
}

// Start polls until stop closes, invoking onUpdate for every successful
// fetch.
func (u *Updater) Start(stop chan struct{}, onUpdate func(*common.Prices)) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.poll(onUpdate)
	for {
		select {
		case <-ticker.C:
			u.poll(onUpdate)
		case <-stop:
			return
		}
	}
}

func (u *Updater) poll(onUpdate func(*common.Prices)) {
	var fetched common.Prices
	err := retry.Do(func() error {
		resp, err := u.client.R().SetResult(&fetched).Get(u.url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("unexpected status %d", resp.StatusCode())
		}
		return nil
	}, retry.Attempts(3), retry.Delay(2*time.Second))
	if err != nil {
		common.Log.Debugf("price fetch failed: %v", err)
		return
	}

	fetched.Time = time.Now().Unix()
	u.mtx.Lock()
	u.latest = &fetched
	u.mtx.Unlock()

	if onUpdate != nil {
		onUpdate(&fetched)
	}
}
