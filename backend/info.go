package backend

import (
	"os"
	"sync"

	"github.com/russeree/mempool/common"
)

const serverVersion = "1.0.0"

// Info reports what this backend is, for the init snapshot.
type Info struct {
	info *common.BackendInfo
}

func NewInfo(kind string) *Info {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Info{
		info: &common.BackendInfo{
			Hostname: hostname,
			Version:  serverVersion,
			Backend:  kind,
		},
	}
}

func (i *Info) GetBackendInfo() *common.BackendInfo {
	return i.info
}

// Indicators is the loading-progress registry collaborators report into.
type Indicators struct {
	mtx        sync.RWMutex
	indicators map[string]float64
}

func NewIndicators() *Indicators {
	return &Indicators{indicators: make(map[string]float64)}
}

// SetProgress records a named progress percentage; 100 removes the entry.
func (l *Indicators) SetProgress(name string, percent float64) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if percent >= 100 {
		delete(l.indicators, name)
		return
	}
	l.indicators[name] = percent
}

func (l *Indicators) GetLoadingIndicators() map[string]float64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	copied := make(map[string]float64, len(l.indicators))
	for name, percent := range l.indicators {
		copied[name] = percent
	}
	return copied
}
