package ledgerguard

import (
	"fmt"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/database"
	redis_db "github.com/ledgerguard/ledgerguard/internal/redis-db"
	"github.com/ledgerguard/ledgerguard/risk"
	"github.com/redis/go-redis/v9"
)

// LedgerGuard is the core engine: the ledger operations, the risk rule
// engine and the post-commit event queue behind a single handle.
type LedgerGuard struct {
	datasource database.IDataSource
	queue      *Queue
	redis      redis.UniversalClient
	risk       *risk.Engine
}

// NewLedgerGuard initializes the engine with the provided datasource.
// It wires the redis guard-lock client, the post-commit queue and the
// risk detector registry from the loaded configuration.
func NewLedgerGuard(db database.IDataSource) (*LedgerGuard, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	l := &LedgerGuard{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		risk:       risk.NewEngine(db, configuration),
	}
	l.risk.SetIncidentHook(l.postIncidentActions)
	return l, nil
}

// RiskEngine exposes the detector registry, used by the async workers
// and the web layer's request-event forwarding.
func (l *LedgerGuard) RiskEngine() *risk.Engine {
	return l.risk
}
