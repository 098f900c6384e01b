package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"derivbot/internal/domain"
	"derivbot/internal/store"
)

// Store persists trades and tenant configs in PostgreSQL.
//
// Expected schema:
//
//	create table trades (
//	    trade_id      text primary key,
//	    tenant_id     text not null,
//	    symbol        text not null,
//	    contract_type text not null,
//	    action        text not null,
//	    amount        double precision not null,
//	    entry_price   double precision not null,
//	    payout        double precision not null,
//	    status        text not null,
//	    contract_id   text,
//	    proposal_id   text,
//	    pnl           double precision not null default 0,
//	    created_at    timestamptz not null,
//	    closed_at     timestamptz,
//	    close_price   double precision
//	);
//	create index trades_tenant_idx on trades (tenant_id, created_at desc);
//
//	create table bot_configs (
//	    tenant_id  text primary key,
//	    config     jsonb not null,
//	    updated_at timestamptz not null default now()
//	);
type Store struct {
	db *sql.DB
}

func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) UpsertTrade(tenantID string, trade domain.Trade) error {
	_, err := s.db.Exec(
		`insert into trades(
			trade_id, tenant_id, symbol, contract_type, action, amount,
			entry_price, payout, status, contract_id, proposal_id, pnl, created_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		on conflict (trade_id) do update
		set status = excluded.status,
		    payout = excluded.payout,
		    pnl = excluded.pnl`,
		trade.ID,
		tenantID,
		trade.Symbol,
		string(trade.ContractType),
		string(trade.Action),
		trade.Amount,
		trade.EntryPrice,
		trade.Payout,
		string(trade.Status),
		trade.ContractID,
		trade.ProposalID,
		trade.PnL,
		trade.CreatedAt,
	)
	return err
}

func (s *Store) UpdateTradeStatus(tradeID string, status domain.TradeStatus, closedAt time.Time, closePrice, pnl float64) error {
	res, err := s.db.Exec(
		`update trades
		 set status = $2, closed_at = $3, close_price = $4, pnl = $5
		 where trade_id = $1`,
		tradeID, string(status), closedAt, closePrice, pnl,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListTrades(tenantID string, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`select trade_id, tenant_id, symbol, contract_type, action, amount,
		        entry_price, payout, status, contract_id, proposal_id, pnl,
		        created_at, closed_at, close_price
		 from trades
		 where tenant_id = $1
		 order by created_at desc
		 limit $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var contractType, action, status string
		var contractID, proposalID sql.NullString
		var closedAt sql.NullTime
		var closePrice sql.NullFloat64
		if err := rows.Scan(
			&t.ID, &t.TenantID, &t.Symbol, &contractType, &action, &t.Amount,
			&t.EntryPrice, &t.Payout, &status, &contractID, &proposalID, &t.PnL,
			&t.CreatedAt, &closedAt, &closePrice,
		); err != nil {
			return nil, err
		}
		t.ContractType = domain.ContractType(contractType)
		t.Action = domain.SignalAction(action)
		t.Status = domain.TradeStatus(status)
		t.ContractID = contractID.String
		t.ProposalID = proposalID.String
		if closedAt.Valid {
			t.ClosedAt = closedAt.Time
		}
		if closePrice.Valid {
			t.ClosePrice = closePrice.Float64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ReadTenantConfig(tenantID string) (domain.TradingConfig, error) {
	var raw []byte
	err := s.db.QueryRow(
		`select config from bot_configs where tenant_id = $1`,
		tenantID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TradingConfig{}, store.ErrNotFound
		}
		return domain.TradingConfig{}, err
	}
	var cfg domain.TradingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.TradingConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (s *Store) SaveTenantConfig(tenantID string, cfg domain.TradingConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`insert into bot_configs(tenant_id, config, updated_at)
		 values ($1, $2::jsonb, now())
		 on conflict (tenant_id) do update
		 set config = excluded.config,
		     updated_at = now()`,
		tenantID, string(raw),
	)
	return err
}
