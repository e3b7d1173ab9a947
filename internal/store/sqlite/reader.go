package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trading-riskv1/internal/model"
)

// FillRecord is a journaled fill with its row id.
type FillRecord struct {
	ID int64 `json:"id"`
	model.Fill
}

// GetFills returns the last limit fills, newest first. An empty token
// matches every instrument.
func (j *Journal) GetFills(ctx context.Context, token string, limit int) ([]FillRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, order_id, kind, token, symbol, side, qty, price, risk_amount, slippage, filled_at
		FROM fills
		WHERE ? = '' OR token = ?
		ORDER BY id DESC
		LIMIT ?
	`, token, token, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query fills: %w", err)
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		var kind, side string
		var filledAt int64
		if err := rows.Scan(&r.ID, &r.OrderID, &kind, &r.Token, &r.Symbol, &side, &r.Qty,
			&r.Price, &r.RiskAmount, &r.Slippage, &filledAt); err != nil {
			return nil, fmt.Errorf("sqlite scan fill: %w", err)
		}
		r.Kind, r.Side = model.FillKind(kind), model.Side(side)
		r.FilledAt = time.UnixMilli(filledAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadPositions reads the last checkpoint. ok is false when none was saved.
func (j *Journal) LoadPositions(ctx context.Context) (positions []model.Position, pool model.RiskPool, ok bool, err error) {
	err = j.db.QueryRowContext(ctx, `SELECT available_risk, used_risk FROM risk_pool WHERE id = 1`).
		Scan(&pool.AvailableRisk, &pool.UsedRisk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.RiskPool{}, false, nil
	}
	if err != nil {
		return nil, model.RiskPool{}, false, fmt.Errorf("sqlite query risk_pool: %w", err)
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT token, symbol, exchange, entry_price, current_qty, initial_qty, booked_pnl,
			stop_loss, target, entry_time, auto_exit, last_price, risk_allocated
		FROM positions ORDER BY token
	`)
	if err != nil {
		return nil, model.RiskPool{}, false, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Position
		var exchange sql.NullString
		var entryTime int64
		if err := rows.Scan(&p.Token, &p.Symbol, &exchange, &p.EntryPrice, &p.CurrentQty, &p.InitialQty,
			&p.BookedPnL, &p.StopLoss, &p.Target, &entryTime, &p.AutoExit, &p.LastPrice, &p.RiskAllocated); err != nil {
			return nil, model.RiskPool{}, false, fmt.Errorf("sqlite scan position: %w", err)
		}
		p.Exchange = exchange.String
		if entryTime > 0 {
			p.EntryTime = time.UnixMilli(entryTime).UTC()
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, model.RiskPool{}, false, err
	}
	return positions, pool, true, nil
}
