// Package tape 把已应用的报价和订单快照异步写入 sqlite，供事后排查。
// 写入走有界队列，队列满时直接丢弃，不会阻塞行情分发。
package tape

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/events"
	"github.com/betbot/tradedash/internal/metrics"
)

var log = logrus.WithField("component", "tape")

const defaultQueueSize = 1024

// ErrClosed 记录器已关闭
var ErrClosed = errors.New("tape: closed")

// QuoteRow 一条报价记录
type QuoteRow struct {
	Symbol     domain.Symbol    `json:"symbol"`
	Price      decimal.Decimal  `json:"price"`
	Direction  domain.Direction `json:"direction"`
	RecordedAt time.Time        `json:"recordedAt"`
}

// OrderSnapshot 一次订单记录刷新
type OrderSnapshot struct {
	Orders     []domain.Order `json:"orders"`
	RecordedAt time.Time      `json:"recordedAt"`
}

type record struct {
	quotes *events.QuoteApplied
	orders *OrderSnapshot
}

type Recorder struct {
	db    *sql.DB
	queue chan record
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open 打开（必要时创建）sqlite 文件并启动写入 goroutine
func Open(path string, queueSize int) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("tape db path is required")
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir tape dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := &Recorder{db: db, queue: make(chan record, queueSize)}
	r.wg.Add(1)
	go r.writeLoop()
	log.Infof("行情磁带已启用: %s", path)
	return r, nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS quotes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  price TEXT NOT NULL,
  direction TEXT NOT NULL,
  recorded_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_symbol ON quotes(symbol, id);`,
		`
CREATE TABLE IF NOT EXISTS order_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_count INTEGER NOT NULL,
  orders_json TEXT NOT NULL,
  recorded_at TEXT NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate tape: %w", err)
		}
	}
	return nil
}

// RecordQuotes 价格表观察者，非阻塞
func (r *Recorder) RecordQuotes(ev events.QuoteApplied) {
	r.enqueue(record{quotes: &ev})
}

// RecordOrders 订单观察者，非阻塞
func (r *Recorder) RecordOrders(orders []domain.Order) {
	r.enqueue(record{orders: &OrderSnapshot{Orders: orders, RecordedAt: time.Now()}})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		metrics.TapeDrops.Add(1)
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for rec := range r.queue {
		var err error
		switch {
		case rec.quotes != nil:
			err = r.writeQuotes(*rec.quotes)
		case rec.orders != nil:
			err = r.writeOrders(*rec.orders)
		}
		if err != nil {
			log.Warnf("写入磁带失败: %v", err)
			continue
		}
		metrics.TapeWrites.Add(1)
	}
}

func (r *Recorder) writeQuotes(ev events.QuoteApplied) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	at := ev.At.UTC().Format(time.RFC3339Nano)
	for _, q := range ev.Quotes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quotes(symbol, price, direction, recorded_at) VALUES(?,?,?,?)`,
			string(q.Symbol), q.Price.String(), string(q.Direction), at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Recorder) writeOrders(snap OrderSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := json.Marshal(snap.Orders)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO order_snapshots(order_count, orders_json, recorded_at) VALUES(?,?,?)`,
		len(snap.Orders), string(b), snap.RecordedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Recent 某个标的最近 n 条报价，最新在前
func (r *Recorder) Recent(ctx context.Context, symbol domain.Symbol, n int) ([]QuoteRow, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT symbol, price, direction, recorded_at FROM quotes WHERE symbol = ? ORDER BY id DESC LIMIT ?`,
		string(symbol), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []QuoteRow{}
	for rows.Next() {
		var (
			sym, price, dir, at string
		)
		if err := rows.Scan(&sym, &price, &dir, &at); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", price, err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, at)
		out = append(out, QuoteRow{
			Symbol:     domain.Symbol(sym),
			Price:      p,
			Direction:  domain.Direction(dir),
			RecordedAt: ts,
		})
	}
	return out, rows.Err()
}

// RecentOrderSnapshots 最近 n 次订单刷新，最新在前
func (r *Recorder) RecentOrderSnapshots(ctx context.Context, n int) ([]OrderSnapshot, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT orders_json, recorded_at FROM order_snapshots ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OrderSnapshot{}
	for rows.Next() {
		var raw, at string
		if err := rows.Scan(&raw, &at); err != nil {
			return nil, err
		}
		var snap OrderSnapshot
		if err := json.Unmarshal([]byte(raw), &snap.Orders); err != nil {
			return nil, err
		}
		snap.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close 停止接收新记录，写完队列中剩余的记录后关闭数据库
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return r.db.Close()
}
