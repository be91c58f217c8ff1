package ledger

// schema is applied once at Store startup. It mirrors the managed=False
// Django models under original_source/backend/market/models, trimmed to
// the tables this module actually reads and writes. Money/share columns
// are stored as TEXT so they round-trip through shopspring/decimal with
// no float precision loss (SQLite has no fixed-point numeric type).
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	group_rule TEXT NOT NULL,
	sort_weight INTEGER NOT NULL DEFAULT 0,
	is_hidden INTEGER NOT NULL DEFAULT 0,
	trading_deadline TEXT,
	resolution_deadline TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
	id TEXT PRIMARY KEY,
	event_id TEXT REFERENCES events(id),
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	sort_weight INTEGER NOT NULL DEFAULT 0,
	is_hidden INTEGER NOT NULL DEFAULT 0,
	trading_deadline TEXT,
	resolution_deadline TEXT,
	resolved_option_id TEXT,
	settled_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_markets_event ON markets(event_id);

CREATE TABLE IF NOT EXISTS market_options (
	id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL REFERENCES markets(id),
	option_index INTEGER NOT NULL,
	side TEXT NOT NULL,
	label TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(market_id, option_index)
);
CREATE INDEX IF NOT EXISTS idx_options_market ON market_options(market_id);

CREATE TABLE IF NOT EXISTS market_option_stats (
	option_id TEXT PRIMARY KEY REFERENCES market_options(id),
	volume_buy TEXT NOT NULL DEFAULT '0',
	volume_sell TEXT NOT NULL DEFAULT '0',
	last_price TEXT NOT NULL DEFAULT '0',
	last_traded_at TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS market_option_series (
	id TEXT PRIMARY KEY,
	option_id TEXT NOT NULL REFERENCES market_options(id),
	bucket_start TEXT NOT NULL,
	probability TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(option_id, bucket_start)
);

CREATE TABLE IF NOT EXISTS amm_pools (
	id TEXT PRIMARY KEY,
	market_id TEXT UNIQUE REFERENCES markets(id),
	event_id TEXT UNIQUE REFERENCES events(id),
	model TEXT NOT NULL DEFAULT 'lmsr',
	status TEXT NOT NULL DEFAULT 'active',
	b TEXT NOT NULL,
	fee_bps INTEGER NOT NULL DEFAULT 0,
	collateral_token TEXT NOT NULL,
	funding_amount TEXT NOT NULL DEFAULT '0',
	collected_fee TEXT NOT NULL DEFAULT '0',
	collateral_amount TEXT NOT NULL DEFAULT '0',
	pool_cash TEXT NOT NULL DEFAULT '0',
	fee_recipient_user_id TEXT,
	created_by TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS amm_pool_option_state (
	option_id TEXT PRIMARY KEY REFERENCES market_options(id),
	pool_id TEXT NOT NULL REFERENCES amm_pools(id),
	q TEXT NOT NULL DEFAULT '0',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_option_state_pool ON amm_pool_option_state(pool_id);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS wallets (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	address TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	is_primary INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wallets_user ON wallets(user_id);

CREATE TABLE IF NOT EXISTS balance_snapshots (
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	collateral_token TEXT NOT NULL,
	amount TEXT NOT NULL DEFAULT '0',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (wallet_id, collateral_token)
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	option_id TEXT NOT NULL REFERENCES market_options(id),
	shares TEXT NOT NULL DEFAULT '0',
	cost_basis TEXT NOT NULL DEFAULT '0',
	updated_at TEXT NOT NULL,
	UNIQUE(wallet_id, option_id)
);
CREATE INDEX IF NOT EXISTS idx_positions_wallet ON positions(wallet_id);

CREATE TABLE IF NOT EXISTS order_intents (
	id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL REFERENCES markets(id),
	option_id TEXT NOT NULL REFERENCES market_options(id),
	wallet_id TEXT REFERENCES wallets(id),
	side TEXT NOT NULL,
	amount_in TEXT,
	shares_in TEXT,
	min_shares_out TEXT,
	min_amount_out TEXT,
	max_slippage_bps INTEGER,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL REFERENCES markets(id),
	option_id TEXT NOT NULL REFERENCES market_options(id),
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	side TEXT NOT NULL,
	shares_delta TEXT NOT NULL,
	amount_gross TEXT NOT NULL,
	fee_amount TEXT NOT NULL,
	amount_net TEXT NOT NULL,
	price_after TEXT NOT NULL,
	tx_hash TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet_id);

CREATE TABLE IF NOT EXISTS market_settlements (
	id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL REFERENCES markets(id),
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	option_id TEXT NOT NULL REFERENCES market_options(id),
	shares TEXT NOT NULL,
	payout_amount TEXT NOT NULL,
	status TEXT NOT NULL,
	settlement_tx_id TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlements_market ON market_settlements(market_id);
`
