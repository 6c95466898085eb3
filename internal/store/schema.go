package store

// createSchema creates the SQLite schema on first open. The postgres
// backend assumes an externally managed schema with the same shape.
func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS klines (
			symbol              TEXT    NOT NULL,
			interval            TEXT    NOT NULL,
			open_time           INTEGER NOT NULL,
			open                TEXT    NOT NULL,
			high                TEXT    NOT NULL,
			low                 TEXT    NOT NULL,
			close               TEXT    NOT NULL,
			volume              TEXT    NOT NULL,
			close_time          INTEGER NOT NULL,
			quote_asset_volume  TEXT    NOT NULL,
			number_of_trades    INTEGER NOT NULL,
			taker_buy_base_vol  TEXT    NOT NULL,
			taker_buy_quote_vol TEXT    NOT NULL,
			ignore_field        TEXT,
			source              TEXT    DEFAULT 'binance_spot',
			downloaded_at       TEXT    NOT NULL,
			PRIMARY KEY (symbol, interval, open_time)
		);
		CREATE INDEX IF NOT EXISTS idx_klines_symbol_interval
			ON klines (symbol, interval);
		CREATE INDEX IF NOT EXISTS idx_klines_open_time
			ON klines (open_time);

		CREATE TABLE IF NOT EXISTS download_jobs (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol              TEXT    NOT NULL,
			interval            TEXT    NOT NULL,
			start_time          INTEGER NOT NULL,
			end_time            INTEGER NOT NULL,
			status              TEXT    NOT NULL DEFAULT 'pending',
			progress_pct        REAL    DEFAULT 0.0,
			candles_downloaded  INTEGER DEFAULT 0,
			candles_expected    INTEGER DEFAULT 0,
			gaps_found          INTEGER DEFAULT 0,
			created_at          TEXT    NOT NULL,
			updated_at          TEXT    NOT NULL,
			log                 TEXT    DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS derived_metrics (
			symbol              TEXT    NOT NULL,
			interval            TEXT    NOT NULL,
			open_time           INTEGER NOT NULL,
			metric_name         TEXT    NOT NULL,
			value               REAL,
			PRIMARY KEY (symbol, interval, open_time, metric_name)
		);
		CREATE INDEX IF NOT EXISTS idx_derived_symbol_interval
			ON derived_metrics (symbol, interval);

		CREATE TABLE IF NOT EXISTS signal_configs (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol                  TEXT    NOT NULL,
			interval                TEXT    NOT NULL,
			strategy                TEXT    NOT NULL,
			params                  TEXT    NOT NULL DEFAULT '{}',
			stop_cross_pct          REAL    NOT NULL DEFAULT 0.02,
			portfolio               REAL    NOT NULL DEFAULT 10000.0,
			invested_amount         REAL,
			leverage                REAL,
			cost_bps                REAL    NOT NULL DEFAULT 10.0,
			polling_interval_s      INTEGER,
			active                  INTEGER NOT NULL DEFAULT 1,
			last_processed_candle   INTEGER DEFAULT 0,
			created_at              TEXT    NOT NULL,
			updated_at              TEXT    NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_signal_configs_unique
			ON signal_configs (symbol, interval, strategy, params);

		CREATE TABLE IF NOT EXISTS signals (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			config_id               INTEGER NOT NULL,
			symbol                  TEXT    NOT NULL,
			interval                TEXT    NOT NULL,
			strategy                TEXT    NOT NULL,
			side                    TEXT    NOT NULL,
			trigger_candle_time     INTEGER NOT NULL,
			stop_price              REAL    NOT NULL,
			stop_trigger_price      REAL    NOT NULL,
			status                  TEXT    NOT NULL DEFAULT 'pending',
			created_at              TEXT    NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_dedup
			ON signals (config_id, trigger_candle_time);
		CREATE INDEX IF NOT EXISTS idx_signals_config
			ON signals (config_id);

		CREATE TABLE IF NOT EXISTS sim_trades (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id               INTEGER NOT NULL REFERENCES signals(id),
			config_id               INTEGER NOT NULL,
			symbol                  TEXT    NOT NULL,
			interval                TEXT    NOT NULL,
			side                    TEXT    NOT NULL,
			entry_price             REAL,
			entry_time              INTEGER,
			stop_base               REAL    NOT NULL,
			stop_trigger            REAL    NOT NULL,
			exit_price              REAL,
			exit_time               INTEGER,
			exit_reason             TEXT,
			status                  TEXT    NOT NULL DEFAULT 'pending_entry',
			portfolio               REAL    NOT NULL,
			invested_amount         REAL    NOT NULL,
			leverage                REAL    NOT NULL,
			quantity                REAL,
			pnl                     REAL,
			pnl_pct                 REAL,
			fees                    REAL,
			equity_peak             REAL,
			created_at              TEXT    NOT NULL,
			updated_at              TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sim_trades_status
			ON sim_trades (status);
		CREATE INDEX IF NOT EXISTS idx_sim_trades_config
			ON sim_trades (config_id);

		CREATE TABLE IF NOT EXISTS real_trades (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			sim_trade_id            INTEGER REFERENCES sim_trades(id),
			signal_id               INTEGER REFERENCES signals(id),
			symbol                  TEXT    NOT NULL,
			side                    TEXT    NOT NULL,
			entry_price             REAL    NOT NULL,
			entry_time              TEXT    NOT NULL,
			exit_price              REAL,
			exit_time               TEXT,
			quantity                REAL    NOT NULL,
			fees                    REAL    DEFAULT 0.0,
			pnl                     REAL,
			pnl_pct                 REAL,
			notes                   TEXT,
			status                  TEXT    NOT NULL DEFAULT 'open',
			created_at              TEXT    NOT NULL,
			updated_at              TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_real_trades_sim
			ON real_trades (sim_trade_id);

		CREATE TABLE IF NOT EXISTS notification_log (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type              TEXT    NOT NULL,
			reference_type          TEXT    NOT NULL,
			reference_id            INTEGER NOT NULL,
			message                 TEXT,
			sent_at                 TEXT    NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_dedup
			ON notification_log (event_type, reference_type, reference_id);
	`)
	return err
}
