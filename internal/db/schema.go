package db

const schemaSQL = `
-- ===========================================================================
-- ACCOUNTS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('guardian', 'patient')),
  city TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  expires_at TEXT NOT NULL,
  created_at TEXT NOT NULL,
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

-- ===========================================================================
-- SCHEDULES
-- ===========================================================================

CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  patient_identity TEXT NOT NULL,
  medicine_name TEXT NOT NULL,
  dosage TEXT NOT NULL,
  time_of_day TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  caretaker_contact TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_schedules_owner ON schedules(owner_id);
CREATE INDEX IF NOT EXISTS idx_schedules_patient ON schedules(patient_identity);

-- ===========================================================================
-- ESCALATION STATE
-- ===========================================================================

CREATE TABLE IF NOT EXISTS dose_logs (
  id TEXT PRIMARY KEY,
  schedule_id TEXT NOT NULL,
  date_key TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('taken', 'escalated')),
  scheduled_at TEXT,
  taken_at TEXT,
  escalated_at TEXT,
  caretaker_contact TEXT NOT NULL DEFAULT '',
  caretaker_called_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  UNIQUE (schedule_id, date_key),
  FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  schedule_id TEXT NOT NULL,
  date_key TEXT NOT NULL,
  event_type TEXT NOT NULL,
  recipient_role TEXT NOT NULL,
  recipient_contact TEXT NOT NULL,
  message TEXT NOT NULL,
  provider TEXT NOT NULL DEFAULT '',
  provider_reference TEXT NOT NULL DEFAULT '',
  delivery_status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  UNIQUE (schedule_id, date_key, event_type, recipient_contact),
  FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_notifications_schedule_date ON notifications(schedule_id, date_key);

-- ===========================================================================
-- AUDIT
-- ===========================================================================

CREATE TABLE IF NOT EXISTS audit_events (
  event_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  type TEXT NOT NULL,
  level TEXT NOT NULL DEFAULT 'INFO',
  owner_id TEXT,
  schedule_id TEXT,
  message TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_owner ON audit_events(owner_id, timestamp);
`
