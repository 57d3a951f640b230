package store

import (
	"context"
	"fmt"
	"log"
)

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS courses (
    code          TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    subject_area  TEXT NOT NULL DEFAULT '',
    credit_hours  NUMERIC(5,2) NOT NULL DEFAULT 0,
    active        BOOLEAN NOT NULL DEFAULT true,
    created_at    TIMESTAMPTZ DEFAULT NOW(),
    updated_at    TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS prerequisite_rules (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_code     TEXT NOT NULL REFERENCES courses(code) ON DELETE CASCADE,
    parent_rule_id  UUID REFERENCES prerequisite_rules(id) ON DELETE CASCADE,
    logic_operator  TEXT NOT NULL DEFAULT 'AND',
    priority        INT NOT NULL DEFAULT 0,
    active          BOOLEAN NOT NULL DEFAULT true,
    created_at      TIMESTAMPTZ DEFAULT NOW(),
    updated_at      TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_prereq_rules_course ON prerequisite_rules (course_code);

CREATE TABLE IF NOT EXISTS prerequisite_requirements (
    id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    rule_id               UUID NOT NULL REFERENCES prerequisite_rules(id) ON DELETE CASCADE,
    kind                  TEXT NOT NULL,
    is_required           BOOLEAN NOT NULL DEFAULT true,
    sequence_order        INT NOT NULL DEFAULT 0,
    must_be_completed     BOOLEAN NOT NULL DEFAULT true,
    required_course_code  TEXT,
    minimum_grade         TEXT,
    subject_area          TEXT,
    minimum_credit_hours  NUMERIC(5,2),
    gpa_scope             TEXT,
    minimum_gpa           NUMERIC(4,2),
    minimum_standing      TEXT,
    permission_code       TEXT,
    test_name             TEXT,
    minimum_score         NUMERIC(7,2),
    expression            TEXT,
    active                BOOLEAN NOT NULL DEFAULT true,
    created_at            TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_prereq_reqs_rule ON prerequisite_requirements (rule_id);

CREATE TABLE IF NOT EXISTS corequisite_rules (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_code     TEXT NOT NULL REFERENCES courses(code) ON DELETE CASCADE,
    logic_operator  TEXT NOT NULL DEFAULT 'AND',
    priority        INT NOT NULL DEFAULT 0,
    active          BOOLEAN NOT NULL DEFAULT true,
    created_at      TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS corequisite_requirements (
    id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    rule_id               UUID NOT NULL REFERENCES corequisite_rules(id) ON DELETE CASCADE,
    required_course_code  TEXT NOT NULL,
    relationship          TEXT NOT NULL DEFAULT 'concurrent_required',
    failure_action        TEXT NOT NULL DEFAULT 'block',
    is_required           BOOLEAN NOT NULL DEFAULT true,
    sequence_order        INT NOT NULL DEFAULT 0,
    active                BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS enrollment_restrictions (
    id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_code        TEXT NOT NULL REFERENCES courses(code) ON DELETE CASCADE,
    kind               TEXT NOT NULL,
    enforcement_level  TEXT NOT NULL DEFAULT 'hard_block',
    priority           INT NOT NULL DEFAULT 0,
    majors             TEXT[],
    exclude            BOOLEAN NOT NULL DEFAULT false,
    minimum_standing   TEXT,
    permission_code    TEXT,
    active             BOOLEAN NOT NULL DEFAULT true,
    created_at         TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS prerequisite_overrides (
    id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id       TEXT NOT NULL,
    course_code      TEXT NOT NULL,
    term             TEXT,
    status           TEXT NOT NULL DEFAULT 'requested',
    is_active        BOOLEAN NOT NULL DEFAULT false,
    expiration_date  TIMESTAMPTZ,
    reason           TEXT NOT NULL DEFAULT '',
    requested_by     TEXT NOT NULL,
    created_at       TIMESTAMPTZ DEFAULT NOW(),
    updated_at       TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_overrides_key ON prerequisite_overrides (student_id, course_code);

CREATE TABLE IF NOT EXISTS override_approval_steps (
    id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    override_id         UUID NOT NULL REFERENCES prerequisite_overrides(id) ON DELETE CASCADE,
    sequence            INT NOT NULL,
    required_authority  TEXT NOT NULL,
    status              TEXT NOT NULL DEFAULT 'pending',
    can_delegate        BOOLEAN NOT NULL DEFAULT false,
    delegated_to        TEXT,
    acted_by            TEXT,
    acted_at            TIMESTAMPTZ,
    note                TEXT
);

CREATE TABLE IF NOT EXISTS override_rule_mappings (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    override_id     UUID NOT NULL REFERENCES prerequisite_overrides(id) ON DELETE CASCADE,
    rule_id         UUID,
    requirement_id  UUID
);

CREATE TABLE IF NOT EXISTS override_audit_entries (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    override_id  UUID NOT NULL REFERENCES prerequisite_overrides(id) ON DELETE CASCADE,
    action       TEXT NOT NULL,
    actor        TEXT NOT NULL,
    old_status   TEXT NOT NULL,
    new_status   TEXT NOT NULL,
    note         TEXT,
    created_at   TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS prerequisite_waivers (
    id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id            TEXT NOT NULL,
    course_code           TEXT NOT NULL,
    term                  TEXT,
    status                TEXT NOT NULL DEFAULT 'pending',
    is_active             BOOLEAN NOT NULL DEFAULT false,
    is_permanent          BOOLEAN NOT NULL DEFAULT false,
    student_acknowledged  BOOLEAN NOT NULL DEFAULT false,
    expiration_date       TIMESTAMPTZ,
    reason                TEXT NOT NULL DEFAULT '',
    requested_by          TEXT NOT NULL,
    approved_by           TEXT,
    approved_at           TIMESTAMPTZ,
    created_at            TIMESTAMPTZ DEFAULT NOW(),
    updated_at            TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS waiver_rule_mappings (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    waiver_id       UUID NOT NULL REFERENCES prerequisite_waivers(id) ON DELETE CASCADE,
    rule_id         UUID,
    requirement_id  UUID
);

CREATE TABLE IF NOT EXISTS validation_results (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id      TEXT NOT NULL,
    course_code     TEXT NOT NULL,
    term            TEXT NOT NULL,
    overall_status  TEXT NOT NULL,
    detail          JSONB NOT NULL DEFAULT '{}',
    is_current      BOOLEAN NOT NULL DEFAULT true,
    version         INT NOT NULL DEFAULT 1,
    validated_at    TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_validation_results_key ON validation_results (student_id, course_code, term);
CREATE UNIQUE INDEX IF NOT EXISTS idx_validation_results_current
    ON validation_results (student_id, course_code, term) WHERE is_current;

CREATE TABLE IF NOT EXISTS circular_dependency_results (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_code  TEXT NOT NULL,
    cycle_path   TEXT[] NOT NULL DEFAULT '{}',
    severity     TEXT NOT NULL,
    is_resolved  BOOLEAN NOT NULL DEFAULT false,
    detected_at  TIMESTAMPTZ DEFAULT NOW(),
    resolved_at  TIMESTAMPTZ,
    resolved_by  TEXT
);
CREATE INDEX IF NOT EXISTS idx_cycle_results_course ON circular_dependency_results (course_code);

CREATE TABLE IF NOT EXISTS _events (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    trace_id        TEXT,
    span_id         TEXT,
    parent_span_id  TEXT,
    event_type      TEXT NOT NULL,
    source          TEXT NOT NULL,
    component       TEXT NOT NULL,
    action          TEXT NOT NULL,
    entity          TEXT,
    record_id       TEXT,
    user_id         TEXT,
    duration_ms     DOUBLE PRECISION,
    status          TEXT,
    metadata        JSONB,
    created_at      TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_events_trace ON _events (trace_id);
`

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS courses (
    code          TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    subject_area  TEXT NOT NULL DEFAULT '',
    credit_hours  REAL NOT NULL DEFAULT 0,
    active        INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT DEFAULT (datetime('now')),
    updated_at    TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prerequisite_rules (
    id              TEXT PRIMARY KEY,
    course_code     TEXT NOT NULL REFERENCES courses(code) ON DELETE CASCADE,
    parent_rule_id  TEXT REFERENCES prerequisite_rules(id) ON DELETE CASCADE,
    logic_operator  TEXT NOT NULL DEFAULT 'AND',
    priority        INTEGER NOT NULL DEFAULT 0,
    active          INTEGER NOT NULL DEFAULT 1,
    created_at      TEXT DEFAULT (datetime('now')),
    updated_at      TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_prereq_rules_course ON prerequisite_rules (course_code);

CREATE TABLE IF NOT EXISTS prerequisite_requirements (
    id                    TEXT PRIMARY KEY,
    rule_id               TEXT NOT NULL REFERENCES prerequisite_rules(id) ON DELETE CASCADE,
    kind                  TEXT NOT NULL,
    is_required           INTEGER NOT NULL DEFAULT 1,
    sequence_order        INTEGER NOT NULL DEFAULT 0,
    must_be_completed     INTEGER NOT NULL DEFAULT 1,
    required_course_code  TEXT,
    minimum_grade         TEXT,
    subject_area          TEXT,
    minimum_credit_hours  REAL,
    gpa_scope             TEXT,
    minimum_gpa           REAL,
    minimum_standing      TEXT,
    permission_code       TEXT,
    test_name             TEXT,
    minimum_score         REAL,
    expression            TEXT,
    active                INTEGER NOT NULL DEFAULT 1,
    created_at            TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_prereq_reqs_rule ON prerequisite_requirements (rule_id);

CREATE TABLE IF NOT EXISTS corequisite_rules (
    id              TEXT PRIMARY KEY,
    course_code     TEXT NOT NULL REFERENCES courses(code) ON DELETE CASCADE,
    logic_operator  TEXT NOT NULL DEFAULT 'AND',
    priority        INTEGER NOT NULL DEFAULT 0,
    active          INTEGER NOT NULL DEFAULT 1,
    created_at      TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS corequisite_requirements (
    id                    TEXT PRIMARY KEY,
    rule_id               TEXT NOT NULL REFERENCES corequisite_rules(id) ON DELETE CASCADE,
    required_course_code  TEXT NOT NULL,
    relationship          TEXT NOT NULL DEFAULT 'concurrent_required',
    failure_action        TEXT NOT NULL DEFAULT 'block',
    is_required           INTEGER NOT NULL DEFAULT 1,
    sequence_order        INTEGER NOT NULL DEFAULT 0,
    active                INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS enrollment_restrictions (
    id                 TEXT PRIMARY KEY,
    course_code        TEXT NOT NULL REFERENCES courses(code) ON DELETE CASCADE,
    kind               TEXT NOT NULL,
    enforcement_level  TEXT NOT NULL DEFAULT 'hard_block',
    priority           INTEGER NOT NULL DEFAULT 0,
    majors             TEXT,
    exclude            INTEGER NOT NULL DEFAULT 0,
    minimum_standing   TEXT,
    permission_code    TEXT,
    active             INTEGER NOT NULL DEFAULT 1,
    created_at         TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prerequisite_overrides (
    id               TEXT PRIMARY KEY,
    student_id       TEXT NOT NULL,
    course_code      TEXT NOT NULL,
    term             TEXT,
    status           TEXT NOT NULL DEFAULT 'requested',
    is_active        INTEGER NOT NULL DEFAULT 0,
    expiration_date  TEXT,
    reason           TEXT NOT NULL DEFAULT '',
    requested_by     TEXT NOT NULL,
    created_at       TEXT DEFAULT (datetime('now')),
    updated_at       TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_overrides_key ON prerequisite_overrides (student_id, course_code);

CREATE TABLE IF NOT EXISTS override_approval_steps (
    id                  TEXT PRIMARY KEY,
    override_id         TEXT NOT NULL REFERENCES prerequisite_overrides(id) ON DELETE CASCADE,
    sequence            INTEGER NOT NULL,
    required_authority  TEXT NOT NULL,
    status              TEXT NOT NULL DEFAULT 'pending',
    can_delegate        INTEGER NOT NULL DEFAULT 0,
    delegated_to        TEXT,
    acted_by            TEXT,
    acted_at            TEXT,
    note                TEXT
);

CREATE TABLE IF NOT EXISTS override_rule_mappings (
    id              TEXT PRIMARY KEY,
    override_id     TEXT NOT NULL REFERENCES prerequisite_overrides(id) ON DELETE CASCADE,
    rule_id         TEXT,
    requirement_id  TEXT
);

CREATE TABLE IF NOT EXISTS override_audit_entries (
    id           TEXT PRIMARY KEY,
    override_id  TEXT NOT NULL REFERENCES prerequisite_overrides(id) ON DELETE CASCADE,
    action       TEXT NOT NULL,
    actor        TEXT NOT NULL,
    old_status   TEXT NOT NULL,
    new_status   TEXT NOT NULL,
    note         TEXT,
    created_at   TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prerequisite_waivers (
    id                    TEXT PRIMARY KEY,
    student_id            TEXT NOT NULL,
    course_code           TEXT NOT NULL,
    term                  TEXT,
    status                TEXT NOT NULL DEFAULT 'pending',
    is_active             INTEGER NOT NULL DEFAULT 0,
    is_permanent          INTEGER NOT NULL DEFAULT 0,
    student_acknowledged  INTEGER NOT NULL DEFAULT 0,
    expiration_date       TEXT,
    reason                TEXT NOT NULL DEFAULT '',
    requested_by          TEXT NOT NULL,
    approved_by           TEXT,
    approved_at           TEXT,
    created_at            TEXT DEFAULT (datetime('now')),
    updated_at            TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS waiver_rule_mappings (
    id              TEXT PRIMARY KEY,
    waiver_id       TEXT NOT NULL REFERENCES prerequisite_waivers(id) ON DELETE CASCADE,
    rule_id         TEXT,
    requirement_id  TEXT
);

CREATE TABLE IF NOT EXISTS validation_results (
    id              TEXT PRIMARY KEY,
    student_id      TEXT NOT NULL,
    course_code     TEXT NOT NULL,
    term            TEXT NOT NULL,
    overall_status  TEXT NOT NULL,
    detail          TEXT NOT NULL DEFAULT '{}',
    is_current      INTEGER NOT NULL DEFAULT 1,
    version         INTEGER NOT NULL DEFAULT 1,
    validated_at    TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_validation_results_key ON validation_results (student_id, course_code, term);
CREATE UNIQUE INDEX IF NOT EXISTS idx_validation_results_current
    ON validation_results (student_id, course_code, term) WHERE is_current = 1;

CREATE TABLE IF NOT EXISTS circular_dependency_results (
    id           TEXT PRIMARY KEY,
    course_code  TEXT NOT NULL,
    cycle_path   TEXT NOT NULL DEFAULT '[]',
    severity     TEXT NOT NULL,
    is_resolved  INTEGER NOT NULL DEFAULT 0,
    detected_at  TEXT DEFAULT (datetime('now')),
    resolved_at  TEXT,
    resolved_by  TEXT
);
CREATE INDEX IF NOT EXISTS idx_cycle_results_course ON circular_dependency_results (course_code);

CREATE TABLE IF NOT EXISTS _events (
    id              TEXT PRIMARY KEY,
    trace_id        TEXT,
    span_id         TEXT,
    parent_span_id  TEXT,
    event_type      TEXT NOT NULL,
    source          TEXT NOT NULL,
    component       TEXT NOT NULL,
    action          TEXT NOT NULL,
    entity          TEXT,
    record_id       TEXT,
    user_id         TEXT,
    duration_ms     REAL,
    status          TEXT,
    metadata        TEXT,
    created_at      TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_trace ON _events (trace_id);
`

// Bootstrap creates all engine tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("create system tables: %w", err)
	}
	log.Printf("Bootstrap complete (%s)", s.Dialect.Name())
	return nil
}
