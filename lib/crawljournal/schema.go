package crawljournal

const Schema = `
CREATE TABLE sessions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    label         TEXT NOT NULL,
    partition_key INTEGER NOT NULL,
    sid           TEXT NOT NULL,
    started_at    INTEGER NOT NULL,
    records_added INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE steps (
    session_id  INTEGER NOT NULL REFERENCES sessions(id),
    step_index  INTEGER NOT NULL,
    status      TEXT NOT NULL,
    attempts    INTEGER NOT NULL,
    at          INTEGER NOT NULL,
    PRIMARY KEY (session_id, step_index)
);
`
