package store

import (
	"context"
	"sort"
	"time"
)

// Register inserts this address's birth row and returns the server-assigned
// birth timestamp, per spec.md §6's registration query. The peer must
// remember this birth for the lifetime of the incarnation and reuse it on
// every subsequent check-in.
func (s *Store) Register(ctx context.Context, address string) (time.Time, error) {
	const stmt = `
		INSERT INTO schedulers (address, birth, latest)
		VALUES ($1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING birth`
	var birth time.Time
	if err := s.queryRow(ctx, stmt, address).Scan(&birth); err != nil {
		return time.Time{}, wrapTransport(err)
	}
	return birth, nil
}

// CheckIn appends a liveness row carrying the remembered birth, per
// spec.md §6's check-in query. Re-using birth preserves seniority across
// ticks.
func (s *Store) CheckIn(ctx context.Context, address string, birth time.Time) error {
	const stmt = `
		INSERT INTO schedulers (address, birth, latest)
		VALUES ($1, $2, CURRENT_TIMESTAMP)`
	return s.execute(ctx, stmt, address, birth)
}

// EvictStale deletes rows whose latest timestamp has aged past grace,
// compared against the store's own clock. grace is passed as a float count
// of seconds into make_interval rather than bound directly against
// ::interval: pgx has no interval encoder for time.Duration, and Postgres
// cannot cast its underlying int64 nanoseconds.
func (s *Store) EvictStale(ctx context.Context, grace time.Duration) error {
	const stmt = `DELETE FROM schedulers WHERE latest < CURRENT_TIMESTAMP - make_interval(secs => $1)`
	return s.execute(ctx, stmt, grace.Seconds())
}

// Leader returns the address with the minimum birth across all rows. When
// more than one address ties for the minimum birth (clock-skewed or
// simultaneous registrations), candidates are resolved lexicographically —
// the documented tie-break from spec.md §9's open question — rather than
// relying on whatever row the store happens to return first.
func (s *Store) Leader(ctx context.Context) (string, error) {
	const stmt = `
		SELECT address FROM schedulers
		WHERE birth = (SELECT MIN(birth) FROM schedulers)`
	rows, err := s.query(ctx, stmt)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return "", wrapTransport(err)
		}
		candidates = append(candidates, addr)
	}
	if err := rows.Err(); err != nil {
		return "", wrapTransport(err)
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

// ActiveSet returns the distinct set of addresses currently present in the
// table.
func (s *Store) ActiveSet(ctx context.Context) (map[string]struct{}, error) {
	const stmt = `SELECT DISTINCT address FROM schedulers`
	rows, err := s.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := make(map[string]struct{})
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, wrapTransport(err)
		}
		active[addr] = struct{}{}
	}
	return active, wrapTransport(rows.Err())
}

// AddressBirth pairs an address with one birth timestamp stored for it —
// the shape the observer's refresh operation needs to synthesize a
// leader/available sequence.
type AddressBirth struct {
	Address string
	Birth   time.Time
}

// DistinctAddressesByBirth returns one row per distinct (address, birth)
// pair ordered by birth ascending, per spec.md §6's observer-refresh query.
// An address whose rows carry more than one birth (it re-registered while
// rows from its earlier incarnation remain) appears once per birth.
func (s *Store) DistinctAddressesByBirth(ctx context.Context) ([]AddressBirth, error) {
	const stmt = `SELECT DISTINCT address, birth FROM schedulers ORDER BY birth ASC`
	rows, err := s.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AddressBirth
	for rows.Next() {
		var ab AddressBirth
		if err := rows.Scan(&ab.Address, &ab.Birth); err != nil {
			return nil, wrapTransport(err)
		}
		out = append(out, ab)
	}
	return out, wrapTransport(rows.Err())
}
