package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. The unique constraints on
// entity_id, entity_name, and fingerprint are the source of truth for
// conflict detection; application-level pre-checks in the service are an
// optimization on top.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Entities() EntityStore { return &pgEntities{db: s.db} }
func (s *PGStore) Challenges() ChallengeStore { return &pgChallenges{db: s.db} }
func (s *PGStore) Sessions() SessionStore { return &pgSessions{db: s.db} }
func (s *PGStore) RateLimits() RateLimitStore { return &pgRateLimits{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Entity store ---------------------------------------------------------------

type pgEntities struct{ db *sql.DB }

func (s *pgEntities) Create(ctx context.Context, e *Entity) error {
	row := s.db.QueryRowContext(ctx,
		`insert into entities(entity_id, entity_name, display_name, entity_type, public_key, fingerprint)
		 values($1,$2,$3,$4,$5,$6)
		 returning numeric_id, created_at`,
		e.EntityID, e.EntityName, e.DisplayName, string(e.Type), e.PublicKey, e.Fingerprint,
	)
	if err := row.Scan(&e.NumericID, &e.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entity_id, entity_name, or public key already registered", ErrAlreadyExists)
		}
		return err
	}
	return nil
}

const entityColumns = `entity_id, entity_name, display_name, entity_type, public_key, fingerprint, numeric_id, created_at`

func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	var e Entity
	var typ string
	if err := row.Scan(&e.EntityID, &e.EntityName, &e.DisplayName, &typ, &e.PublicKey, &e.Fingerprint, &e.NumericID, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Type = EntityType(typ)
	return &e, nil
}

func (s *pgEntities) Find(ctx context.Context, entityID string) (*Entity, error) {
	return scanEntity(s.db.QueryRowContext(ctx,
		`select `+entityColumns+` from entities where entity_id=$1`, entityID))
}

func (s *pgEntities) FindByFingerprint(ctx context.Context, fingerprint string) (*Entity, error) {
	return scanEntity(s.db.QueryRowContext(ctx,
		`select `+entityColumns+` from entities where fingerprint=$1`, fingerprint))
}

func (s *pgEntities) Exists(ctx context.Context, entityID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from entities where entity_id=$1)`, entityID).Scan(&exists)
	return exists, err
}

func (s *pgEntities) NameExists(ctx context.Context, entityName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from entities where entity_name=$1)`, entityName).Scan(&exists)
	return exists, err
}

func (s *pgEntities) List(ctx context.Context, typeFilter EntityType) ([]*Entity, error) {
	query := `select ` + entityColumns + ` from entities`
	args := []any{}
	if typeFilter != "" {
		query += ` where entity_type=$1`
		args = append(args, string(typeFilter))
	}
	query += ` order by numeric_id asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Challenge store ------------------------------------------------------------

type pgChallenges struct{ db *sql.DB }

func (s *pgChallenges) Put(ctx context.Context, ch *Challenge) error {
	_, err := s.db.ExecContext(ctx,
		`insert into challenges(challenge_id, raw_challenge, entity_id, public_key, expires_at)
		 values($1,$2,$3,$4,$5)`,
		ch.ID, ch.Raw, ch.EntityID, ch.PublicKey, ch.ExpiresAt,
	)
	return err
}

func (s *pgChallenges) Take(ctx context.Context, challengeID string) (*Challenge, error) {
	// delete ... returning is the single atomic step that enforces single use:
	// a concurrent Take and sweep cannot both observe the row.
	row := s.db.QueryRowContext(ctx,
		`delete from challenges where challenge_id=$1
		 returning challenge_id, raw_challenge, entity_id, public_key, expires_at`,
		challengeID,
	)
	var ch Challenge
	if err := row.Scan(&ch.ID, &ch.Raw, &ch.EntityID, &ch.PublicKey, &ch.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

func (s *pgChallenges) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from challenges where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Session store --------------------------------------------------------------

type pgSessions struct{ db *sql.DB }

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(token, entity_id, issued_at, expires_at, revoked, ip_address)
		 values($1,$2,$3,$4,false,$5)`,
		sess.Token, sess.EntityID, sess.IssuedAt, sess.ExpiresAt, sess.IPAddress,
	)
	return err
}

func (s *pgSessions) Find(ctx context.Context, token string, now time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select token, entity_id, issued_at, expires_at, revoked, ip_address
		 from sessions where token=$1 and revoked=false and expires_at > $2`,
		token, now,
	)
	var sess Session
	if err := row.Scan(&sess.Token, &sess.EntityID, &sess.IssuedAt, &sess.ExpiresAt, &sess.Revoked, &sess.IPAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *pgSessions) Revoke(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `update sessions set revoked=true where token=$1`, token)
	return err
}

func (s *pgSessions) RevokeAll(ctx context.Context, entityID string) error {
	_, err := s.db.ExecContext(ctx, `update sessions set revoked=true where entity_id=$1`, entityID)
	return err
}

func (s *pgSessions) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < $1 or revoked=true`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Rate limit store -----------------------------------------------------------

type pgRateLimits struct{ db *sql.DB }

func (s *pgRateLimits) Take(ctx context.Context, identifier string, action Action, limit int, window time.Duration, now time.Time) (*RateLimitWindow, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Try to open a fresh window first; if one already exists the row lock
	// below serializes concurrent checks so two requests cannot both observe
	// count < limit and race past it.
	res, err := tx.ExecContext(ctx,
		`insert into rate_limit_windows(identifier, action_type, request_count, window_start)
		 values($1,$2,1,$3)
		 on conflict (identifier, action_type) do nothing`,
		identifier, string(action), now,
	)
	if err != nil {
		return nil, false, err
	}
	if inserted, _ := res.RowsAffected(); inserted == 1 {
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return &RateLimitWindow{Identifier: identifier, Action: action, Count: 1, WindowStart: now}, true, nil
	}

	row := tx.QueryRowContext(ctx,
		`select request_count, window_start from rate_limit_windows
		 where identifier=$1 and action_type=$2 for update`,
		identifier, string(action),
	)
	win := RateLimitWindow{Identifier: identifier, Action: action}
	if err := row.Scan(&win.Count, &win.WindowStart); err != nil {
		return nil, false, err
	}

	allowed := true
	switch {
	case now.Sub(win.WindowStart) >= window:
		// Elapsed windows are replaced, never incremented.
		win.Count = 1
		win.WindowStart = now
		if _, err := tx.ExecContext(ctx,
			`update rate_limit_windows set request_count=1, window_start=$3
			 where identifier=$1 and action_type=$2`,
			identifier, string(action), now,
		); err != nil {
			return nil, false, err
		}
	case win.Count >= limit:
		allowed = false
	default:
		win.Count++
		if _, err := tx.ExecContext(ctx,
			`update rate_limit_windows set request_count=request_count+1
			 where identifier=$1 and action_type=$2`,
			identifier, string(action),
		); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &win, allowed, nil
}

func (s *pgRateLimits) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from rate_limit_windows where window_start < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
