package apikeys

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGProvider builds a ProviderFunc that reads API-key records from a
// Postgres table (api_keys) via pgx, so the registry can be refreshed from a
// durable store instead of an env/file source. It is additive: the spec's
// env/file/string load order (4.B) is unaffected when this isn't wired in.
//
// Expected schema:
//
//	CREATE TABLE api_keys (
//	    id            text PRIMARY KEY,
//	    secret_hash   text NOT NULL,
//	    algorithm     text NOT NULL DEFAULT 'sha256',
//	    scopes        text[] NOT NULL DEFAULT '{}',
//	    checksum      text,
//	    last_rotated_at timestamptz
//	);
func PGProvider(pool *pgxpool.Pool) ProviderFunc {
	return func() (string, error) {
		ctx := context.Background()
		rows, err := pool.Query(ctx, `
			SELECT id, secret_hash, algorithm, scopes, COALESCE(checksum, ''), COALESCE(last_rotated_at::text, '')
			FROM api_keys
			ORDER BY id
		`)
		if err != nil {
			return "", fmt.Errorf("query api_keys: %w", err)
		}
		defer rows.Close()

		var records []Record
		for rows.Next() {
			var rec Record
			var algo string
			if err := rows.Scan(&rec.ID, &rec.SecretHash, &algo, &rec.Scopes, &rec.Checksum, &rec.LastRotatedAt); err != nil {
				return "", fmt.Errorf("scan api_keys row: %w", err)
			}
			rec.Algorithm = Algorithm(algo)
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("iterate api_keys: %w", err)
		}

		doc := documentEnvelope{Keys: records}
		out, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("marshal api_keys source: %w", err)
		}
		return string(out), nil
	}
}
