// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/pkg/ferrors"
)

func marshalStringMap(m map[string]string) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStringMap(ns sql.NullString) (map[string]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveHandlerRegistration(ctx context.Context, r *store.HandlerRegistration) error {
	requirements, err := marshalStrings(r.Requirements)
	if err != nil {
		return fmt.Errorf("flowcore: marshal handler requirements: %w", err)
	}
	metadata, err := marshalStringMap(r.Metadata)
	if err != nil {
		return fmt.Errorf("flowcore: marshal handler metadata: %w", err)
	}

	var created string
	if existing, err := s.GetHandlerRegistration(ctx, r.FacetName); err == nil {
		created = formatTime(existing.Created)
	} else {
		created = formatTime(time.Now())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handler_registrations (facet_name, module_uri, entrypoint, version, checksum,
			timeout_ms, requirements, metadata, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (facet_name) DO UPDATE SET
			module_uri = excluded.module_uri,
			entrypoint = excluded.entrypoint,
			version = excluded.version,
			checksum = excluded.checksum,
			timeout_ms = excluded.timeout_ms,
			requirements = excluded.requirements,
			metadata = excluded.metadata,
			updated = excluded.updated
	`,
		r.FacetName, r.ModuleURI, r.Entrypoint, nullString(r.Version), nullString(r.Checksum),
		r.TimeoutMS, nullString(requirements), nullString(metadata), created, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("flowcore: save handler registration: %w", err)
	}
	return nil
}

func scanHandlerRegistration(row rowScanner) (*store.HandlerRegistration, error) {
	var r store.HandlerRegistration
	var version, checksum, requirements, metadata sql.NullString
	var created, updated string

	err := row.Scan(&r.FacetName, &r.ModuleURI, &r.Entrypoint, &version, &checksum,
		&r.TimeoutMS, &requirements, &metadata, &created, &updated)
	if err != nil {
		return nil, err
	}
	if version.Valid {
		r.Version = version.String
	}
	if checksum.Valid {
		r.Checksum = checksum.String
	}
	r.Requirements, err = unmarshalStrings(requirements)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal handler requirements: %w", err)
	}
	r.Metadata, err = unmarshalStringMap(metadata)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal handler metadata: %w", err)
	}
	r.Created = parseTime(created)
	r.Updated = parseTime(updated)
	return &r, nil
}

const handlerColumns = `facet_name, module_uri, entrypoint, version, checksum, timeout_ms, requirements, metadata, created, updated`

func (s *Store) GetHandlerRegistration(ctx context.Context, facetName string) (*store.HandlerRegistration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+handlerColumns+` FROM handler_registrations WHERE facet_name = ?`, facetName)
	r, err := scanHandlerRegistration(row)
	if err == sql.ErrNoRows {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("handler registration not found: %s", facetName))
	}
	if err != nil {
		return nil, fmt.Errorf("flowcore: get handler registration: %w", err)
	}
	return r, nil
}

func (s *Store) ListHandlerRegistrations(ctx context.Context) ([]*store.HandlerRegistration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+handlerColumns+` FROM handler_registrations ORDER BY facet_name`)
	if err != nil {
		return nil, fmt.Errorf("flowcore: list handler registrations: %w", err)
	}
	defer rows.Close()

	var out []*store.HandlerRegistration
	for rows.Next() {
		r, err := scanHandlerRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("flowcore: scan handler registration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteHandlerRegistration(ctx context.Context, facetName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM handler_registrations WHERE facet_name = ?`, facetName)
	if err != nil {
		return fmt.Errorf("flowcore: delete handler registration: %w", err)
	}
	return nil
}
