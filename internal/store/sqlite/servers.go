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
	"github.com/flowcore/runtime/pkg/ids"
)

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveServer(ctx context.Context, srv *store.Server) error {
	ips, err := marshalStrings(srv.IPs)
	if err != nil {
		return fmt.Errorf("flowcore: marshal server ips: %w", err)
	}
	topics, err := marshalStrings(srv.Topics)
	if err != nil {
		return fmt.Errorf("flowcore: marshal server topics: %w", err)
	}
	handlers, err := marshalStrings(srv.Handlers)
	if err != nil {
		return fmt.Errorf("flowcore: marshal server handlers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers (uuid, group_name, service_name, hostname, ips, start_time, last_ping, topics, handlers, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET
			group_name = excluded.group_name,
			service_name = excluded.service_name,
			hostname = excluded.hostname,
			ips = excluded.ips,
			last_ping = excluded.last_ping,
			topics = excluded.topics,
			handlers = excluded.handlers,
			state = excluded.state
	`,
		string(srv.UUID), nullString(srv.Group), srv.ServiceName, srv.Hostname, ips,
		formatTime(srv.StartTime), formatTime(srv.LastPing), topics, handlers, string(srv.State),
	)
	if err != nil {
		return fmt.Errorf("flowcore: save server: %w", err)
	}
	return nil
}

func (s *Store) GetServer(ctx context.Context, id ids.ServerID) (*store.Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, group_name, service_name, hostname, ips, start_time, last_ping, topics, handlers, state
		FROM servers WHERE uuid = ?
	`, string(id))

	var srv store.Server
	var group, ips, topics, handlers sql.NullString
	var startTime, lastPing string

	err := row.Scan(&srv.UUID, &group, &srv.ServiceName, &srv.Hostname, &ips, &startTime, &lastPing, &topics, &handlers, &srv.State)
	if err == sql.ErrNoRows {
		return nil, ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("server not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("flowcore: get server: %w", err)
	}
	if group.Valid {
		srv.Group = group.String
	}
	srv.IPs, err = unmarshalStrings(ips)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal server ips: %w", err)
	}
	srv.Topics, err = unmarshalStrings(topics)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal server topics: %w", err)
	}
	srv.Handlers, err = unmarshalStrings(handlers)
	if err != nil {
		return nil, fmt.Errorf("flowcore: unmarshal server handlers: %w", err)
	}
	srv.StartTime = parseTime(startTime)
	srv.LastPing = parseTime(lastPing)
	return &srv, nil
}

func (s *Store) UpdateServerPing(ctx context.Context, id ids.ServerID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE servers SET last_ping = ? WHERE uuid = ?`, formatTime(at), string(id))
	if err != nil {
		return fmt.Errorf("flowcore: update server ping: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ferrors.New(ferrors.KindStepNotFound, fmt.Sprintf("server not found: %s", id))
	}
	return nil
}
