//go:build cgo

package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kuzu "github.com/kuzudb/go-kuzu"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// KuzuStore archives graphs in KuzuDB. Each unit becomes a Unit node keyed
// by request and unit id; each dependency becomes a FEEDS relationship from
// the dependency to its dependent. It requires CGO because the go-kuzu
// driver wraps KuzuDB's C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

var _ Store = (*KuzuStore)(nil)

// NewKuzuStore opens an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore opens or creates a KuzuDB database at dbPath. KuzuDB
// creates the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	db, err := kuzu.OpenDatabase(path, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Unit(
		key STRING,
		request STRING,
		id STRING,
		description STRING,
		payload STRING,
		capabilities STRING,
		deadline_ms INT64,
		max_retries INT64,
		weight DOUBLE,
		position INT64,
		PRIMARY KEY(key)
	)`,
	`CREATE REL TABLE IF NOT EXISTS FEEDS(FROM Unit TO Unit)`,
}

func (s *KuzuStore) Init(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

func unitKey(requestID string, id workgraph.UnitID) string {
	return requestID + "#" + string(id)
}

func (s *KuzuStore) Save(ctx context.Context, requestID string, g *workgraph.Graph) error {
	rows, err := s.query("MATCH (u:Unit) WHERE u.request = $r RETURN count(u)", map[string]any{"r": requestID})
	if err != nil {
		return err
	}
	if len(rows) > 0 && toInt(rows[0][0]) > 0 {
		return fmt.Errorf("%w: %s", ErrExists, requestID)
	}

	for i, u := range g.Units() {
		caps, err := json.Marshal(u.RequiredCapabilities)
		if err != nil {
			return fmt.Errorf("kuzu: encode capabilities: %w", err)
		}
		retries := int64(-1)
		if u.Constraints.MaxRetries != nil {
			retries = int64(*u.Constraints.MaxRetries)
		}
		err = s.exec(`CREATE (u:Unit {
			key: $key,
			request: $r,
			id: $id,
			description: $desc,
			payload: $payload,
			capabilities: $caps,
			deadline_ms: $deadline,
			max_retries: $retries,
			weight: $weight,
			position: $pos
		})`, map[string]any{
			"key":      unitKey(requestID, u.ID),
			"r":        requestID,
			"id":       string(u.ID),
			"desc":     u.Description,
			"payload":  u.Payload,
			"caps":     string(caps),
			"deadline": u.Constraints.Deadline.Milliseconds(),
			"retries":  retries,
			"weight":   u.Weight,
			"pos":      int64(i),
		})
		if err != nil {
			return err
		}
	}
	for _, e := range g.Edges() {
		err := s.exec(`MATCH (a:Unit {key: $src}), (b:Unit {key: $dst})
			CREATE (a)-[:FEEDS]->(b)`, map[string]any{
			"src": unitKey(requestID, e.From),
			"dst": unitKey(requestID, e.To),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *KuzuStore) Load(_ context.Context, requestID string) (*workgraph.Graph, error) {
	rows, err := s.query(`MATCH (u:Unit) WHERE u.request = $r
		RETURN u.id, u.description, u.payload, u.capabilities, u.deadline_ms, u.max_retries, u.weight
		ORDER BY u.position`, map[string]any{"r": requestID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	units := make([]workgraph.Unit, len(rows))
	index := make(map[workgraph.UnitID]int, len(rows))
	for i, r := range rows {
		u := workgraph.Unit{
			ID:          workgraph.UnitID(toString(r[0])),
			Description: toString(r[1]),
			Payload:     toString(r[2]),
			Weight:      toFloat64(r[6]),
		}
		if err := json.Unmarshal([]byte(toString(r[3])), &u.RequiredCapabilities); err != nil {
			return nil, fmt.Errorf("kuzu: decode capabilities of %s: %w", u.ID, err)
		}
		u.Constraints.Deadline = time.Duration(toInt(r[4])) * time.Millisecond
		if n := toInt(r[5]); n >= 0 {
			u.Constraints.MaxRetries = workgraph.Retries(n)
		}
		units[i] = u
		index[u.ID] = i
	}

	edges, err := s.query(`MATCH (a:Unit)-[:FEEDS]->(b:Unit) WHERE a.request = $r
		RETURN a.id, b.id ORDER BY a.position`, map[string]any{"r": requestID})
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		from, to := workgraph.UnitID(toString(e[0])), workgraph.UnitID(toString(e[1]))
		i := index[to]
		units[i].DependsOn = append(units[i].DependsOn, from)
	}
	return workgraph.New(units)
}

func (s *KuzuStore) Dependents(_ context.Context, requestID string, unit workgraph.UnitID, maxDepth int) ([]workgraph.UnitID, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	key := unitKey(requestID, unit)
	found, err := s.query("MATCH (u:Unit {key: $key}) RETURN u.id", map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: unit %s in %s", ErrNotFound, unit, requestID)
	}

	// Variable-length bounds must be literals; maxDepth is an int.
	cypher := fmt.Sprintf(`MATCH (a:Unit {key: $key})-[:FEEDS*1..%d]->(b:Unit)
		RETURN DISTINCT b.id, b.position ORDER BY b.position`, maxDepth)
	rows, err := s.query(cypher, map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	var out []workgraph.UnitID
	for _, r := range rows {
		out = append(out, workgraph.UnitID(toString(r[0])))
	}
	return out, nil
}

func (s *KuzuStore) Requests(_ context.Context) ([]string, error) {
	rows, err := s.query("MATCH (u:Unit) RETURN DISTINCT u.request ORDER BY u.request", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[0]))
	}
	return out, nil
}

// exec runs a parameterized statement and discards the result.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query collects every row as a []any in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error
	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: read row: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
