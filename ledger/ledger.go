// Package ledger keeps a local history of synthesized stacks so a new
// synthesis can be compared with what was last submitted.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"coursechatbot/descriptor"
	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens a SQLite database at the given path and runs all pending
// migrations. Use ":memory:" for an in-memory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.ErrLedger, "open sqlite", map[string]interface{}{"dsn": dsn}, err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.New(errors.ErrLedger, "enable WAL", nil, err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, errors.New(errors.ErrLedger, "set goose dialect", nil, err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, errors.New(errors.ErrLedger, "run migrations", nil, err)
	}

	return db, nil
}

// Deployment is one recorded synthesis of a stack
type Deployment struct {
	ID              string
	Stack           string
	Variant         models.Variant
	GraphDigest     string
	BootstrapDigest string
	InstanceDigest  string
	NodeCount       int
	RecordedAt      time.Time
}

// Store persists deployments in SQLite
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// NewStore wraps an opened ledger database
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Snapshot computes the ledger entry for graph without storing it
func Snapshot(graph *models.ResourceGraph) (Deployment, error) {
	graphDigest, err := descriptor.Digest(graph)
	if err != nil {
		return Deployment{}, err
	}
	bootstrapDigest, err := descriptor.BootstrapDigest(graph)
	if err != nil {
		return Deployment{}, err
	}
	instanceDigest, err := descriptor.InstanceDigest(graph)
	if err != nil {
		return Deployment{}, err
	}
	return Deployment{
		Stack:           graph.Stack.StackName,
		Variant:         graph.Variant,
		GraphDigest:     graphDigest,
		BootstrapDigest: bootstrapDigest,
		InstanceDigest:  instanceDigest,
		NodeCount:       len(graph.Nodes),
	}, nil
}

// Record stores a snapshot of graph and returns it
func (s *Store) Record(ctx context.Context, graph *models.ResourceGraph) (Deployment, error) {
	logger := zap.L().With(
		zap.String("package", "ledger"),
		zap.String("function", "Record"),
		zap.String("stack", graph.Stack.StackName),
	)

	d, err := Snapshot(graph)
	if err != nil {
		return Deployment{}, err
	}
	d.ID = uuid.NewString()
	d.RecordedAt = s.now().UTC()

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO deployments (id, stack, variant, graph_digest, bootstrap_digest, instance_digest, node_count, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Stack, string(d.Variant), d.GraphDigest, d.BootstrapDigest, d.InstanceDigest, d.NodeCount, d.RecordedAt,
	)
	if err != nil {
		return Deployment{}, errors.New(errors.ErrLedger, "insert deployment",
			map[string]interface{}{"stack": d.Stack}, err)
	}

	logger.Info("Deployment recorded",
		zap.String("operation", "ledger_record"),
		zap.String("id", d.ID),
		zap.String("graph_digest", d.GraphDigest),
	)
	return d, nil
}

// Latest returns the most recent deployment of stack, or nil when the stack
// has never been recorded.
func (s *Store) Latest(ctx context.Context, stack string) (*Deployment, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, stack, variant, graph_digest, bootstrap_digest, instance_digest, node_count, recorded_at
		 FROM deployments WHERE stack = ?
		 ORDER BY recorded_at DESC, rowid DESC LIMIT 1`,
		stack,
	)

	var (
		d       Deployment
		variant string
	)
	err := row.Scan(&d.ID, &d.Stack, &variant, &d.GraphDigest, &d.BootstrapDigest, &d.InstanceDigest, &d.NodeCount, &d.RecordedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrLedger, "query latest deployment",
			map[string]interface{}{"stack": stack}, err)
	}
	d.Variant = models.Variant(variant)
	return &d, nil
}

// NoticeKind classifies what changed between two syntheses
type NoticeKind string

const (
	NoticeFirstDeployment NoticeKind = "first_deployment"
	NoticeUnchanged       NoticeKind = "unchanged"
	NoticeBootstrapStale  NoticeKind = "bootstrap_not_rerun"
	NoticeVariantChanged  NoticeKind = "variant_changed"
)

// Notice is an operator-facing remark about a new synthesis
type Notice struct {
	Kind    NoticeKind
	Message string
}

// Compare reports what an operator should know before applying current
// after previous. previous may be nil.
func Compare(previous *Deployment, current Deployment) []Notice {
	if previous == nil {
		return []Notice{{
			Kind:    NoticeFirstDeployment,
			Message: fmt.Sprintf("no earlier synthesis of stack %s is recorded", current.Stack),
		}}
	}
	if previous.GraphDigest == current.GraphDigest {
		return []Notice{{
			Kind:    NoticeUnchanged,
			Message: fmt.Sprintf("stack %s is unchanged since %s", current.Stack, previous.RecordedAt.Format(time.RFC3339)),
		}}
	}

	var notices []Notice
	if previous.Variant != current.Variant {
		notices = append(notices, Notice{
			Kind:    NoticeVariantChanged,
			Message: fmt.Sprintf("deployment variant changed from %s to %s", previous.Variant, current.Variant),
		})
	}
	// User data only runs at first boot and changing it does not replace
	// the instance.
	if previous.BootstrapDigest != current.BootstrapDigest && previous.InstanceDigest == current.InstanceDigest {
		notices = append(notices, Notice{
			Kind:    NoticeBootstrapStale,
			Message: "bootstrap script changed but the instance is kept; the new script will not run on the existing host",
		})
	}
	return notices
}
