package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const writeTimeout = 2 * time.Second

// ClickHouseStore is the durable audit backend. Record performs a synchronous
// single-row insert so write-before-respond holds; reads back the
// firewall_decisions table for explanations and the stream.
type ClickHouseStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseStore opens a ClickHouse connection and verifies it with a ping.
func NewClickHouseStore(dsn string, logger *zap.Logger) (*ClickHouseStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseStore: %w", err)
	}
	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it here as a
	// safety net for ClickHouse Cloud ports.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseStore: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewClickHouseStore: %w", err)
	}

	return &ClickHouseStore{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseStore) Close() {
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

const insertColumns = `
	INSERT INTO firewall_decisions (
		request_id, stage, phase, timestamp,
		action, shadow_action, reason_code,
		matched_rule_ids, rule_error_ids, rule_error_msgs,
		policy_id, policy_version, mode,
		threats, risk_score, confidence,
		user_id, backend, latency_ms, meta
	)`

// Record inserts one decision row synchronously. The gateway holds the HTTP
// response until this returns; a bounded timeout keeps an audit-store outage
// from hanging the request instead of failing it.
func (s *ClickHouseStore) Record(ctx context.Context, rec *Record) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, insertColumns)
	if err != nil {
		return fmt.Errorf("Record prepare: %w", err)
	}

	errIDs := make([]string, 0, len(rec.RuleErrors))
	for id := range rec.RuleErrors {
		errIDs = append(errIDs, id)
	}
	// Map iteration order is random; keep the two arrays aligned and stable.
	sort.Strings(errIDs)
	errMsgs := make([]string, len(errIDs))
	for i, id := range errIDs {
		errMsgs[i] = rec.RuleErrors[id]
	}

	if err := batch.Append(
		rec.RequestID,
		rec.Stage,
		string(rec.Phase),
		rec.Timestamp,
		rec.Action,
		rec.ShadowAction,
		rec.ReasonCode,
		rec.MatchedRuleIDs,
		errIDs,
		errMsgs,
		rec.PolicyID,
		rec.PolicyVersion,
		rec.Mode,
		rec.Threats,
		rec.RiskScore,
		rec.Confidence,
		rec.UserID,
		rec.Backend,
		rec.LatencyMs,
		rec.Meta,
	); err != nil {
		return fmt.Errorf("Record append: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("Record send: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT request_id, stage, phase, timestamp,
	       action, shadow_action, reason_code,
	       matched_rule_ids, rule_error_ids, rule_error_msgs,
	       policy_id, policy_version, mode,
	       threats, risk_score, confidence,
	       user_id, backend, latency_ms, meta
	FROM firewall_decisions`

// Get returns every record for a request ID, ordered by time.
func (s *ClickHouseStore) Get(ctx context.Context, requestID string) ([]Record, error) {
	rows, err := s.conn.Query(ctx,
		selectColumns+" WHERE request_id = @request_id ORDER BY timestamp",
		clickhouse.Named("request_id", requestID),
	)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListSince returns records at or after since, oldest first.
func (s *ClickHouseStore) ListSince(ctx context.Context, since time.Time, phases []Phase, policyID string, limit int) ([]Record, error) {
	conditions := []string{"timestamp >= @since"}
	args := []any{clickhouse.Named("since", since)}

	if len(phases) > 0 {
		names := make([]string, len(phases))
		for i, p := range phases {
			names[i] = string(p)
		}
		conditions = append(conditions, "phase IN @phases")
		args = append(args, clickhouse.Named("phases", names))
	}
	if policyID != "" {
		conditions = append(conditions, "policy_id = @policy_id")
		args = append(args, clickhouse.Named("policy_id", policyID))
	}
	if limit <= 0 {
		limit = 200
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY timestamp LIMIT %d",
		selectColumns, strings.Join(conditions, " AND "), limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListSince: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows driver.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec     Record
			phase   string
			errIDs  []string
			errMsgs []string
		)
		if err := rows.Scan(
			&rec.RequestID, &rec.Stage, &phase, &rec.Timestamp,
			&rec.Action, &rec.ShadowAction, &rec.ReasonCode,
			&rec.MatchedRuleIDs, &errIDs, &errMsgs,
			&rec.PolicyID, &rec.PolicyVersion, &rec.Mode,
			&rec.Threats, &rec.RiskScore, &rec.Confidence,
			&rec.UserID, &rec.Backend, &rec.LatencyMs, &rec.Meta,
		); err != nil {
			return nil, fmt.Errorf("scanRecords: %w", err)
		}
		rec.Phase = Phase(phase)
		if len(errIDs) > 0 {
			rec.RuleErrors = make(map[string]string, len(errIDs))
			for i, id := range errIDs {
				if i < len(errMsgs) {
					rec.RuleErrors[id] = errMsgs[i]
				}
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
