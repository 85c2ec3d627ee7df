// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/geo"
	"github.com/tomtom215/shadowcheck/internal/logging"
)

// DuckDBStore implements ObservationRepository and Store on DuckDB.
type DuckDBStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewDuckDBStore creates a new DuckDB-backed store.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db, now: time.Now}
}

// InitSchema creates the tables if they don't exist.
func (s *DuckDBStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS observations_id_seq`,
		`CREATE SEQUENCE IF NOT EXISTS anomaly_records_id_seq`,
		`CREATE SEQUENCE IF NOT EXISTS incidents_id_seq`,

		// Raw scanner observations
		`CREATE TABLE IF NOT EXISTS observations (
			id BIGINT PRIMARY KEY DEFAULT nextval('observations_id_seq'),
			transmitter_id TEXT NOT NULL,
			display_name TEXT,
			latitude DOUBLE,
			longitude DOUBLE,
			signal_strength INTEGER,
			frequency INTEGER,
			radio_type TEXT,
			observed_at TIMESTAMP NOT NULL,
			source_id TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS reference_locations (
			name TEXT PRIMARY KEY,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			radius_meters DOUBLE DEFAULT 0
		)`,

		// The subject's own position track
		`CREATE TABLE IF NOT EXISTS position_track (
			observed_at TIMESTAMP NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL
		)`,

		// Anomaly records. dedup_key UNIQUE backs up the check-then-insert upsert.
		`CREATE TABLE IF NOT EXISTS anomaly_records (
			id BIGINT PRIMARY KEY DEFAULT nextval('anomaly_records_id_seq'),
			dedup_key TEXT NOT NULL UNIQUE,
			detector_type TEXT NOT NULL,
			subject_transmitters TEXT NOT NULL,
			confidence_score DOUBLE NOT NULL,
			classification_label TEXT NOT NULL,
			evidence TEXT,
			span_start TIMESTAMP NOT NULL,
			span_end TIMESTAMP NOT NULL,
			elevated BOOLEAN DEFAULT false,
			run_id TEXT,
			first_detected_at TIMESTAMP NOT NULL,
			last_detected_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS incidents (
			id BIGINT PRIMARY KEY DEFAULT nextval('incidents_id_seq'),
			incident_key TEXT NOT NULL UNIQUE,
			risk_level TEXT NOT NULL,
			confidence DOUBLE NOT NULL,
			anomaly_ids TEXT NOT NULL,
			transmitter_ids TEXT NOT NULL,
			detector_types TEXT NOT NULL,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		// One row per promoted anomaly; the primary key keeps promotion append-only.
		`CREATE TABLE IF NOT EXISTS incident_anomalies (
			anomaly_id BIGINT PRIMARY KEY,
			incident_id BIGINT NOT NULL
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON observations(observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_transmitter ON observations(transmitter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_track_observed_at ON position_track(observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_detector ON anomaly_records(detector_type)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_last_detected ON anomaly_records(last_detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	// Force a checkpoint after creating tables to flush the DuckDB WAL.
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint after schema initialization")
	}

	return nil
}

// InsertObservations bulk-inserts raw observations in one transaction.
func (s *DuckDBStore) InsertObservations(ctx context.Context, obs []Observation) (err error) {
	if len(obs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer finishTx(tx, &err)

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO observations
		(transmitter_id, display_name, latitude, longitude, signal_strength, frequency, radio_type, observed_at, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare observation insert: %w", err)
	}
	defer stmt.Close()

	for i := range obs {
		o := &obs[i]
		var lat, lon sql.NullFloat64
		if o.Location != nil {
			lat = sql.NullFloat64{Float64: o.Location.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: o.Location.Lon, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx,
			o.TransmitterID,
			nullString(o.DisplayName),
			lat,
			lon,
			nullInt(o.SignalStrength),
			nullInt(o.Frequency),
			nullString(o.RadioType),
			o.ObservedAt.UTC(),
			nullString(o.SourceID),
		); err != nil {
			return fmt.Errorf("failed to insert observation %s: %w", o.TransmitterID, err)
		}
	}

	return tx.Commit()
}

// UpsertReferenceLocation creates or updates a named reference location.
func (s *DuckDBStore) UpsertReferenceLocation(ctx context.Context, ref ReferenceLocation) error {
	query := `INSERT INTO reference_locations (name, latitude, longitude, radius_meters)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			radius_meters = EXCLUDED.radius_meters`
	if _, err := s.db.ExecContext(ctx, query, ref.Name, ref.Point.Lat, ref.Point.Lon, ref.RadiusMeters); err != nil {
		return fmt.Errorf("failed to upsert reference location %s: %w", ref.Name, err)
	}
	return nil
}

// InsertPositionFixes appends fixes to the subject's track.
func (s *DuckDBStore) InsertPositionFixes(ctx context.Context, fixes []PositionFix) (err error) {
	if len(fixes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer finishTx(tx, &err)

	for _, f := range fixes {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO position_track (observed_at, latitude, longitude) VALUES (?, ?, ?)`,
			f.At.UTC(), f.Point.Lat, f.Point.Lon,
		); err != nil {
			return fmt.Errorf("failed to insert position fix: %w", err)
		}
	}

	return tx.Commit()
}

// FetchObservations returns observations with observed_at in [start, end].
func (s *DuckDBStore) FetchObservations(ctx context.Context, start, end time.Time) ([]Observation, error) {
	query := `SELECT transmitter_id, COALESCE(display_name, ''), latitude, longitude,
		signal_strength, frequency, COALESCE(radio_type, ''), observed_at, COALESCE(source_id, '')
		FROM observations
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, id`

	rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var lat, lon sql.NullFloat64
		var signal, freq sql.NullInt64
		if err := rows.Scan(&o.TransmitterID, &o.DisplayName, &lat, &lon, &signal, &freq,
			&o.RadioType, &o.ObservedAt, &o.SourceID); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if lat.Valid && lon.Valid {
			o.Location = &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
		}
		if signal.Valid {
			v := int(signal.Int64)
			o.SignalStrength = &v
		}
		if freq.Valid {
			v := int(freq.Int64)
			o.Frequency = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FetchReferenceLocations returns all reference locations ordered by name.
func (s *DuckDBStore) FetchReferenceLocations(ctx context.Context) ([]ReferenceLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, latitude, longitude, COALESCE(radius_meters, 0) FROM reference_locations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference locations: %w", err)
	}
	defer rows.Close()

	var out []ReferenceLocation
	for rows.Next() {
		var r ReferenceLocation
		if err := rows.Scan(&r.Name, &r.Point.Lat, &r.Point.Lon, &r.RadiusMeters); err != nil {
			return nil, fmt.Errorf("failed to scan reference location: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchPositionTrack returns the subject's fixes in [start, end] by time.
func (s *DuckDBStore) FetchPositionTrack(ctx context.Context, start, end time.Time) ([]PositionFix, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT observed_at, latitude, longitude FROM position_track
		WHERE observed_at >= ? AND observed_at <= ? ORDER BY observed_at`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query position track: %w", err)
	}
	defer rows.Close()

	var out []PositionFix
	for rows.Next() {
		var f PositionFix
		if err := rows.Scan(&f.At, &f.Point.Lat, &f.Point.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan position fix: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const anomalySelectColumns = `id, dedup_key, detector_type, subject_transmitters, confidence_score,
	classification_label, COALESCE(evidence, ''), span_start, span_end, elevated, COALESCE(run_id, ''),
	first_detected_at, last_detected_at`

// UpsertAnomaly inserts record or refreshes the row with the same dedup
// key inside one transaction. A unique-constraint conflict from a
// concurrent writer is retried once as an update.
func (s *DuckDBStore) UpsertAnomaly(ctx context.Context, record *AnomalyRecord) (int64, error) {
	if record.DedupKey == "" {
		return 0, ErrMissingDedupKey
	}

	id, err := s.upsertAnomalyTx(ctx, record)
	if err != nil && isUniqueConstraintError(err) {
		logging.Ctx(ctx).Debug().Str("dedup_key", record.DedupKey).Msg("Anomaly insert raced, retrying as update")
		id, err = s.upsertAnomalyTx(ctx, record)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upsert anomaly: %w", err)
	}
	return id, nil
}

func (s *DuckDBStore) upsertAnomalyTx(ctx context.Context, record *AnomalyRecord) (id int64, err error) {
	subjects, err := json.Marshal(record.SubjectTransmitters)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer finishTx(tx, &err)

	now := s.now().UTC()
	last := record.LastDetectedAt
	if last.IsZero() {
		last = now
	}

	err = tx.QueryRowContext(ctx, `SELECT id FROM anomaly_records WHERE dedup_key = ?`, record.DedupKey).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		first := record.FirstDetectedAt
		if first.IsZero() {
			first = last
		}
		// Cast JSON payloads to string; the driver rejects json.RawMessage.
		err = tx.QueryRowContext(ctx, `INSERT INTO anomaly_records
			(dedup_key, detector_type, subject_transmitters, confidence_score, classification_label,
			 evidence, span_start, span_end, elevated, run_id, first_detected_at, last_detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			record.DedupKey,
			string(record.DetectorType),
			string(subjects),
			record.ConfidenceScore,
			string(record.ClassificationLabel),
			string(record.Evidence),
			record.TimeSpan.Start.UTC(),
			record.TimeSpan.End.UTC(),
			record.Elevated,
			record.RunID,
			first.UTC(),
			last.UTC(),
		).Scan(&id)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		_, err = tx.ExecContext(ctx, `UPDATE anomaly_records SET
			confidence_score = ?, classification_label = ?, evidence = ?,
			span_start = ?, span_end = ?, elevated = ?, run_id = ?, last_detected_at = ?
			WHERE id = ?`,
			record.ConfidenceScore,
			string(record.ClassificationLabel),
			string(record.Evidence),
			record.TimeSpan.Start.UTC(),
			record.TimeSpan.End.UTC(),
			record.Elevated,
			record.RunID,
			last.UTC(),
			id,
		)
		if err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// GetAnomaly retrieves an anomaly by ID.
func (s *DuckDBStore) GetAnomaly(ctx context.Context, id int64) (*AnomalyRecord, error) {
	query := `SELECT ` + anomalySelectColumns + ` FROM anomaly_records WHERE id = ?`

	var r AnomalyRecord
	err := scanAnomalyRow(s.db.QueryRowContext(ctx, query, id), &r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}
	return &r, nil
}

// ListAnomalies retrieves anomalies with optional filtering.
// ORDER BY columns are whitelisted via validAnomalyOrderColumns.
func (s *DuckDBStore) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]AnomalyRecord, error) {
	query, args := buildAnomalyQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	out := make([]AnomalyRecord, 0)
	for rows.Next() {
		var r AnomalyRecord
		if err := scanAnomalyRow(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func buildAnomalyQuery(filter AnomalyFilter) (string, []interface{}) {
	query := `SELECT ` + anomalySelectColumns + ` FROM anomaly_records WHERE 1=1`
	args := make([]interface{}, 0)

	if len(filter.DetectorTypes) > 0 {
		query += fmt.Sprintf(" AND detector_type IN (%s)", buildPlaceholders(len(filter.DetectorTypes)))
		for _, t := range filter.DetectorTypes {
			args = append(args, string(t))
		}
	}
	if len(filter.Labels) > 0 {
		query += fmt.Sprintf(" AND classification_label IN (%s)", buildPlaceholders(len(filter.Labels)))
		for _, l := range filter.Labels {
			args = append(args, string(l))
		}
	}
	if filter.TransmitterID != "" {
		// subject_transmitters is a JSON array of normalized IDs.
		query += " AND subject_transmitters LIKE ?"
		args = append(args, `%"`+filter.TransmitterID+`"%`)
	}
	if filter.MinConfidence > 0 {
		query += " AND confidence_score >= ?"
		args = append(args, filter.MinConfidence)
	}
	if filter.Since != nil {
		query += " AND last_detected_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		query += " AND last_detected_at <= ?"
		args = append(args, filter.Until.UTC())
	}

	column, desc := resolveOrder(filter.OrderBy, filter.OrderDir)
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", column, dir)

	return applyPagination(query, args, filter.Limit, filter.Offset)
}

// validAnomalyOrderColumns is a whitelist of columns that can be used for
// ordering anomalies.
var validAnomalyOrderColumns = map[string]bool{
	"id":                true,
	"detector_type":     true,
	"confidence_score":  true,
	"span_start":        true,
	"first_detected_at": true,
	"last_detected_at":  true,
}

// resolveOrder returns a whitelisted column and whether to sort descending.
// Defaults to last_detected_at DESC.
func resolveOrder(orderBy, orderDir string) (string, bool) {
	column := "last_detected_at"
	if orderBy != "" && validAnomalyOrderColumns[orderBy] {
		column = orderBy
	}
	return column, !strings.EqualFold(orderDir, "ASC")
}

func applyPagination(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	} else {
		query += " LIMIT 100"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

// buildPlaceholders creates a comma-separated string of ? placeholders.
func buildPlaceholders(count int) string {
	if count == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

// scanAnomalyRow scans a single anomaly row.
func scanAnomalyRow(scanner interface {
	Scan(dest ...interface{}) error
}, r *AnomalyRecord) error {
	var detector, label, subjects, evidence string
	if err := scanner.Scan(
		&r.ID,
		&r.DedupKey,
		&detector,
		&subjects,
		&r.ConfidenceScore,
		&label,
		&evidence,
		&r.TimeSpan.Start,
		&r.TimeSpan.End,
		&r.Elevated,
		&r.RunID,
		&r.FirstDetectedAt,
		&r.LastDetectedAt,
	); err != nil {
		return err
	}

	r.DetectorType = DetectorType(detector)
	r.ClassificationLabel = Severity(label)
	if evidence != "" {
		r.Evidence = json.RawMessage(evidence)
	}
	if err := json.Unmarshal([]byte(subjects), &r.SubjectTransmitters); err != nil {
		return fmt.Errorf("decode subject_transmitters: %w", err)
	}
	return nil
}

// PromoteIncident creates an incident from anomalyIDs, or returns the
// existing incident holding any of them.
func (s *DuckDBStore) PromoteIncident(ctx context.Context, anomalyIDs []int64) (inc *Incident, created bool, err error) {
	if len(anomalyIDs) == 0 {
		return nil, false, ErrNoAnomalies
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer finishTx(tx, &err)

	placeholders := buildPlaceholders(len(anomalyIDs))
	args := make([]interface{}, len(anomalyIDs))
	for i, id := range anomalyIDs {
		args[i] = id
	}

	var existingID int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT incident_id FROM incident_anomalies WHERE anomaly_id IN (%s) ORDER BY incident_id LIMIT 1`, placeholders),
		args...).Scan(&existingID)
	switch {
	case err == nil:
		inc, err = getIncident(ctx, tx, existingID)
		if err != nil {
			return nil, false, err
		}
		return inc, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to check existing incident: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM anomaly_records WHERE id IN (%s)`, anomalySelectColumns, placeholders), args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load anomalies: %w", err)
	}
	var anomalies []AnomalyRecord
	for rows.Next() {
		var r AnomalyRecord
		if err = scanAnomalyRow(rows, &r); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, r)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, false, err
	}
	if len(anomalies) != len(uniqueIDs(anomalyIDs)) {
		err = fmt.Errorf("promote %v: %w", anomalyIDs, ErrNotFound)
		return nil, false, err
	}

	inc = buildIncident(anomalies, s.now())
	ids, _ := json.Marshal(inc.AnomalyIDs)
	transmitters, _ := json.Marshal(inc.TransmitterIDs)
	types, _ := json.Marshal(inc.DetectorTypes)

	err = tx.QueryRowContext(ctx, `INSERT INTO incidents
		(incident_key, risk_level, confidence, anomaly_ids, transmitter_ids, detector_types, title, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		inc.Key, string(inc.RiskLevel), inc.Confidence, string(ids), string(transmitters), string(types),
		inc.Title, inc.Summary, inc.CreatedAt,
	).Scan(&inc.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert incident: %w", err)
	}

	for _, id := range inc.AnomalyIDs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO incident_anomalies (anomaly_id, incident_id) VALUES (?, ?)`, id, inc.ID); err != nil {
			return nil, false, fmt.Errorf("failed to link anomaly %d: %w", id, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return inc, true, nil
}

const incidentSelectColumns = `id, incident_key, risk_level, confidence, anomaly_ids, transmitter_ids,
	detector_types, title, summary, created_at`

func getIncident(ctx context.Context, tx *sql.Tx, id int64) (*Incident, error) {
	var inc Incident
	err := scanIncidentRow(tx.QueryRowContext(ctx,
		`SELECT `+incidentSelectColumns+` FROM incidents WHERE id = ?`, id), &inc)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident %d: %w", id, err)
	}
	return &inc, nil
}

// ListIncidents retrieves incidents newest first.
func (s *DuckDBStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	query := `SELECT ` + incidentSelectColumns + ` FROM incidents WHERE 1=1`
	args := make([]interface{}, 0)

	if len(filter.RiskLevels) > 0 {
		query += fmt.Sprintf(" AND risk_level IN (%s)", buildPlaceholders(len(filter.RiskLevels)))
		for _, l := range filter.RiskLevels {
			args = append(args, string(l))
		}
	}
	if filter.TransmitterID != "" {
		query += " AND transmitter_ids LIKE ?"
		args = append(args, `%"`+filter.TransmitterID+`"%`)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	query += " ORDER BY created_at DESC, id DESC"
	query, args = applyPagination(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	out := make([]Incident, 0)
	for rows.Next() {
		var inc Incident
		if err := scanIncidentRow(rows, &inc); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func scanIncidentRow(scanner interface {
	Scan(dest ...interface{}) error
}, inc *Incident) error {
	var risk, ids, transmitters, types string
	if err := scanner.Scan(
		&inc.ID,
		&inc.Key,
		&risk,
		&inc.Confidence,
		&ids,
		&transmitters,
		&types,
		&inc.Title,
		&inc.Summary,
		&inc.CreatedAt,
	); err != nil {
		return err
	}
	inc.RiskLevel = Severity(risk)
	if err := json.Unmarshal([]byte(ids), &inc.AnomalyIDs); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(transmitters), &inc.TransmitterIDs); err != nil {
		return err
	}
	return json.Unmarshal([]byte(types), &inc.DetectorTypes)
}

// finishTx rolls tx back when *errp is set. Commit is left to the caller.
func finishTx(tx *sql.Tx, errp *error) {
	if *errp == nil {
		return
	}
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		logging.Error().
			Err(rbErr).
			AnErr("original_error", *errp).
			Msg("Transaction rollback failed")
	}
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// DuckDB reports these as "Constraint Error: Duplicate key ..."
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "unique constraint") || strings.Contains(errMsg, "duplicate key")
}

func uniqueIDs(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
