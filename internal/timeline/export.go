// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package timeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/waylog/waylog/internal/database"
	"github.com/waylog/waylog/internal/models"
)

// ImportTolerance is how far apart two capture timestamps may be and
// still refer to the same entry during import.
const ImportTolerance = time.Second

// csvHeader lists every exported column, in order.
var csvHeader = []string{
	"server_id", "latitude", "longitude", "altitude", "speed", "bearing", "accuracy",
	"captured_at", "short_address", "full_address", "place", "region", "country",
	"postal_code", "activity_label", "notes", "timezone_id",
	"app_version", "battery_level", "created_at", "enriched_at",
}

// ImportResult reports what an import run did. Malformed rows are
// recorded per row and never abort the rest of the batch.
type ImportResult struct {
	Inserted int
	Updated  int
	Errors   []RowError
}

// RowError ties an import failure to its source row.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// ExportCSV writes every timeline entry as one CSV row, oldest first.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	entries, err := s.db.AllEntries(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write(csvRecord(e)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportCSV reads rows in the ExportCSV layout. A row whose capture
// timestamp is within ImportTolerance of an existing entry updates that
// entry's user-editable fields; anything else becomes a new entry.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	res := &ImportResult{}
	for row := 2; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: row, Err: err})
			continue
		}

		entry, err := entryFromCSVRecord(record)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: row, Err: err})
			continue
		}
		if err := s.upsertImported(ctx, entry, res); err != nil {
			return res, err
		}
	}

	s.log.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("errors", len(res.Errors)).
		Msg("csv import complete")
	return res, nil
}

// geojson interchange types

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string      `json:"type"`
	Geometry   geometry    `json:"geometry"`
	Properties featureProp `json:"properties"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type featureProp struct {
	ServerID      *int64   `json:"server_id,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	Bearing       *float64 `json:"bearing,omitempty"`
	Accuracy      *float64 `json:"accuracy,omitempty"`
	CapturedAt    string   `json:"captured_at"`
	ShortAddress  *string  `json:"short_address,omitempty"`
	FullAddress   *string  `json:"full_address,omitempty"`
	Place         *string  `json:"place,omitempty"`
	Region        *string  `json:"region,omitempty"`
	Country       *string  `json:"country,omitempty"`
	PostalCode    *string  `json:"postal_code,omitempty"`
	ActivityLabel *string  `json:"activity_label,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
	TimezoneID    *string  `json:"timezone_id,omitempty"`
	AppVersion    *string  `json:"app_version,omitempty"`
	BatteryLevel  *float64 `json:"battery_level,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	EnrichedAt    *string  `json:"enriched_at,omitempty"`
}

// ExportGeoJSON writes the store as a GeoJSON FeatureCollection of
// Point features, one per entry, oldest first.
func (s *Service) ExportGeoJSON(ctx context.Context, w io.Writer) error {
	entries, err := s.db.AllEntries(ctx)
	if err != nil {
		return err
	}

	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(entries))}
	for _, e := range entries {
		fc.Features = append(fc.Features, featureFromEntry(e))
	}

	enc := json.NewEncoder(w)
	return enc.Encode(&fc)
}

// ImportGeoJSON reads a FeatureCollection in the ExportGeoJSON layout,
// with the same update-vs-insert decision as ImportCSV.
func (s *Service) ImportGeoJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	res := &ImportResult{}
	for i, f := range fc.Features {
		entry, err := entryFromFeature(&f)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: i, Err: err})
			continue
		}
		if err := s.upsertImported(ctx, entry, res); err != nil {
			return res, err
		}
	}

	s.log.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("errors", len(res.Errors)).
		Msg("geojson import complete")
	return res, nil
}

func (s *Service) upsertImported(ctx context.Context, entry *models.TimelineEntry, res *ImportResult) error {
	existing, err := s.db.FindEntryNear(ctx, entry.CapturedAt, ImportTolerance)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if err == nil {
		upd := database.EntryFieldUpdate{
			Latitude:      &entry.Position.Latitude,
			Longitude:     &entry.Position.Longitude,
			Notes:         entry.Notes,
			NotesIncluded: entry.Notes != nil,
		}
		if err := s.db.UpdateEntryFields(ctx, existing.ID, upd); err != nil {
			return err
		}
		res.Updated++
		return nil
	}
	if _, err := s.db.InsertEntry(ctx, entry); err != nil {
		return err
	}
	res.Inserted++
	return nil
}

func csvRecord(e *models.TimelineEntry) []string {
	return []string{
		intField(e.ServerID),
		strconv.FormatFloat(e.Position.Latitude, 'f', -1, 64),
		strconv.FormatFloat(e.Position.Longitude, 'f', -1, 64),
		floatField(e.Position.Altitude),
		floatField(e.Position.Speed),
		floatField(e.Position.Bearing),
		floatField(e.Position.Accuracy),
		e.CapturedAt.UTC().Format(time.RFC3339Nano),
		strField(e.ShortAddress),
		strField(e.FullAddress),
		strField(e.Place),
		strField(e.Region),
		strField(e.Country),
		strField(e.PostalCode),
		strField(e.ActivityLabel),
		strField(e.Notes),
		strField(e.TimezoneID),
		strField(e.AppVersion),
		floatField(e.BatteryLevel),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		timeField(e.EnrichedAt),
	}
}

func entryFromCSVRecord(record []string) (*models.TimelineEntry, error) {
	e := &models.TimelineEntry{}
	var err error

	if e.ServerID, err = parseIntField(record[0]); err != nil {
		return nil, fmt.Errorf("server_id: %w", err)
	}
	if e.Position.Latitude, err = strconv.ParseFloat(record[1], 64); err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	if e.Position.Longitude, err = strconv.ParseFloat(record[2], 64); err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	if e.Position.Altitude, err = parseFloatField(record[3]); err != nil {
		return nil, fmt.Errorf("altitude: %w", err)
	}
	if e.Position.Speed, err = parseFloatField(record[4]); err != nil {
		return nil, fmt.Errorf("speed: %w", err)
	}
	if e.Position.Bearing, err = parseFloatField(record[5]); err != nil {
		return nil, fmt.Errorf("bearing: %w", err)
	}
	if e.Position.Accuracy, err = parseFloatField(record[6]); err != nil {
		return nil, fmt.Errorf("accuracy: %w", err)
	}
	if e.CapturedAt, err = time.Parse(time.RFC3339Nano, record[7]); err != nil {
		return nil, fmt.Errorf("captured_at: %w", err)
	}
	e.ShortAddress = parseStrField(record[8])
	e.FullAddress = parseStrField(record[9])
	e.Place = parseStrField(record[10])
	e.Region = parseStrField(record[11])
	e.Country = parseStrField(record[12])
	e.PostalCode = parseStrField(record[13])
	e.ActivityLabel = parseStrField(record[14])
	e.Notes = parseStrField(record[15])
	e.TimezoneID = parseStrField(record[16])
	e.AppVersion = parseStrField(record[17])
	if e.BatteryLevel, err = parseFloatField(record[18]); err != nil {
		return nil, fmt.Errorf("battery_level: %w", err)
	}
	if record[19] != "" {
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, record[19]); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
	}
	if record[20] != "" {
		enrichedAt, err := time.Parse(time.RFC3339Nano, record[20])
		if err != nil {
			return nil, fmt.Errorf("enriched_at: %w", err)
		}
		e.EnrichedAt = &enrichedAt
	}
	return e, nil
}

func featureFromEntry(e *models.TimelineEntry) feature {
	coords := []float64{e.Position.Longitude, e.Position.Latitude}
	if e.Position.Altitude != nil {
		coords = append(coords, *e.Position.Altitude)
	}

	prop := featureProp{
		ServerID:      e.ServerID,
		Speed:         e.Position.Speed,
		Bearing:       e.Position.Bearing,
		Accuracy:      e.Position.Accuracy,
		CapturedAt:    e.CapturedAt.UTC().Format(time.RFC3339Nano),
		ShortAddress:  e.ShortAddress,
		FullAddress:   e.FullAddress,
		Place:         e.Place,
		Region:        e.Region,
		Country:       e.Country,
		PostalCode:    e.PostalCode,
		ActivityLabel: e.ActivityLabel,
		Notes:         e.Notes,
		TimezoneID:    e.TimezoneID,
		AppVersion:    e.AppVersion,
		BatteryLevel:  e.BatteryLevel,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.EnrichedAt != nil {
		enriched := e.EnrichedAt.UTC().Format(time.RFC3339Nano)
		prop.EnrichedAt = &enriched
	}

	return feature{
		Type:       "Feature",
		Geometry:   geometry{Type: "Point", Coordinates: coords},
		Properties: prop,
	}
}

func entryFromFeature(f *feature) (*models.TimelineEntry, error) {
	if f.Geometry.Type != "Point" {
		return nil, fmt.Errorf("unsupported geometry type %q", f.Geometry.Type)
	}
	if len(f.Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("point needs at least 2 coordinates, got %d", len(f.Geometry.Coordinates))
	}

	e := &models.TimelineEntry{
		ServerID: f.Properties.ServerID,
		Position: models.Position{
			Longitude: f.Geometry.Coordinates[0],
			Latitude:  f.Geometry.Coordinates[1],
			Speed:     f.Properties.Speed,
			Bearing:   f.Properties.Bearing,
			Accuracy:  f.Properties.Accuracy,
		},
		ShortAddress:  f.Properties.ShortAddress,
		FullAddress:   f.Properties.FullAddress,
		Place:         f.Properties.Place,
		Region:        f.Properties.Region,
		Country:       f.Properties.Country,
		PostalCode:    f.Properties.PostalCode,
		ActivityLabel: f.Properties.ActivityLabel,
		Notes:         f.Properties.Notes,
		TimezoneID:    f.Properties.TimezoneID,
		AppVersion:    f.Properties.AppVersion,
		BatteryLevel:  f.Properties.BatteryLevel,
	}
	if len(f.Geometry.Coordinates) >= 3 {
		alt := f.Geometry.Coordinates[2]
		e.Position.Altitude = &alt
	}

	var err error
	if e.CapturedAt, err = time.Parse(time.RFC3339Nano, f.Properties.CapturedAt); err != nil {
		return nil, fmt.Errorf("captured_at: %w", err)
	}
	if f.Properties.CreatedAt != "" {
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, f.Properties.CreatedAt); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
	}
	if f.Properties.EnrichedAt != nil {
		enrichedAt, err := time.Parse(time.RFC3339Nano, *f.Properties.EnrichedAt)
		if err != nil {
			return nil, fmt.Errorf("enriched_at: %w", err)
		}
		e.EnrichedAt = &enrichedAt
	}
	return e, nil
}

func strField(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseStrField(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func floatField(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func parseFloatField(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func intField(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}

func parseIntField(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &i, nil
}
