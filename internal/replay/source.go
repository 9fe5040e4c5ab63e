package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"driver-analytics/internal/metrics"
)

// Point is one raw trajectory row.
type Point struct {
	TrackID   int
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// Source loads a trajectory set. Rows are returned sorted by
// (track, time).
type Source interface {
	Load(ctx context.Context) ([]Point, error)
}

// CSVSource reads trajectory rows from a CSV file with a header row
// naming at least track_id, latitude, longitude and time columns. A
// malformed row is skipped with a warning; only a failure to read the
// file itself is fatal.
type CSVSource struct {
	Path string
}

// accepted timestamp layouts, most common first.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func (s *CSVSource) Load(ctx context.Context) ([]Point, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory source: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read trajectory header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var points []Point
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A CSV-level parse error on one line is a skippable row,
			// not a source failure.
			if _, ok := err.(*csv.ParseError); ok {
				metrics.RowsSkipped.Add(1)
				log.Warn().Err(err).Msg("skipping unparsable trajectory row")
				continue
			}
			return nil, fmt.Errorf("read trajectory source: %w", err)
		}

		p, perr := parsePoint(record, cols)
		if perr != nil {
			metrics.RowsSkipped.Add(1)
			log.Warn().Err(perr).Msg("skipping malformed trajectory row")
			continue
		}
		points = append(points, p)
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].TrackID != points[j].TrackID {
			return points[i].TrackID < points[j].TrackID
		}
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	return points, nil
}

type columnIndex struct {
	track, lat, lon, timeCol int
}

func mapColumns(header []string) (columnIndex, error) {
	idx := columnIndex{track: -1, lat: -1, lon: -1, timeCol: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "track_id":
			idx.track = i
		case "latitude", "lat":
			idx.lat = i
		case "longitude", "lon":
			idx.lon = i
		case "time", "timestamp":
			idx.timeCol = i
		}
	}
	if idx.track < 0 || idx.lat < 0 || idx.lon < 0 || idx.timeCol < 0 {
		return idx, fmt.Errorf("trajectory header missing required columns: %v", header)
	}
	return idx, nil
}

func parsePoint(record []string, cols columnIndex) (Point, error) {
	max := cols.track
	for _, c := range []int{cols.lat, cols.lon, cols.timeCol} {
		if c > max {
			max = c
		}
	}
	if len(record) <= max {
		return Point{}, fmt.Errorf("row has %d fields, need %d", len(record), max+1)
	}

	trackID, err := strconv.Atoi(strings.TrimSpace(record[cols.track]))
	if err != nil {
		return Point{}, fmt.Errorf("bad track_id %q: %w", record[cols.track], err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(record[cols.lat]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("bad latitude %q: %w", record[cols.lat], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(record[cols.lon]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("bad longitude %q: %w", record[cols.lon], err)
	}
	ts, err := parseTime(strings.TrimSpace(record[cols.timeCol]))
	if err != nil {
		return Point{}, err
	}

	return Point{TrackID: trackID, Latitude: lat, Longitude: lon, Timestamp: ts}, nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", raw)
}
