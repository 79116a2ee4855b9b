package refload

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/db"
	"github.com/gramveda/claim-intake/internal/gazetteer"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/store"
)

// LoadGazetteer reads a village extract (.csv or .json) and loads it into
// the gazetteer tables. On the postgres backend, boundary-less villages go
// through a bulk COPY; everything else is upserted row by row.
func LoadGazetteer(ctx context.Context, s store.Store, path string) (int, error) {
	var (
		villages []model.Village
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		villages, err = parseVillageCSV(path)
	case ".json":
		villages, err = parseVillageJSON(path)
	default:
		return 0, eris.Errorf("refload: unsupported gazetteer format %q", filepath.Ext(path))
	}
	if err != nil {
		return 0, err
	}

	log := zap.L().With(zap.String("component", "refload"))

	loaded := 0
	if ps, ok := s.(*store.PostgresStore); ok {
		var plain, bounded []model.Village
		for _, v := range villages {
			if len(v.Boundary) == 0 {
				plain = append(plain, v)
			} else {
				bounded = append(bounded, v)
			}
		}
		n, err := bulkVillages(ctx, ps, plain)
		if err != nil {
			return loaded, err
		}
		loaded += n
		villages = bounded
	}

	for i := range villages {
		if ctx.Err() != nil {
			return loaded, eris.Wrap(ctx.Err(), "refload: gazetteer load cancelled")
		}
		if err := s.UpsertVillage(ctx, &villages[i]); err != nil {
			return loaded, eris.Wrapf(err, "refload: upsert village %q", villages[i].Name)
		}
		loaded++
	}

	log.Info("gazetteer loaded", zap.String("path", path), zap.Int("villages", loaded))
	return loaded, nil
}

// villageColumns is the COPY column list for the bulk path. Boundary is
// omitted; geometry needs the geojson cast only the upsert statement has.
var villageColumns = []string{
	"id", "name", "name_norm", "state", "district", "block", "centroid_lng", "centroid_lat",
}

func bulkVillages(ctx context.Context, ps *store.PostgresStore, villages []model.Village) (int, error) {
	if len(villages) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(villages))
	for _, v := range villages {
		id := v.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, v.Name, gazetteer.Normalize(v.Name),
			v.State, v.District, v.Block,
			v.CentroidLng, v.CentroidLat,
		})
	}

	n, err := db.CopyFrom(ctx, ps.Pool(), "villages", villageColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "refload: bulk copy villages")
	}
	return int(n), nil
}

// parseVillageCSV reads the column layout
// name,state,district,block,centroid_lat,centroid_lng[,boundary]
// where boundary, when present, is a GeoJSON geometry.
func parseVillageCSV(path string) ([]model.Village, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refload: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "refload: read csv header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"name", "centroid_lat", "centroid_lng"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("refload: csv is missing column %q", required)
		}
	}

	cell := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var villages []model.Village
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "refload: csv line %d", line)
		}

		name := cell(record, "name")
		if name == "" {
			continue
		}
		lat, err := strconv.ParseFloat(cell(record, "centroid_lat"), 64)
		if err != nil {
			return nil, eris.Errorf("refload: csv line %d: bad centroid_lat", line)
		}
		lng, err := strconv.ParseFloat(cell(record, "centroid_lng"), 64)
		if err != nil {
			return nil, eris.Errorf("refload: csv line %d: bad centroid_lng", line)
		}

		v := model.Village{
			Name:        name,
			State:       cell(record, "state"),
			District:    cell(record, "district"),
			Block:       cell(record, "block"),
			CentroidLat: lat,
			CentroidLng: lng,
		}
		if b := cell(record, "boundary"); b != "" {
			v.Boundary = json.RawMessage(b)
		}
		villages = append(villages, v)
	}
	return villages, nil
}

func parseVillageJSON(path string) ([]model.Village, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refload: read %s", path)
	}
	var villages []model.Village
	if err := json.Unmarshal(data, &villages); err != nil {
		return nil, eris.Wrapf(err, "refload: parse %s", path)
	}
	return villages, nil
}
