package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/model"
)

// registerConfidence is the fixed confidence assigned to digitized register
// cells. Registers are hand-keyed from paper, so they rank below a clean
// document extraction but above the commit bar.
const registerConfidence = 80

// RegisterOptions configures XLSX register ingestion.
type RegisterOptions struct {
	RegionCode string
	SheetName  string // if set, overrides the first sheet
	SkipRows   int    // header rows to skip after the column row
}

// registerColumns maps normalized header names to payload fields.
var registerColumns = map[string]func(*model.ExtractionPayload, model.Field){
	"claim_number": func(p *model.ExtractionPayload, f model.Field) { p.ClaimNumber = f },
	"patta_holder": func(p *model.ExtractionPayload, f model.Field) { p.PattaHolder = f },
	"holder_name":  func(p *model.ExtractionPayload, f model.Field) { p.PattaHolder = f },
	"village":      func(p *model.ExtractionPayload, f model.Field) { p.Village = f },
	"block":        func(p *model.ExtractionPayload, f model.Field) { p.Block = f },
	"district":     func(p *model.ExtractionPayload, f model.Field) { p.District = f },
	"state":        func(p *model.ExtractionPayload, f model.Field) { p.State = f },
	"land_extent":  func(p *model.ExtractionPayload, f model.Field) { p.LandExtent = f },
	"area":         func(p *model.ExtractionPayload, f model.Field) { p.LandExtent = f },
	"coordinates":  func(p *model.ExtractionPayload, f model.Field) { p.Coordinates = f },
	"claim_type":   func(p *model.ExtractionPayload, f model.Field) { p.ClaimType = f },
	"claim_status": func(p *model.ExtractionPayload, f model.Field) { p.ClaimStatus = f },
	"claim_date":   func(p *model.ExtractionPayload, f model.Field) { p.ClaimDate = f },
}

// Register ingests an XLSX claim register. The first row names the columns;
// each following row becomes one job. Rows that fail to submit are skipped
// with a warning so one bad row cannot sink a thousand-row register.
func (i *Ingestor) Register(ctx context.Context, path string, opts RegisterOptions) ([]*model.Job, error) {
	if opts.RegionCode == "" {
		return nil, eris.New("ingest: region_code is required")
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open register %s", path)
	}
	sheet, err := registerSheet(f, opts.SheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("ingest: register %s is empty", path)
	}

	setters, err := headerSetters(rowToStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}

	var jobs []*model.Job
	for n, row := range sheet.Rows[1:] {
		if n < opts.SkipRows {
			continue
		}
		if ctx.Err() != nil {
			return jobs, eris.Wrap(ctx.Err(), "ingest: register cancelled")
		}

		payload := rowPayload(rowToStrings(row), setters)
		if !payload.ClaimNumber.Present() && !payload.PattaHolder.Present() {
			continue // blank filler row
		}

		job, err := i.Submit(ctx, Request{RegionCode: opts.RegionCode, Payload: payload})
		if err != nil {
			i.logger.Warn("register row skipped",
				zap.Int("row", n+2),
				zap.Error(err),
			)
			continue
		}
		jobs = append(jobs, job)
	}

	i.logger.Info("register ingested",
		zap.String("path", path),
		zap.Int("jobs", len(jobs)),
	)
	return jobs, nil
}

func registerSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: register has no sheets")
	}
	return f.Sheets[0], nil
}

// headerSetters resolves each header cell to a payload setter by position.
// Unknown columns are ignored; a register with no usable columns is an error.
func headerSetters(header []string) ([]func(*model.ExtractionPayload, model.Field), error) {
	setters := make([]func(*model.ExtractionPayload, model.Field), len(header))
	usable := 0
	for j, h := range header {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
		if set, ok := registerColumns[key]; ok {
			setters[j] = set
			usable++
		}
	}
	if usable == 0 {
		return nil, eris.New("ingest: register header has no recognized columns")
	}
	return setters, nil
}

func rowPayload(cells []string, setters []func(*model.ExtractionPayload, model.Field)) model.ExtractionPayload {
	payload := model.ExtractionPayload{DocumentType: "register"}
	for j, cell := range cells {
		if j >= len(setters) || setters[j] == nil {
			continue
		}
		value := strings.TrimSpace(cell)
		if value == "" {
			continue
		}
		setters[j](&payload, model.Field{Value: value, Confidence: registerConfidence})
	}
	return payload
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
