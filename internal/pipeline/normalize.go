package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gramveda/claim-intake/internal/model"
)

const acresPerHectare = 2.47105

var titleCaser = cases.Title(language.English)

// normalize builds the candidate claim from the effective payload: trimmed
// and title-cased names, canonical dates, decimal-degree coordinates, land
// extent in hectares, and the canonical claim-type code.
func (e *Engine) normalize(job *model.Job) error {
	// Reviewer corrections are not trusted blindly: re-run the validation
	// scoring so the corrected fields earn their confidence.
	if len(job.Corrections) > 0 {
		if err := e.validate(job); err != nil {
			return err
		}
	}

	payload := job.EffectivePayload()

	cand := &model.CandidateClaim{
		ClaimNumber: strings.ToUpper(strings.TrimSpace(payload.ClaimNumber.Value)),
		RegionCode:  job.RegionCode,
		PattaHolder: titleCaser.String(strings.TrimSpace(payload.PattaHolder.Value)),
		ClaimType:   e.claimTypes.Code(payload.ClaimType.Value),
		Status:      strings.ToLower(strings.TrimSpace(payload.ClaimStatus.Value)),
	}

	if payload.LandExtent.Present() {
		if ha, err := parseExtentHectares(payload.LandExtent.Value); err == nil {
			cand.AreaHectares = ha
		}
	}

	if payload.ClaimDate.Present() {
		if d, err := parseClaimDate(payload.ClaimDate.Value); err == nil {
			cand.ClaimDate = &d
		}
	}

	// Pre-normalize the hierarchy from the payload text; geocoding replaces
	// it with the resolved gazetteer path when a match is found.
	cand.Hierarchy = model.Hierarchy{
		State:    titleCaser.String(strings.TrimSpace(payload.State.Value)),
		District: titleCaser.String(strings.TrimSpace(payload.District.Value)),
		Block:    titleCaser.String(strings.TrimSpace(payload.Block.Value)),
		Village:  titleCaser.String(strings.TrimSpace(payload.Village.Value)),
	}

	job.Candidate = cand
	job.Stage = model.StageNormalized
	return nil
}

var extentRe = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)\s*([a-zA-Z.]*)$`)

// parseExtentHectares converts a land-extent string to hectares. Bare
// numbers are taken as hectares, the unit on scanned forms when omitted.
func parseExtentHectares(s string) (float64, error) {
	m := extentRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, eris.Errorf("unparseable land extent %q", s)
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "land extent %q", s)
	}
	if value < 0 {
		return 0, eris.Errorf("negative land extent %q", s)
	}

	switch strings.ToLower(strings.TrimRight(m[2], ".")) {
	case "", "ha", "hect", "hectare", "hectares":
		return value, nil
	case "ac", "acre", "acres":
		return value / acresPerHectare, nil
	case "sqm", "sq", "sqmt", "m2":
		return value / 10000.0, nil
	default:
		return 0, eris.Errorf("unknown land extent unit %q", m[2])
	}
}

var claimDateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2 January 2006",
	"02 Jan 2006",
	"January 2, 2006",
}

// parseClaimDate parses the date formats seen on claim forms into a
// canonical UTC date.
func parseClaimDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range claimDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable claim date %q", s)
}

var (
	dmsRe = regexp.MustCompile(`(?i)([0-9]+)[°\s]\s*([0-9]+)['′\s]\s*([0-9]+(?:\.[0-9]+)?)["″]?\s*([NSEW])`)
	decRe = regexp.MustCompile(`^\s*(-?[0-9]+(?:\.[0-9]+)?)\s*[,;]\s*(-?[0-9]+(?:\.[0-9]+)?)\s*$`)
)

// parseCoordinates parses extracted coordinates, decimal "lat, lng" or a
// DMS pair, returning decimal degrees.
func parseCoordinates(s string) (lat, lng float64, err error) {
	s = strings.TrimSpace(s)

	if m := decRe.FindStringSubmatch(s); m != nil {
		lat, _ = strconv.ParseFloat(m[1], 64)
		lng, _ = strconv.ParseFloat(m[2], 64)
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return 0, 0, eris.Errorf("coordinates out of range %q", s)
		}
		return lat, lng, nil
	}

	parts := dmsRe.FindAllStringSubmatch(s, -1)
	if len(parts) == 2 {
		a, aDir, err1 := dmsToDecimal(parts[0])
		b, bDir, err2 := dmsToDecimal(parts[1])
		if err1 != nil {
			return 0, 0, err1
		}
		if err2 != nil {
			return 0, 0, err2
		}
		switch {
		case (aDir == "N" || aDir == "S") && (bDir == "E" || bDir == "W"):
			return a, b, nil
		case (aDir == "E" || aDir == "W") && (bDir == "N" || bDir == "S"):
			return b, a, nil
		}
		return 0, 0, eris.Errorf("ambiguous coordinate hemispheres %q", s)
	}

	return 0, 0, eris.Errorf("unparseable coordinates %q", s)
}

func dmsToDecimal(m []string) (float64, string, error) {
	deg, _ := strconv.ParseFloat(m[1], 64)
	min, _ := strconv.ParseFloat(m[2], 64)
	sec, _ := strconv.ParseFloat(m[3], 64)
	if min >= 60 || sec >= 60 {
		return 0, "", eris.Errorf("invalid DMS component in %q", m[0])
	}

	value := deg + min/60 + sec/3600
	dir := strings.ToUpper(m[4])
	if dir == "S" || dir == "W" {
		value = -value
	}

	limit := 90.0
	if dir == "E" || dir == "W" {
		limit = 180.0
	}
	if value < -limit || value > limit {
		return 0, "", eris.Errorf("DMS out of range in %q", m[0])
	}
	return value, dir, nil
}
