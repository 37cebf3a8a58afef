package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/orrery/kb"
	"github.com/signalsfoundry/orrery/model"
)

// System is a summary of what was loaded from JSON.
type System struct {
	Params  Params
	BodyIDs []string
	Belts   []BeltParams
}

// internal JSON shapes, kept unexported so the file format can evolve.
type systemJSON struct {
	Params paramsJSON `json:"params"`
	Bodies []bodyJSON `json:"bodies"`
	Belts  []beltJSON `json:"belts"`
}

type paramsJSON struct {
	Mu                  *float64   `json:"mu"`
	CalibrateMuFrom     string     `json:"calibrate_mu_from"`
	PrecisionDigits     int        `json:"precision_digits"`
	MaxKeplerIterations int        `json:"max_kepler_iterations"`
	Scale               *scaleJSON `json:"scale"`
}

type scaleJSON struct {
	BaseTime   *float64 `json:"base_time"`
	BaseOrbit  *float64 `json:"base_orbit"`
	BaseBody   *float64 `json:"base_body"`
	MinTime    *float64 `json:"min_time"`
	MaxTime    *float64 `json:"max_time"`
	MinDefault *float64 `json:"min_default"`
	MaxDefault *float64 `json:"max_default"`
}

type bodyJSON struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Parent           string        `json:"parent"`
	Motion           string        `json:"motion"` // "kepler" (default) | "static"
	Position         *positionJSON `json:"position"`
	Elements         *elementsJSON `json:"elements"`
	Size             float64       `json:"size"`
	DayLength        float64       `json:"day_length"`
	StartRotationDeg float64       `json:"start_rotation_deg"`
	Mu               float64       `json:"mu"`
	CalibrateMu      bool          `json:"calibrate_mu"`
}

type positionJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type elementsJSON struct {
	SemiMajorAxis     float64 `json:"semi_major_axis"`
	Eccentricity      float64 `json:"eccentricity"`
	InclinationDeg    float64 `json:"inclination_deg"`
	AscendingNodeDeg  float64 `json:"ascending_node_deg"`
	PerihelionArgDeg  float64 `json:"perihelion_arg_deg"`
	InitialAnomalyDeg float64 `json:"initial_anomaly_deg"`
	SiderealPeriod    float64 `json:"sidereal_period"`
}

type beltJSON struct {
	Name                string  `json:"name"`
	Population          int     `json:"population"`
	SemiMajorMin        float64 `json:"semi_major_min"`
	SemiMajorMax        float64 `json:"semi_major_max"`
	InclinationRangeDeg float64 `json:"inclination_range_deg"`
	EccentricityRange   float64 `json:"eccentricity_range"`
	Radius              float64 `json:"radius"`
	VertexCount         int     `json:"vertex_count"`
	MaxAttempts         int     `json:"max_attempts"`
	MinCosine           float64 `json:"min_cosine"`
	MaxCosine           float64 `json:"max_cosine"`
	Tight               bool    `json:"tight"`
}

// LoadSystem reads a JSON system description from r, adds its bodies to
// store and returns the resolved parameters and belt definitions. Angles
// in the file are degrees; everything else uses the engine units.
func LoadSystem(ctx context.Context, store *kb.KnowledgeBase, r io.Reader) (*System, error) {
	_, span := startSpan(ctx, "core.LoadSystem", "", "")
	defer span.End()

	sys, err := loadSystem(store, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("system.bodies", len(sys.BodyIDs)),
		attribute.Int("system.belts", len(sys.Belts)),
		attribute.Float64("system.mu", sys.Params.Mu),
	)
	return sys, nil
}

func loadSystem(store *kb.KnowledgeBase, r io.Reader) (*System, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadSystem: store is nil")
	}

	var payload systemJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadSystem: decode failed: %w", err)
	}

	params, err := payload.Params.resolve()
	if err != nil {
		return nil, fmt.Errorf("LoadSystem: %w", err)
	}

	defs := make([]*model.BodyDefinition, 0, len(payload.Bodies))
	for _, js := range payload.Bodies {
		def, err := js.definition()
		if err != nil {
			return nil, fmt.Errorf("LoadSystem: body %q: %w", js.ID, err)
		}
		defs = append(defs, def)
	}

	if ref := payload.Params.CalibrateMuFrom; ref != "" {
		var found *model.BodyDefinition
		for _, def := range defs {
			if def.ID == ref {
				found = def
				break
			}
		}
		if found == nil || !found.Orbits() {
			return nil, fmt.Errorf("LoadSystem: calibrate_mu_from %q: %w", ref, kb.ErrBodyNotFound)
		}
		el := found.Elements
		params.Mu = CalibrateMu(el.SemiMajorAxis, params.Scale.BaseOrbit, el.SiderealPeriod)
	}

	sys := &System{
		Params:  params,
		BodyIDs: make([]string, 0, len(defs)),
		Belts:   make([]BeltParams, 0, len(payload.Belts)),
	}
	for _, def := range defs {
		if err := store.AddBody(def); err != nil {
			return nil, fmt.Errorf("LoadSystem: %w", err)
		}
		sys.BodyIDs = append(sys.BodyIDs, def.ID)
	}
	if _, err := store.Order(); err != nil {
		return nil, fmt.Errorf("LoadSystem: %w", err)
	}

	for _, js := range payload.Belts {
		bp := js.params()
		if err := bp.Validate(); err != nil {
			return nil, fmt.Errorf("LoadSystem: belt %q: %w", js.Name, err)
		}
		sys.Belts = append(sys.Belts, bp)
	}
	return sys, nil
}

func (p paramsJSON) resolve() (Params, error) {
	params := DefaultParams()
	if p.Mu != nil {
		params.Mu = *p.Mu
	}
	if p.PrecisionDigits > 0 {
		params.PrecisionDigits = p.PrecisionDigits
	}
	if p.MaxKeplerIterations > 0 {
		params.MaxKeplerIterations = p.MaxKeplerIterations
	}
	if s := p.Scale; s != nil {
		l := &params.Scale
		override(&l.BaseTime, s.BaseTime)
		override(&l.BaseOrbit, s.BaseOrbit)
		override(&l.BaseBody, s.BaseBody)
		override(&l.MinTime, s.MinTime)
		override(&l.MaxTime, s.MaxTime)
		override(&l.MinDefault, s.MinDefault)
		override(&l.MaxDefault, s.MaxDefault)
	}
	if err := params.Scale.Validate(); err != nil {
		return params, err
	}
	if !(params.Mu > 0) || math.IsInf(params.Mu, 0) {
		return params, fmt.Errorf("mu must be positive, got %v", params.Mu)
	}
	return params, nil
}

func override(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func (js bodyJSON) definition() (*model.BodyDefinition, error) {
	if js.ID == "" {
		return nil, fmt.Errorf("%w: empty id", kb.ErrBodyInvalid)
	}
	motion, err := motionFromString(js.Motion)
	if err != nil {
		return nil, err
	}

	def := &model.BodyDefinition{
		ID:            js.ID,
		Name:          js.Name,
		ParentID:      js.Parent,
		MotionSource:  motion,
		Size:          js.Size,
		DayLength:     js.DayLength,
		StartRotation: degToRad(js.StartRotationDeg),
		Mu:            js.Mu,
		CalibrateMu:   js.CalibrateMu,
	}
	if def.Name == "" {
		def.Name = def.ID
	}
	if js.Position != nil {
		def.Position = model.Position{X: js.Position.X, Y: js.Position.Y, Z: js.Position.Z}
	}

	if motion == model.MotionSourceStatic {
		return def, nil
	}
	if js.Elements == nil {
		return nil, fmt.Errorf("%w: orbiting body has no elements", kb.ErrBodyInvalid)
	}
	def.Elements = model.OrbitalElements{
		SemiMajorAxis:  js.Elements.SemiMajorAxis,
		Eccentricity:   js.Elements.Eccentricity,
		Inclination:    degToRad(js.Elements.InclinationDeg),
		AscendingNode:  degToRad(js.Elements.AscendingNodeDeg),
		PerihelionArg:  degToRad(js.Elements.PerihelionArgDeg),
		InitialAnomaly: degToRad(js.Elements.InitialAnomalyDeg),
		SiderealPeriod: js.Elements.SiderealPeriod,
	}
	if err := def.Elements.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (js beltJSON) params() BeltParams {
	bp := DefaultBeltParams(js.Name)
	bp.Population = js.Population
	bp.SemiMajorMin = js.SemiMajorMin
	bp.SemiMajorMax = js.SemiMajorMax
	bp.InclinationRange = degToRad(js.InclinationRangeDeg)
	bp.EccentricityRange = js.EccentricityRange
	if js.Radius != 0 {
		bp.Radius = js.Radius
	}
	if js.VertexCount != 0 {
		bp.VertexCount = js.VertexCount
	}
	if js.MaxAttempts != 0 {
		bp.MaxAttempts = js.MaxAttempts
	}
	if js.Tight {
		bp = bp.Tightened()
	}
	if js.MinCosine != 0 || js.MaxCosine != 0 {
		bp.MinCosine, bp.MaxCosine = js.MinCosine, js.MaxCosine
	}
	return bp
}

func motionFromString(s string) (model.MotionSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kepler", "orbit":
		return model.MotionSourceKepler, nil
	case "static", "fixed":
		return model.MotionSourceStatic, nil
	default:
		return 0, fmt.Errorf("%w: unknown motion %q", kb.ErrBodyInvalid, s)
	}
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}
